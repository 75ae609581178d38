package adaptive

import (
	"testing"
	"time"
)

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Config{})
	if c.Concurrency() != DefaultConcurrency {
		t.Fatalf("expected default concurrency %d, got %d", DefaultConcurrency, c.Concurrency())
	}
	if c.Timeout() != DefaultTimeout {
		t.Fatalf("expected default timeout %v, got %v", DefaultTimeout, c.Timeout())
	}
}

func TestInertWhenNotAdaptive(t *testing.T) {
	c := New(Config{Adaptive: false, InitialConcurrency: 50, Timeout: time.Second})
	for i := 0; i < SampleInterval; i++ {
		c.Record(false)
	}
	if c.Concurrency() != 50 {
		t.Fatalf("inert controller must not change concurrency, got %d", c.Concurrency())
	}
	if c.Timeout() != time.Second {
		t.Fatalf("inert controller must not change timeout, got %v", c.Timeout())
	}
}

func TestLowSuccessRateHalvesConcurrencyAndGrowsTimeout(t *testing.T) {
	c := New(Config{Adaptive: true, InitialConcurrency: 50, Timeout: time.Second})
	for i := 0; i < SampleInterval; i++ {
		c.Record(false)
	}
	if got := c.Concurrency(); got != 25 {
		t.Fatalf("expected concurrency halved to 25, got %d", got)
	}
	if got := c.Timeout(); got != 1500*time.Millisecond {
		t.Fatalf("expected timeout 1.5s, got %v", got)
	}
}

func TestHighSuccessRateGrowsConcurrencyAndShrinksTimeout(t *testing.T) {
	c := New(Config{Adaptive: true, InitialConcurrency: 50, Timeout: time.Second})
	for i := 0; i < SampleInterval; i++ {
		c.Record(true)
	}
	if got := c.Concurrency(); got != 75 {
		t.Fatalf("expected concurrency to grow to 75, got %d", got)
	}
	if got := c.Timeout(); got != 800*time.Millisecond {
		t.Fatalf("expected timeout 0.8s, got %v", got)
	}
}

func TestMidSuccessRateLeavesValuesUnchanged(t *testing.T) {
	c := New(Config{Adaptive: true, InitialConcurrency: 50, Timeout: time.Second})
	for i := 0; i < SampleInterval; i++ {
		c.Record(i%10 != 0) // 90% exactly: not > 0.90, so no change
	}
	if got := c.Concurrency(); got != 50 {
		t.Fatalf("expected concurrency unchanged at 50, got %d", got)
	}
	if got := c.Timeout(); got != time.Second {
		t.Fatalf("expected timeout unchanged at 1s, got %v", got)
	}
}

func TestConcurrencyNeverExceedsMax(t *testing.T) {
	c := New(Config{Adaptive: true, InitialConcurrency: 400, Timeout: time.Second, MaxConcurrency: 500})
	for i := 0; i < SampleInterval; i++ {
		c.Record(true)
	}
	if got := c.Concurrency(); got != 500 {
		t.Fatalf("expected concurrency capped at 500, got %d", got)
	}
}

func TestConcurrencyNeverBelowOne(t *testing.T) {
	c := New(Config{Adaptive: true, InitialConcurrency: 1, Timeout: time.Second})
	for i := 0; i < SampleInterval; i++ {
		c.Record(false)
	}
	if got := c.Concurrency(); got != 1 {
		t.Fatalf("expected concurrency floor at 1, got %d", got)
	}
}

func TestTimeoutNeverBelowMin(t *testing.T) {
	c := New(Config{Adaptive: true, InitialConcurrency: 50, Timeout: 600 * time.Millisecond, MinTimeout: 500 * time.Millisecond})
	for i := 0; i < SampleInterval; i++ {
		c.Record(true)
	}
	if got := c.Timeout(); got != 500*time.Millisecond {
		t.Fatalf("expected timeout floored at 500ms, got %v", got)
	}
}

func TestWindowResetsAfterEvaluation(t *testing.T) {
	c := New(Config{Adaptive: true, InitialConcurrency: 50, Timeout: time.Second})
	for i := 0; i < SampleInterval; i++ {
		c.Record(true)
	}
	snap := c.Snapshot()
	if snap.WindowAttempts != 0 || snap.WindowSuccesses != 0 {
		t.Fatalf("expected window reset after evaluation, got %+v", snap)
	}
	if len(snap.Adjustments) != 1 {
		t.Fatalf("expected exactly one recorded adjustment, got %d", len(snap.Adjustments))
	}
}

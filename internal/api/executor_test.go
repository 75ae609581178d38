package api

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconscan/reconscan/internal/cache"
	"github.com/reconscan/reconscan/internal/queue"
	"github.com/reconscan/reconscan/internal/scheduler"
	"github.com/reconscan/reconscan/internal/sink"
	"github.com/reconscan/reconscan/internal/target"
)

// refusingDialer fails every dial, standing in for a host with no
// sentinel ports open so the pre-scan gate suspends deterministically.
type refusingDialer struct{}

func (refusingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, &net.OpError{Op: "dial", Net: network, Err: errRefused{}}
}

type errRefused struct{}

func (errRefused) Error() string { return "connection refused" }

func TestExecutorRunsScanAndPersistsResult(t *testing.T) {
	sched := scheduler.New(nil)
	c := cache.New(cache.NewMemoryStore())
	sk := sink.NewMemorySink()

	executor := NewExecutor(sched, c, sk, nil, testLogger())

	msg := queue.DispatchMessage{
		TaskID: "t1",
		ScanID: "s1",
		Target: target.Target{Host: "127.0.0.1", ResolvedIP: "127.0.0.1", Classification: target.Loopback},
		Ports:  []int{},
		Config: scheduler.ScanConfig{Force: true},
	}

	record, err := executor(context.Background(), msg, func(int, string) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != scheduler.StatusCompleted {
		t.Fatalf("expected completed, got %v", record.Status)
	}

	persisted, err := sk.GetScan(context.Background(), "s1")
	if err != nil {
		t.Fatalf("expected scan to be persisted: %v", err)
	}
	if persisted.ScanID != "s1" {
		t.Fatalf("expected scan id s1, got %s", persisted.ScanID)
	}
}

func TestExecutorServesFromCacheWithoutForcingGate(t *testing.T) {
	sched := scheduler.New(nil)
	c := cache.New(cache.NewMemoryStore())
	sk := sink.NewMemorySink()

	key := cache.DeriveKey("10.0.0.5", []int{80})
	if _, err := c.Store(context.Background(), key, nil, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	executor := NewExecutor(sched, c, sk, nil, testLogger())

	msg := queue.DispatchMessage{
		TaskID: "t2",
		ScanID: "s2",
		Target: target.Target{Host: "10.0.0.5", ResolvedIP: "10.0.0.5", Classification: target.Internal},
		Ports:  []int{80},
		Config: scheduler.ScanConfig{},
	}

	var lastProgress int
	record, err := executor(context.Background(), msg, func(p int, _ string) { lastProgress = p })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != scheduler.StatusCompleted {
		t.Fatalf("expected completed from cache hit, got %v", record.Status)
	}
	if lastProgress != 100 {
		t.Fatalf("expected cache-hit progress 100, got %d", lastProgress)
	}
}

func TestExecutorFailsExternalTargetWithoutForce(t *testing.T) {
	sched := scheduler.New(nil)
	c := cache.New(cache.NewMemoryStore())
	sk := sink.NewMemorySink()

	executor := NewExecutor(sched, c, sk, refusingDialer{}, testLogger())

	msg := queue.DispatchMessage{
		TaskID: "t3",
		ScanID: "s3",
		Target: target.Target{Host: "203.0.113.10", ResolvedIP: "203.0.113.10", Classification: target.External},
		Ports:  []int{80},
		Config: scheduler.ScanConfig{},
	}

	_, err := executor(context.Background(), msg, func(int, string) {})
	if err == nil {
		t.Fatal("expected error when the pre-scan gate suspends an unforced async task")
	}
}

// slowCountingDialer counts every dial attempt and holds each one open
// briefly, widening the window for a concurrent identical request to
// join the same in-flight scan rather than starting its own.
type slowCountingDialer struct {
	dials int64
}

func (d *slowCountingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	atomic.AddInt64(&d.dials, 1)
	time.Sleep(50 * time.Millisecond)
	return nil, &net.OpError{Op: "dial", Net: network, Err: errRefused{}}
}

func TestExecutorCollapsesConcurrentIdenticalScansIntoOneProbePass(t *testing.T) {
	dialer := &slowCountingDialer{}
	sched := scheduler.New(dialer)
	c := cache.New(cache.NewMemoryStore())
	sk := sink.NewMemorySink()

	executor := NewExecutor(sched, c, sk, dialer, testLogger())

	tgt := target.Target{Host: "10.0.0.9", ResolvedIP: "10.0.0.9", Classification: target.Internal}

	var wg sync.WaitGroup
	results := make([]*scheduler.ScanRecord, 2)
	errs := make([]error, 2)

	for i, scanID := range []string{"s4a", "s4b"} {
		wg.Add(1)
		go func(i int, scanID string) {
			defer wg.Done()
			msg := queue.DispatchMessage{
				TaskID: scanID,
				ScanID: scanID,
				Target: tgt,
				Ports:  []int{80},
				Config: scheduler.ScanConfig{},
			}
			results[i], errs[i] = executor(context.Background(), msg, func(int, string) {})
		}(i, scanID)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "task %d", i)
		assert.Equalf(t, scheduler.StatusCompleted, results[i].Status, "task %d", i)
	}

	assert.EqualValues(t, 1, atomic.LoadInt64(&dialer.dials), "expected exactly one underlying probe pass")
}

// Package adaptive implements the live concurrency/timeout tuning
// controller from spec.md §4.3. The teacher caps instantaneous probe
// rate with a single fixed golang.org/x/time/rate.Limiter (wired into
// internal/scheduler, per ScanConfig.RateLimitPPS); this controller is
// new logic layered on top of that limiter, retuning worker-pool size
// and per-probe timeout from the observed success rate instead of
// holding a fixed rate.
package adaptive

import (
	"math"
	"sync"
	"time"
)

// SampleInterval is the number of attempts between adjustment
// evaluations, fixed by spec.md §4.3.
const SampleInterval = 50

// Bounds, fixed by spec.md §4.3.
const (
	DefaultConcurrency = 50
	DefaultTimeout      = time.Second
	MaxConcurrency      = 500
	MinTimeout          = 500 * time.Millisecond
)

// Adjustment records one controller decision for observability.
type Adjustment struct {
	At             time.Time
	Reason         string
	SuccessRate    float64
	OldConcurrency int
	NewConcurrency int
	OldTimeout     time.Duration
	NewTimeout     time.Duration
}

// State is a point-in-time snapshot of the controller's tunables.
type State struct {
	Concurrency     int
	Timeout         time.Duration
	WindowAttempts  int
	WindowSuccesses int
	Adjustments     []Adjustment
}

// Controller tunes concurrency and timeout from a rolling success rate.
// Safe for concurrent use: probes report outcomes from many worker
// goroutines while the scheduler reads Concurrency()/Timeout() to size
// its pool.
type Controller struct {
	mu sync.Mutex

	adaptive bool

	concurrency int
	timeout     time.Duration
	maxConc     int
	minTimeout  time.Duration

	windowAttempts  int
	windowSuccesses int
	adjustments     []Adjustment
}

// Config seeds a Controller's starting point and bounds.
type Config struct {
	Adaptive           bool
	InitialConcurrency int
	Timeout            time.Duration
	MaxConcurrency     int
	MinTimeout         time.Duration
}

// New creates a Controller. Zero-valued fields in cfg fall back to
// spec.md's defaults. When cfg.Adaptive is false the controller is
// inert: Record still accumulates for observability, but Concurrency
// and Timeout never change from their initial values.
func New(cfg Config) *Controller {
	concurrency := cfg.InitialConcurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = MaxConcurrency
	}
	minTimeout := cfg.MinTimeout
	if minTimeout <= 0 {
		minTimeout = MinTimeout
	}

	return &Controller{
		adaptive:   cfg.Adaptive,
		concurrency: concurrency,
		timeout:    timeout,
		maxConc:    maxConc,
		minTimeout: minTimeout,
	}
}

// Concurrency returns the current worker-pool size.
func (c *Controller) Concurrency() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.concurrency
}

// Timeout returns the current per-probe timeout.
func (c *Controller) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Success reports whether a probe outcome counts as a success for the
// rolling rate: any terminal state other than error, and not a bare
// timeout (i.e. Open or Closed count; Filtered and Error do not).
func Success(isOpenOrClosed bool) bool { return isOpenOrClosed }

// Record reports one probe outcome and, every SampleInterval attempts,
// evaluates the adjustment rule set from spec.md §4.3.
func (c *Controller) Record(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.windowAttempts++
	if success {
		c.windowSuccesses++
	}

	if c.windowAttempts < SampleInterval {
		return
	}

	rate := float64(c.windowSuccesses) / float64(c.windowAttempts)
	oldConc, oldTimeout := c.concurrency, c.timeout

	if c.adaptive {
		switch {
		case rate < 0.70:
			c.concurrency = maxInt(1, c.concurrency/2)
			c.timeout += 500 * time.Millisecond
		case rate > 0.90:
			c.concurrency = minInt(c.maxConc, int(math.Floor(float64(c.concurrency)*1.5)))
			c.timeout = maxDuration(c.minTimeout, c.timeout-200*time.Millisecond)
		}
	}

	if c.concurrency != oldConc || c.timeout != oldTimeout {
		reason := "stable"
		switch {
		case rate < 0.70:
			reason = "low_success_rate"
		case rate > 0.90:
			reason = "high_success_rate"
		}
		c.adjustments = append(c.adjustments, Adjustment{
			At:             time.Now(),
			Reason:         reason,
			SuccessRate:    rate,
			OldConcurrency: oldConc,
			NewConcurrency: c.concurrency,
			OldTimeout:     oldTimeout,
			NewTimeout:     c.timeout,
		})
	}

	c.windowAttempts = 0
	c.windowSuccesses = 0
}

// Snapshot returns the current AdaptiveState for observability.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	adjustments := make([]Adjustment, len(c.adjustments))
	copy(adjustments, c.adjustments)

	return State{
		Concurrency:     c.concurrency,
		Timeout:         c.timeout,
		WindowAttempts:  c.windowAttempts,
		WindowSuccesses: c.windowSuccesses,
		Adjustments:     adjustments,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// Package scheduler implements the priority-tiered scan driver from
// spec.md §4.4. It generalizes the teacher's Scanner.ScanTarget /
// scanSubnet loop (rate-limited sequential port walk) into a
// tier-ordered, dynamically-resizable worker pool driven by the
// adaptive controller.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/reconscan/reconscan/internal/adaptive"
	"github.com/reconscan/reconscan/internal/detector"
	"github.com/reconscan/reconscan/internal/events"
	"github.com/reconscan/reconscan/internal/portset"
	"github.com/reconscan/reconscan/internal/prober"
	"github.com/reconscan/reconscan/internal/target"
)

// Status is a ScanRecord's lifecycle state, per spec.md §3.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ScanConfig is the per-scan tunable set from spec.md §3.
type ScanConfig struct {
	TimeoutS                 float64
	InitialConcurrency       int
	MaxConcurrency           int
	MinTimeoutS              float64
	EnhancedServiceDetection bool
	Adaptive                 bool
	Force                    bool
	RateLimitPPS             int
}

// ScanRecord is the owning record of a single scan run, per spec.md §3.
// Scheduler.Scan is the only writer; callers receive a value copy.
type ScanRecord struct {
	ScanID      string
	Target      string
	RequestedBy string
	PortSet     []int
	Config      ScanConfig
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
	Results     []detector.PortResult
}

// Emitter receives scan progress events. Implementations adapt it onto
// SSE/WebSocket transports (internal/stream) or discard it entirely
// for headless callers.
type Emitter interface {
	Emit(events.Event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(events.Event) {}

// resizeInterval is how often the worker pool is resized to track the
// adaptive controller's current concurrency, during a tier.
const resizeInterval = 200 * time.Millisecond

// Scheduler drives one scan of a resolved target over a tiered port set.
type Scheduler struct {
	dialer prober.Dialer
}

// New creates a Scheduler that dials through the given prober.Dialer.
// A nil dialer makes real TCP connections.
func New(dialer prober.Dialer) *Scheduler {
	return &Scheduler{dialer: dialer}
}

// Scan runs the full tiered scan described in spec.md §4.4 and returns
// the completed ScanRecord. Target-resolution and pre-scan-gate
// failures (spec.md §4.1, §4.7) are handled by the caller before Scan
// is ever invoked — those produce scan_error themselves; Scan only
// ever completes a record as StatusCompleted or StatusCancelled.
func (sch *Scheduler) Scan(ctx context.Context, scanID string, tgt target.Target, ports []int, cfg ScanConfig, emit Emitter) ScanRecord {
	if emit == nil {
		emit = NopEmitter{}
	}

	record := ScanRecord{
		ScanID:    scanID,
		Target:    tgt.Host,
		PortSet:   ports,
		Config:    cfg,
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}

	emit.Emit(events.ScanStart(tgt.Host, len(ports)))

	if len(ports) == 0 {
		return sch.complete(record, emit, nil, 0, 0, 0)
	}

	controller := adaptive.New(adaptive.Config{
		Adaptive:           cfg.Adaptive,
		InitialConcurrency: cfg.InitialConcurrency,
		Timeout:            secondsToDuration(cfg.TimeoutS),
		MaxConcurrency:     cfg.MaxConcurrency,
		MinTimeout:         secondsToDuration(cfg.MinTimeoutS),
	})

	var limiter *rate.Limiter
	if cfg.RateLimitPPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPPS), cfg.RateLimitPPS)
	}

	tiers := portset.Tiers(ports)
	total := len(ports)

	var completed int64
	var openCount, closedCount, filteredCount int64
	var results []detector.PortResult
	var resultsMu sync.Mutex

	for _, tier := range portset.Ordered {
		tierPorts := tiers[tier]

		select {
		case <-ctx.Done():
			return sch.cancel(record, emit)
		default:
		}

		emit.Emit(events.TierStart(tier.String(), len(tierPorts), progressOf(completed, total)))

		tierOpen := sch.runTier(ctx, tgt.ResolvedIP, tierPorts, controller, limiter, cfg, emit, &completed, total, &openCount, &closedCount, &filteredCount, &results, &resultsMu)

		emit.Emit(events.TierComplete(tier.String(), tierOpen, progressOf(completed, total)))

		if ctx.Err() != nil {
			return sch.cancel(record, emit)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })

	return sch.complete(record, emit, results, int(openCount), int(closedCount), int(filteredCount))
}

func (sch *Scheduler) runTier(
	ctx context.Context,
	ip string,
	ports []int,
	controller *adaptive.Controller,
	limiter *rate.Limiter,
	cfg ScanConfig,
	emit Emitter,
	completed *int64,
	total int,
	openCount, closedCount, filteredCount *int64,
	results *[]detector.PortResult,
	resultsMu *sync.Mutex,
) int {
	if len(ports) == 0 {
		return 0
	}

	sem := newResizableSemaphore(controller.Concurrency())

	resizeCtx, cancelResize := context.WithCancel(ctx)
	defer cancelResize()
	go func() {
		ticker := time.NewTicker(resizeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-resizeCtx.Done():
				return
			case <-ticker.C:
				sem.resize(controller.Concurrency())
			}
		}
	}()

	var wg sync.WaitGroup
	var tierOpen int64

	for _, port := range ports {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(port int) {
			defer wg.Done()

			sem.acquire()
			defer sem.release()

			if ctx.Err() != nil {
				return
			}

			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}

			timeout := controller.Timeout()
			outcome := prober.Probe(ctx, sch.dialer, ip, port, timeout)

			success := outcome.State == prober.Open || outcome.State == prober.Closed
			controller.Record(success)
			atomic.AddInt64(completed, 1)

			switch outcome.State {
			case prober.Open:
				atomic.AddInt64(openCount, 1)
				atomic.AddInt64(&tierOpen, 1)

				pr := detector.Detect(ctx, sch.dialer, ip, port, detector.Config{Enhanced: cfg.EnhancedServiceDetection})
				pr.Port = port

				resultsMu.Lock()
				*results = append(*results, pr)
				resultsMu.Unlock()

				emit.Emit(events.OpenPort(pr, progressOf(atomic.LoadInt64(completed), total)))
			case prober.Closed:
				atomic.AddInt64(closedCount, 1)
			default:
				atomic.AddInt64(filteredCount, 1)
			}
		}(port)
	}

	wg.Wait()

	return int(tierOpen)
}

func (sch *Scheduler) complete(record ScanRecord, emit Emitter, results []detector.PortResult, open, closed, filtered int) ScanRecord {
	now := time.Now()
	record.Status = StatusCompleted
	record.CompletedAt = &now
	record.Results = results

	emit.Emit(events.ScanComplete(open, closed, filtered))

	return record
}

func (sch *Scheduler) cancel(record ScanRecord, emit Emitter) ScanRecord {
	now := time.Now()
	record.Status = StatusCancelled
	record.CompletedAt = &now

	emit.Emit(events.ScanError("scan cancelled"))

	return record
}

func progressOf(completed int64, total int) int {
	if total == 0 {
		return 100
	}
	return int(100 * completed / int64(total))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reconscan/reconscan/internal/cache"
	"github.com/reconscan/reconscan/internal/detector"
	"github.com/reconscan/reconscan/internal/events"
	"github.com/reconscan/reconscan/internal/prober"
	"github.com/reconscan/reconscan/internal/queue"
	"github.com/reconscan/reconscan/internal/scheduler"
	"github.com/reconscan/reconscan/internal/sink"
	"github.com/reconscan/reconscan/internal/stream"
)

// errGateConsentRequired is returned when an async task hits the
// pre-scan gate without force=true: there is no live control channel
// to solicit consent on, so the task fails outright rather than hang.
var errGateConsentRequired = errors.New("target requires force=true to bypass the pre-scan gate")

// NewExecutor builds the queue.Executor that drives the async POST
// /api/scan path end-to-end: the cache's single-flight lookup (hit,
// coalesced, or genuine miss), pre-scan gate, scheduled scan,
// persistence, and cache store — the same pipeline the streaming
// handlers run, minus the live event transport.
func NewExecutor(sched *scheduler.Scheduler, c *cache.Cache, sk sink.Sink, dialer prober.Dialer, logger *zap.SugaredLogger) queue.Executor {
	return func(ctx context.Context, msg queue.DispatchMessage, onProgress queue.ProgressFunc) (*scheduler.ScanRecord, error) {
		key := cache.DeriveKey(msg.Target.Host, msg.Ports)
		ttl := cache.TTLFor(msg.Target.Classification)

		var ranRecord *scheduler.ScanRecord
		scanFunc := func(ctx context.Context) ([]detector.PortResult, error) {
			gateLog := gateWarningLogger{logger: logger, target: msg.Target.Host}
			if !stream.Gate(ctx, dialer, msg.Target, msg.Config.Force, gateLog) {
				return nil, errGateConsentRequired
			}

			emit := progressEmitter{onProgress: onProgress}
			record := sched.Scan(ctx, msg.ScanID, msg.Target, msg.Ports, msg.Config, emit)

			if err := sk.SaveScan(ctx, record); err != nil {
				logger.Warnw("failed to persist scan", "scan_id", record.ScanID, "error", err)
			}
			if err := sk.SaveResults(ctx, record.ScanID, record); err != nil {
				logger.Warnw("failed to persist scan results", "scan_id", record.ScanID, "error", err)
			}

			if record.Status == scheduler.StatusFailed {
				return nil, fmt.Errorf("scan %s failed", record.ScanID)
			}
			ranRecord = &record
			return record.Results, nil
		}

		if msg.Config.Force {
			// Forced scans bypass the cache entirely, including de-duplication.
			results, err := scanFunc(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := c.Store(ctx, key, results, ttl); err != nil {
				logger.Warnw("failed to store cache entry", "scan_id", msg.ScanID, "error", err)
			}
			return ranRecord, nil
		}

		entry, cached, err := c.GetOrScan(ctx, key, ttl, scanFunc)
		if err != nil {
			return nil, err
		}

		if cached {
			onProgress(100, "cache hit")
			return recordFromCacheHit(ctx, msg, entry.Results, entry.StoredAt, sk), nil
		}
		if ranRecord != nil {
			return ranRecord, nil
		}

		// Coalesced onto another task's in-flight scan for the same key:
		// this task's own scanFunc never ran, so synthesize its record
		// from the shared result the way a genuine cache hit would.
		onProgress(100, "scan completed by a concurrent identical task")
		return recordFromCacheHit(ctx, msg, entry.Results, entry.StoredAt, sk), nil
	}
}

func recordFromCacheHit(ctx context.Context, msg queue.DispatchMessage, results []detector.PortResult, storedAt time.Time, sk sink.Sink) *scheduler.ScanRecord {
	now := time.Now()
	record := &scheduler.ScanRecord{
		ScanID:      msg.ScanID,
		Target:      msg.Target.Host,
		PortSet:     msg.Ports,
		Config:      msg.Config,
		Status:      scheduler.StatusCompleted,
		CreatedAt:   storedAt,
		CompletedAt: &now,
		Results:     results,
	}
	_ = sk.SaveScan(ctx, *record)
	_ = sk.SaveResults(ctx, record.ScanID, *record)
	return record
}

// progressEmitter adapts the scheduler's event stream onto the queue's
// coarser (progress, message) pair for tasks with no live transport.
type progressEmitter struct {
	onProgress queue.ProgressFunc
}

func (p progressEmitter) Emit(e events.Event) {
	switch e.Kind {
	case events.KindTierStart:
		p.onProgress(e.Progress, fmt.Sprintf("tier %s started", e.Priority))
	case events.KindOpenPort:
		p.onProgress(e.Progress, "open port found")
	case events.KindTierComplete:
		p.onProgress(e.Progress, fmt.Sprintf("tier %s complete", e.Priority))
	case events.KindScanComplete:
		p.onProgress(100, "scan complete")
	case events.KindScanError:
		p.onProgress(e.Progress, e.Message)
	}
}

// gateWarningLogger discards pre_scan_warning by logging it instead of
// forwarding to a client — async tasks have no stream to forward to.
type gateWarningLogger struct {
	logger *zap.SugaredLogger
	target string
}

func (g gateWarningLogger) Emit(e events.Event) {
	if e.Kind == events.KindPreScanWarning {
		g.logger.Warnw("pre-scan gate triggered for async task without force=true", "target", g.target)
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reconscan/reconscan/internal/cache"
	"github.com/reconscan/reconscan/internal/detector"
	"github.com/reconscan/reconscan/internal/events"
	"github.com/reconscan/reconscan/internal/metrics"
	"github.com/reconscan/reconscan/internal/portset"
	"github.com/reconscan/reconscan/internal/queue"
	"github.com/reconscan/reconscan/internal/scheduler"
	"github.com/reconscan/reconscan/internal/sink"
	"github.com/reconscan/reconscan/internal/stream"
	"github.com/reconscan/reconscan/internal/target"
)

// streamScanHandler serves GET /api/stream/scan/:target over SSE: a
// cache hit replays stored results as a burst of events, a miss runs
// the gate then a live scheduled scan.
func (s *Server) streamScanHandler(c *gin.Context) {
	tgt, ports, cfg, ok := s.prepareScan(c)
	if !ok {
		return
	}

	b := stream.NewBroadcaster()
	go s.runStreamedScan(c.Request.Context(), b, newID(), tgt, ports, cfg, nil)

	stream.ServeSSE(c, b)
}

// wsScanHandler serves GET /api/ws/scan/:target over WebSocket. If the
// pre-scan gate suspends the scan, it waits on the control channel for
// a `{command:"resume", force:true, consent:true}` frame before
// proceeding, rather than failing outright as the async path does.
func (s *Server) wsScanHandler(c *gin.Context) {
	tgt, ports, cfg, ok := s.prepareScan(c)
	if !ok {
		return
	}

	scanID := newID()
	b := stream.NewBroadcaster()
	run := func(ctx context.Context, control <-chan stream.ControlMessage) {
		s.runStreamedScan(ctx, b, scanID, tgt, ports, cfg, control)
	}

	stream.ServeWS(c, b, run)
}

// prepareScan resolves and validates the common request shape shared
// by the streaming handlers, writing an error response and returning
// ok=false on any failure.
func (s *Server) prepareScan(c *gin.Context) (target.Target, []int, scheduler.ScanConfig, bool) {
	host := c.Param("target")
	ports, err := portset.Parse(c.DefaultQuery("ports", "1-1024"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_ports", err.Error())
		return target.Target{}, nil, scheduler.ScanConfig{}, false
	}

	tgt, err := s.resolver.Resolve(c.Request.Context(), host)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_target", err.Error())
		return target.Target{}, nil, scheduler.ScanConfig{}, false
	}

	force := parseBoolQuery(c.Query("force"), false)
	enhanced := parseBoolQuery(c.Query("enhanced_service_detection"), s.cfg.EnhancedServiceDetection)
	cfg := buildScanConfig(s.cfg, nil, force)
	cfg.EnhancedServiceDetection = enhanced

	return tgt, ports, cfg, true
}

// runStreamedScan drives one scan end-to-end against a live broadcaster:
// the cache's single-flight lookup (replaying a hit, or coalescing onto
// an in-flight scan for the same key), the pre-scan gate (suspending on
// control until a resume frame arrives when control is non-nil), the
// scheduled scan itself, and persistence. It always closes b before
// returning.
func (s *Server) runStreamedScan(ctx context.Context, b *stream.Broadcaster, scanID string, tgt target.Target, ports []int, cfg scheduler.ScanConfig, control <-chan stream.ControlMessage) {
	defer b.Close()

	key := cache.DeriveKey(tgt.Host, ports)
	ttl := cache.TTLFor(tgt.Classification)

	ranScan := false
	scanFunc := func(ctx context.Context) ([]detector.PortResult, error) {
		ranScan = true

		force := cfg.Force
		for !stream.Gate(ctx, s.dialer, tgt, force, b) {
			if control == nil {
				return nil, errGateConsentRequired
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case msg, ok := <-control:
				if !ok {
					return nil, errGateConsentRequired
				}
				if msg.Command == "resume" && msg.Force && msg.Consent {
					force = true
				}
			}
		}

		metrics.ActiveScans.Inc()
		record := s.scheduler.Scan(ctx, scanID, tgt, ports, cfg, b)
		metrics.ActiveScans.Dec()

		if err := s.sink.SaveScan(ctx, record); err != nil {
			s.logger.Warnw("failed to persist scan", "scan_id", scanID, "error", err)
		}
		if err := s.sink.SaveResults(ctx, scanID, record); err != nil {
			s.logger.Warnw("failed to persist scan results", "scan_id", scanID, "error", err)
		}

		if record.Status == scheduler.StatusFailed {
			return nil, fmt.Errorf("scan %s failed", scanID)
		}
		return record.Results, nil
	}

	if cfg.Force {
		// Forced scans bypass the cache entirely, including de-duplication.
		results, err := scanFunc(ctx)
		if err != nil {
			b.Emit(events.ScanError(err.Error()))
			return
		}
		if _, err := s.cache.Store(ctx, key, results, ttl); err != nil {
			s.logger.Warnw("failed to store cache entry", "scan_id", scanID, "error", err)
		}
		return
	}

	entry, cached, err := s.cache.GetOrScan(ctx, key, ttl, scanFunc)
	if err != nil {
		b.Emit(events.ScanError(err.Error()))
		return
	}

	if cached {
		metrics.CacheHitsTotal.Inc()
	} else {
		metrics.CacheMissesTotal.Inc()
	}

	// A cache hit never received live events on its own broadcaster;
	// neither did a request that coalesced onto another in-flight scan
	// for the same key (it shares the result, not the leader's events).
	// Both replay the shared result instead — the coalesced case is
	// marked fresh, since the underlying scan just completed.
	switch {
	case cached:
		replayCached(b, entry, cache.FreshnessCached)
	case !ranScan:
		replayCached(b, entry, cache.FreshnessFresh)
	}
}

// replayCached emits a synthetic per-port open_port event for every
// stored result, followed by a scan_complete event carrying the given
// freshness marker — a literal replay of the result slice rather than a
// summarized response.
func replayCached(b *stream.Broadcaster, entry cache.Entry, freshness string) {
	total := len(entry.Results)
	for i, pr := range entry.Results {
		progress := 100
		if total > 0 {
			progress = 100 * (i + 1) / total
		}
		e := events.WithFreshness(events.OpenPort(pr, progress), freshness, entry.StoredAt)
		b.Emit(e)
	}
	e := events.WithFreshness(events.ScanComplete(total, 0, 0), freshness, entry.StoredAt)
	b.Emit(e)
}

// enqueueScanHandler serves POST /api/scan: submits the scan to the
// async queue and returns its task_id immediately.
func (s *Server) enqueueScanHandler(c *gin.Context) {
	var req EnqueueScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ports, err := portset.Parse(req.Ports)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_ports", err.Error())
		return
	}

	tgt, err := s.resolver.Resolve(c.Request.Context(), req.Target)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_target", err.Error())
		return
	}

	cfg := buildScanConfig(s.cfg, req.Config, req.Force)
	scanID := newID()

	taskID, err := s.queueMgr.Submit(c.Request.Context(), scanID, tgt, ports, cfg)
	if err != nil {
		errorResponse(c, http.StatusServiceUnavailable, "queue_unavailable", err.Error())
		return
	}

	c.JSON(http.StatusOK, EnqueueScanResponse{TaskID: taskID, ScanID: scanID, Status: string(queue.StateQueued)})
}

// pollTaskHandler serves GET /api/scan/:task_id: the task's current
// state-machine snapshot.
func (s *Server) pollTaskHandler(c *gin.Context) {
	taskID := c.Param("task_id")

	task, ok := s.queueMgr.Poll(taskID)
	if !ok {
		errorResponse(c, http.StatusNotFound, "not_found", "no such task")
		return
	}

	resp := PollTaskResponse{
		State:    string(task.State),
		Progress: task.Progress,
		Message:  task.Message,
		Error:    task.Error,
	}
	if task.Result != nil {
		v := viewOf(*task.Result)
		resp.Result = &v
	}

	c.JSON(http.StatusOK, resp)
}

// listScansHandler serves GET /api/scans: the requester's recent scan
// history, newest first.
func (s *Server) listScansHandler(c *gin.Context) {
	requestedBy := c.Query("requested_by")
	limit := 50

	records, err := s.sink.ListScans(c.Request.Context(), requestedBy, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "sink_error", err.Error())
		return
	}

	history := make([]ScanHistoryEntry, 0, len(records))
	for _, r := range records {
		history = append(history, ScanHistoryEntry{
			ID:        r.ScanID,
			Timestamp: r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Target:    r.Target,
			Status:    string(r.Status),
			OpenPorts: len(r.Results),
		})
	}

	c.JSON(http.StatusOK, history)
}

// cacheStatsHandler serves GET /api/cache/stats.
func (s *Server) cacheStatsHandler(c *gin.Context) {
	stats := s.cache.Stats()
	c.JSON(http.StatusOK, CacheStatsResponse{
		Hits:    stats.Hits,
		Misses:  stats.Misses,
		HitRate: stats.HitRate,
		Stored:  stats.Stores,
	})
}

var errScanNotFound = errors.New("scan not found")

// getScanHandler serves GET /api/scans/:scan_id, fetching a
// persisted scan by id directly from the sink (not the task queue).
func (s *Server) getScanHandler(c *gin.Context) {
	scanID := c.Param("scan_id")

	record, err := s.sink.GetScan(c.Request.Context(), scanID)
	if err != nil {
		if errors.Is(err, sink.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "not_found", errScanNotFound.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "sink_error", err.Error())
		return
	}

	c.JSON(http.StatusOK, viewOf(record))
}

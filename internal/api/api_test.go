package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/reconscan/reconscan/internal/cache"
	"github.com/reconscan/reconscan/internal/config"
	"github.com/reconscan/reconscan/internal/queue"
	"github.com/reconscan/reconscan/internal/scheduler"
	"github.com/reconscan/reconscan/internal/sink"
	"github.com/reconscan/reconscan/internal/stream"
	"github.com/reconscan/reconscan/internal/target"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func testServer(t *testing.T, executor queue.Executor) *Server {
	t.Helper()

	cfg := config.ScanConfig{
		TimeoutSeconds:     1,
		InitialConcurrency: 4,
		MaxConcurrency:     4,
		MinTimeoutSeconds:  0.1,
	}
	resolver := target.NewResolver("")
	sched := scheduler.New(nil)
	c := cache.New(cache.NewMemoryStore())
	sk := sink.NewMemorySink()

	if executor == nil {
		executor = func(ctx context.Context, msg queue.DispatchMessage, onProgress queue.ProgressFunc) (*scheduler.ScanRecord, error) {
			return &scheduler.ScanRecord{ScanID: msg.ScanID, Status: scheduler.StatusCompleted}, nil
		}
	}
	queueMgr := queue.NewManager(queue.NewMemoryBroker(8), executor, testLogger())
	go func() { _ = queueMgr.Run(context.Background()) }()

	return New(cfg, resolver, sched, c, queueMgr, sk, nil, testLogger())
}

func TestStatusHandlerReturnsOK(t *testing.T) {
	s := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEnqueueScanThenPollReachesSuccess(t *testing.T) {
	s := testServer(t, nil)

	body, _ := json.Marshal(EnqueueScanRequest{Target: "127.0.0.1", Ports: "80,443"})
	req := httptest.NewRequest(http.MethodPost, "/api/scan", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var enqueued EnqueueScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &enqueued); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if enqueued.TaskID == "" || enqueued.ScanID == "" {
		t.Fatal("expected non-empty task_id and scan_id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pollReq := httptest.NewRequest(http.MethodGet, "/api/scan/"+enqueued.TaskID, nil)
		pollRec := httptest.NewRecorder()
		s.Router().ServeHTTP(pollRec, pollReq)

		var poll PollTaskResponse
		if err := json.Unmarshal(pollRec.Body.Bytes(), &poll); err != nil {
			t.Fatalf("decode poll response: %v", err)
		}
		if poll.State == string(queue.StateSuccess) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached success state")
}

func TestEnqueueScanRejectsInvalidTarget(t *testing.T) {
	s := testServer(t, nil)

	body, _ := json.Marshal(EnqueueScanRequest{Target: "example.com", Ports: "80"})
	req := httptest.NewRequest(http.MethodPost, "/api/scan", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for placeholder host, got %d", rec.Code)
	}
}

func TestEnqueueScanRejectsInvalidPorts(t *testing.T) {
	s := testServer(t, nil)

	body, _ := json.Marshal(EnqueueScanRequest{Target: "127.0.0.1", Ports: "not-a-port"})
	req := httptest.NewRequest(http.MethodPost, "/api/scan", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid port spec, got %d", rec.Code)
	}
}

func TestPollTaskMissingReturnsNotFound(t *testing.T) {
	s := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/scan/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetScanMissingReturnsNotFound(t *testing.T) {
	s := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/scans/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetScanReturnsPersistedRecord(t *testing.T) {
	s := testServer(t, nil)

	rec := scheduler.ScanRecord{ScanID: "scan-abc", Target: "127.0.0.1", Status: scheduler.StatusCompleted, CreatedAt: time.Now()}
	if err := s.sink.SaveScan(context.Background(), rec); err != nil {
		t.Fatalf("seed sink: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/scans/scan-abc", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var view scanRecordView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ScanID != "scan-abc" {
		t.Fatalf("expected scan-abc, got %s", view.ScanID)
	}
}

func TestCacheStatsHandlerReportsStats(t *testing.T) {
	s := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats CacheStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestListScansFiltersByRequestedBy(t *testing.T) {
	s := testServer(t, nil)

	_ = s.sink.SaveScan(context.Background(), scheduler.ScanRecord{ScanID: "s1", RequestedBy: "alice", CreatedAt: time.Now()})
	_ = s.sink.SaveScan(context.Background(), scheduler.ScanRecord{ScanID: "s2", RequestedBy: "bob", CreatedAt: time.Now()})

	req := httptest.NewRequest(http.MethodGet, "/api/scans?requested_by=alice", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var history []ScanHistoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 1 || history[0].ID != "s1" {
		t.Fatalf("expected only alice's scan, got %+v", history)
	}
}

// TestRunStreamedScanCollapsesConcurrentIdenticalScans exercises the
// same de-duplication guarantee as the async executor, but through the
// streaming path's own cache.GetOrScan wiring.
func TestRunStreamedScanCollapsesConcurrentIdenticalScans(t *testing.T) {
	cfg := config.ScanConfig{TimeoutSeconds: 1, InitialConcurrency: 4, MaxConcurrency: 4, MinTimeoutSeconds: 0.1}
	resolver := target.NewResolver("")
	dialer := &slowCountingDialer{}
	sched := scheduler.New(dialer)
	c := cache.New(cache.NewMemoryStore())
	sk := sink.NewMemorySink()

	executor := func(ctx context.Context, msg queue.DispatchMessage, onProgress queue.ProgressFunc) (*scheduler.ScanRecord, error) {
		return &scheduler.ScanRecord{ScanID: msg.ScanID, Status: scheduler.StatusCompleted}, nil
	}
	queueMgr := queue.NewManager(queue.NewMemoryBroker(8), executor, testLogger())
	go func() { _ = queueMgr.Run(context.Background()) }()

	s := New(cfg, resolver, sched, c, queueMgr, sk, dialer, testLogger())

	tgt := target.Target{Host: "10.0.0.9", ResolvedIP: "10.0.0.9", Classification: target.Internal}
	scanCfg := scheduler.ScanConfig{}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := stream.NewBroadcaster()
			drained := make(chan struct{})
			go func() {
				for range b.Events() {
				}
				close(drained)
			}()
			s.runStreamedScan(context.Background(), b, fmt.Sprintf("scan-%d", i), tgt, []int{80}, scanCfg, nil)
			<-drained
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&dialer.dials), "expected exactly one underlying probe pass")
}

func TestStreamScanHandlerRejectsInvalidTarget(t *testing.T) {
	s := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stream/scan/example.com?ports=80", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for placeholder host, got %d", rec.Code)
	}
}

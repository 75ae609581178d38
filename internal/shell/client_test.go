package shell

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reconscan/reconscan/internal/api"
	"github.com/reconscan/reconscan/internal/events"
)

func TestEnqueueScanDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/scan" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.EnqueueScanResponse{TaskID: "t1", ScanID: "s1", Status: "queued"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.EnqueueScan(context.Background(), "127.0.0.1", "80", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TaskID != "t1" || resp.ScanID != "s1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestEnqueueScanSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_target", "message": "bad host"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.EnqueueScan(context.Background(), "example.com", "80", false)
	if err == nil {
		t.Fatal("expected error from 400 response")
	}
}

func TestStreamScanParsesSSEEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`data: {"type":"scan_start","total_ports":2}` + "\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte(`data: {"type":"scan_complete","progress":100,"open_ports":1}` + "\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	var kinds []events.Kind
	err := c.StreamScan(context.Background(), "127.0.0.1", "80", false, func(e events.Event) {
		kinds = append(kinds, e.Kind)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != events.KindScanStart || kinds[1] != events.KindScanComplete {
		t.Fatalf("unexpected event kinds: %+v", kinds)
	}
}

func TestCacheStatsDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.CacheStatsResponse{Hits: 3, Misses: 1, HitRate: 0.75, Stored: 4})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	stats, err := c.CacheStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Hits != 3 || stats.Stored != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestListScansDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]api.ScanHistoryEntry{{ID: "s1", Target: "127.0.0.1", Status: "completed", OpenPorts: 2}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	history, err := c.ListScans(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 1 || history[0].ID != "s1" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

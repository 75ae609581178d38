package shell

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reconscan/reconscan/internal/api"
	"github.com/reconscan/reconscan/internal/events"
	"github.com/reconscan/reconscan/internal/stream"
)

// Client is a thin HTTP/WS client over the reconscan API, used by the
// REPL and available for scripting outside it.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client against baseURL (e.g. "http://localhost:8001").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// EnqueueScan submits a scan via POST /api/scan.
func (c *Client) EnqueueScan(ctx context.Context, target, ports string, force bool) (api.EnqueueScanResponse, error) {
	body, err := json.Marshal(api.EnqueueScanRequest{Target: target, Ports: ports, Force: force})
	if err != nil {
		return api.EnqueueScanResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/scan", bytes.NewReader(body))
	if err != nil {
		return api.EnqueueScanResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return api.EnqueueScanResponse{}, err
	}
	defer resp.Body.Close()

	var out api.EnqueueScanResponse
	if err := decodeOrError(resp, &out); err != nil {
		return api.EnqueueScanResponse{}, err
	}
	return out, nil
}

// PollTask fetches GET /api/scan/{task_id}.
func (c *Client) PollTask(ctx context.Context, taskID string) (api.PollTaskResponse, error) {
	var out api.PollTaskResponse
	err := c.get(ctx, "/api/scan/"+url.PathEscape(taskID), &out)
	return out, err
}

// ListScans fetches GET /api/scans.
func (c *Client) ListScans(ctx context.Context) ([]api.ScanHistoryEntry, error) {
	var out []api.ScanHistoryEntry
	err := c.get(ctx, "/api/scans", &out)
	return out, err
}

// CacheStats fetches GET /api/cache/stats.
func (c *Client) CacheStats(ctx context.Context) (api.CacheStatsResponse, error) {
	var out api.CacheStatsResponse
	err := c.get(ctx, "/api/cache/stats", &out)
	return out, err
}

// StreamScan opens GET /api/stream/scan/{target} over SSE and invokes
// onEvent for every event until the stream terminates.
func (c *Client) StreamScan(ctx context.Context, target, ports string, force bool, onEvent func(events.Event)) error {
	q := url.Values{}
	q.Set("ports", ports)
	if force {
		q.Set("force", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/stream/scan/"+url.PathEscape(target)+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeOrError(resp, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "" {
			continue
		}

		var e events.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			continue
		}
		onEvent(e)
	}
	return scanner.Err()
}

// WSStream opens GET /api/ws/scan/{target} over WebSocket, invoking
// onEvent for every event and onConsent whenever a pre_scan_warning
// suspends the scan — when onConsent returns true a resume control
// frame with consent and force set is sent; when it returns false a
// cancel frame is sent and WSStream returns.
func (c *Client) WSStream(ctx context.Context, target, ports string, force bool, onEvent func(events.Event), onConsent func(events.Event) bool) error {
	q := url.Values{}
	q.Set("ports", ports)
	if force {
		q.Set("force", "true")
	}

	wsURL := toWebSocketURL(c.baseURL) + "/api/ws/scan/" + url.PathEscape(target) + "?" + q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		var e events.Event
		if err := conn.ReadJSON(&e); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		onEvent(e)

		if e.Kind == events.KindPreScanWarning {
			if !onConsent(e) {
				_ = conn.WriteJSON(stream.ControlMessage{Command: "cancel"})
				return nil
			}
			_ = conn.WriteJSON(stream.ControlMessage{Command: "resume", Force: true, Consent: true})
			continue
		}
		if e.Kind == events.KindScanComplete || e.Kind == events.KindScanError {
			return nil
		}
	}
}

func toWebSocketURL(baseURL string) string {
	if strings.HasPrefix(baseURL, "https://") {
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	}
	return "ws://" + strings.TrimPrefix(baseURL, "http://")
}

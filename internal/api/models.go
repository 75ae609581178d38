package api

// ScanRequestConfig is the optional `config` object inside POST
// /api/scan's body, overriding the service's scan.* defaults.
type ScanRequestConfig struct {
	TimeoutSeconds           *float64 `json:"timeout_seconds,omitempty"`
	InitialConcurrency       *int     `json:"initial_concurrency,omitempty"`
	MaxConcurrency           *int     `json:"max_concurrency,omitempty"`
	MinTimeoutSeconds        *float64 `json:"min_timeout_seconds,omitempty"`
	EnhancedServiceDetection *bool    `json:"enhanced_service_detection,omitempty"`
	Adaptive                 *bool    `json:"adaptive,omitempty"`
	RateLimitPPS             *int     `json:"rate_limit_pps,omitempty"`
}

// EnqueueScanRequest is POST /api/scan's body, per spec.md §6.
type EnqueueScanRequest struct {
	Target string             `json:"target" binding:"required"`
	Ports  string             `json:"ports" binding:"required"`
	Config *ScanRequestConfig `json:"config,omitempty"`
	Force  bool               `json:"force,omitempty"`
}

// EnqueueScanResponse is POST /api/scan's 200 body.
type EnqueueScanResponse struct {
	TaskID string `json:"task_id"`
	ScanID string `json:"scan_id"`
	Status string `json:"status"`
}

// PollTaskResponse is GET /api/scan/{task_id}'s 200 body.
type PollTaskResponse struct {
	State    string                 `json:"state"`
	Progress int                    `json:"progress,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Result   *scanRecordView        `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// ScanHistoryEntry is one element of GET /api/scans's 200 array.
type ScanHistoryEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Target    string `json:"target"`
	Status    string `json:"status"`
	OpenPorts int    `json:"open_ports"`
}

// CacheStatsResponse is GET /api/cache/stats's 200 body.
type CacheStatsResponse struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Stored  int64   `json:"stored"`
}

package api

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/reconscan/reconscan/internal/config"
	"github.com/reconscan/reconscan/internal/detector"
	"github.com/reconscan/reconscan/internal/scheduler"
)

func newID() string {
	return uuid.New().String()
}

// buildScanConfig merges the service defaults with a request's
// optional overrides, applying the scheduler's ScanConfig shape.
func buildScanConfig(defaults config.ScanConfig, override *ScanRequestConfig, force bool) scheduler.ScanConfig {
	cfg := scheduler.ScanConfig{
		TimeoutS:                 defaults.TimeoutSeconds,
		InitialConcurrency:       defaults.InitialConcurrency,
		MaxConcurrency:           defaults.MaxConcurrency,
		MinTimeoutS:              defaults.MinTimeoutSeconds,
		EnhancedServiceDetection: defaults.EnhancedServiceDetection,
		Adaptive:                 defaults.Adaptive,
		Force:                    force,
		RateLimitPPS:             defaults.RateLimitPPS,
	}

	if override == nil {
		return cfg
	}
	if override.TimeoutSeconds != nil {
		cfg.TimeoutS = *override.TimeoutSeconds
	}
	if override.InitialConcurrency != nil {
		cfg.InitialConcurrency = *override.InitialConcurrency
	}
	if override.MaxConcurrency != nil {
		cfg.MaxConcurrency = *override.MaxConcurrency
	}
	if override.MinTimeoutSeconds != nil {
		cfg.MinTimeoutS = *override.MinTimeoutSeconds
	}
	if override.EnhancedServiceDetection != nil {
		cfg.EnhancedServiceDetection = *override.EnhancedServiceDetection
	}
	if override.Adaptive != nil {
		cfg.Adaptive = *override.Adaptive
	}
	if override.RateLimitPPS != nil {
		cfg.RateLimitPPS = *override.RateLimitPPS
	}
	return cfg
}

func parseBoolQuery(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

// scanRecordView is the JSON-friendly projection of a ScanRecord
// returned from PollTaskResponse.Result and GET /api/scans/:scan_id.
type scanRecordView struct {
	ScanID      string                 `json:"scan_id"`
	Target      string                 `json:"target"`
	Status      string                 `json:"status"`
	CreatedAt   string                 `json:"created_at"`
	CompletedAt string                 `json:"completed_at,omitempty"`
	OpenPorts   []detector.PortResult  `json:"open_ports"`
}

func viewOf(rec scheduler.ScanRecord) scanRecordView {
	v := scanRecordView{
		ScanID:    rec.ScanID,
		Target:    rec.Target,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		OpenPorts: rec.Results,
	}
	if rec.CompletedAt != nil {
		v.CompletedAt = rec.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

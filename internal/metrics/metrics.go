// Package metrics fills in the teacher's "Metrics placeholder... will
// be implemented with Prometheus client" comment in its api handler:
// package-level collectors registered once at import time, grounded on
// cuemby/warren's pkg/metrics (same prometheus.NewCounter/NewGauge +
// MustRegister-in-init shape).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconscan_probes_total",
			Help: "Total number of port probes issued, by outcome state",
		},
		[]string{"state"},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconscan_cache_hits_total",
			Help: "Total number of result-cache lookups that hit",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconscan_cache_misses_total",
			Help: "Total number of result-cache lookups that missed",
		},
	)

	ActiveScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconscan_active_scans",
			Help: "Number of scans currently running",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconscan_queue_depth",
			Help: "Number of tasks currently queued or in progress",
		},
	)

	DetectorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconscan_detector_duration_seconds",
			Help:    "Time taken to run service detection on one open port",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"enhanced"},
	)

	TasksRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconscan_tasks_retried_total",
			Help: "Total number of task retries issued by the queue manager",
		},
	)

	TasksExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconscan_tasks_exhausted_total",
			Help: "Total number of tasks that exhausted their retry budget",
		},
	)
)

func init() {
	prometheus.MustRegister(ProbesTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(ActiveScans)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DetectorDuration)
	prometheus.MustRegister(TasksRetriedTotal)
	prometheus.MustRegister(TasksExhaustedTotal)
}

// Handler returns the Prometheus scrape handler mounted at GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation and reports it to a histogram on Observe.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec reports the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

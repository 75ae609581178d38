// Package detector implements the active and passive service-detection
// probes from spec.md §4.5. The passive signature table is adapted
// from the teacher's scanner.Fingerprinter (regexp banner matching,
// port-table fallback); the active per-protocol probes and the
// HTTP/TLS security audit are new, since the teacher never dials out
// a second time after the initial connect scan.
package detector

import (
	"context"
	"strconv"
	"time"

	"github.com/reconscan/reconscan/internal/metrics"
	"github.com/reconscan/reconscan/internal/prober"
	"github.com/reconscan/reconscan/internal/risk"
)

// probeTimeout is the independent per-protocol timeout from spec.md
// §4.5; it is deliberately not configurable, matching the spec's fixed
// 3s figure.
const probeTimeout = 3 * time.Second

// highConfidence is the threshold at which a probe's match stops
// further probing, per spec.md §4.5.
const highConfidence = 0.9

// fallbackConfidence is assigned when every active probe fails, or
// when enhanced detection is disabled.
const fallbackConfidence = 0.3

// TLSInfo records a completed (or failed) TLS handshake.
type TLSInfo struct {
	Version string
	Cipher  string
	Error   string
}

// HTTPInfo records the result of the HTTP/TLS security audit.
type HTTPInfo struct {
	StatusCode           int
	HTTPVersion          string
	SecurityScore        int
	SecurityHeadersAudit map[string]string
	CSPWarnings          []string
	CORSWarnings         []string
	DirectoryListing     bool
	FormsOverHTTP        bool
	Error                string
}

// PortResult is the detector's output for one open port, per spec.md §3.
type PortResult struct {
	Port            int
	State           prober.State
	Service         string
	Version         string
	Banner          string
	Confidence      float64
	Protocol        string
	Risk            risk.Level
	CVSSScore       float64
	Vulnerabilities []string
	Recommendations []string
	TLS             *TLSInfo
	HTTP            *HTTPInfo
}

// Config selects detection mode.
type Config struct {
	Enhanced bool
}

// Detect identifies the service behind an already-open port. When
// cfg.Enhanced is true it tries the active probe table in priority
// order, stopping at the first match with confidence ≥ highConfidence;
// otherwise — and whenever every active probe fails — it falls back to
// the static port→service table at fallbackConfidence.
func Detect(ctx context.Context, dialer prober.Dialer, ip string, port int, cfg Config) PortResult {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DetectorDuration, strconv.FormatBool(cfg.Enhanced))

	var result PortResult

	if cfg.Enhanced {
		if r, ok := detectActive(ctx, dialer, ip, port); ok {
			result = r
		} else {
			result = fallbackResult(port)
		}
	} else {
		result = fallbackResult(port)
	}

	result.Port = port
	result.State = prober.Open
	result.Protocol = "tcp"

	if cfg.Enhanced && (port == 443 || result.TLS != nil) {
		result.HTTP = auditHTTPS(ctx, dialer, ip, port)
	}

	annotation := risk.Lookup(port, result.Service)
	result.Risk = annotation.Risk
	result.CVSSScore = annotation.CVSSScore
	result.Recommendations = annotation.Recommendations

	return result
}

func detectActive(ctx context.Context, dialer prober.Dialer, ip string, port int) (PortResult, bool) {
	for _, p := range activeProbes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		res := p.run(pctx, dialer, ip, port)
		if res.transient {
			res = p.run(pctx, dialer, ip, port) // single retry on transient socket error
		}
		cancel()

		if res.matched && res.confidence >= highConfidence {
			return PortResult{
				Service:    res.service,
				Version:    res.version,
				Banner:     res.banner,
				Confidence: res.confidence,
				TLS:        res.tls,
			}, true
		}
	}
	return PortResult{}, false
}

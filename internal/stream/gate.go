package stream

import (
	"context"
	"time"

	"github.com/reconscan/reconscan/internal/events"
	"github.com/reconscan/reconscan/internal/prober"
	"github.com/reconscan/reconscan/internal/scheduler"
	"github.com/reconscan/reconscan/internal/target"
)

// Emitter is scheduler.Emitter, reused here so the gate and the
// scheduler share a single event sink without a duplicate interface.
type Emitter = scheduler.Emitter

// sentinelPorts are the ports the pre-scan gate probes before
// dispatching a scan against a non-private target, per spec.md §4.7.
// Fixed at {80, 443}; not broadened to include 22 to keep the gate's
// false-positive rate low on SSH-only boxes.
var sentinelPorts = [...]int{80, 443}

// sentinelTimeout bounds each gate probe.
const sentinelTimeout = 2 * time.Second

// Gate runs the pre-scan safety check. It returns ok=true when the
// scan may proceed immediately: the target is private/loopback, or at
// least one sentinel port answered. Otherwise it emits pre_scan_warning
// on emit and returns ok=false — the caller must wait for a forced
// resume before calling Gate again (with force=true) or abandoning.
func Gate(ctx context.Context, dialer prober.Dialer, tgt target.Target, force bool, emit Emitter) bool {
	if force {
		return true
	}

	if tgt.Classification == target.Internal || tgt.Classification == target.Loopback {
		return true
	}

	for _, port := range sentinelPorts {
		outcome := prober.Probe(ctx, dialer, tgt.ResolvedIP, port, sentinelTimeout)
		if outcome.State == prober.Open || outcome.State == prober.Closed {
			return true
		}
	}

	emit.Emit(events.PreScanWarning(tgt.Host, tgt.ResolvedIP, "scan"))
	return false
}

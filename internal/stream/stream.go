// Package stream implements the push-channel delivery layer from
// spec.md §4.7: one internal event sink fanned out over SSE and
// WebSocket transports, plus the pre-scan safety gate (gate.go) and
// cooperative cancellation. Event framing on the SSE side is grounded
// on the teacher's gin-contrib/sse indirect dependency, promoted here
// to direct use; the WebSocket writer/reader split is grounded on
// carverauto/serviceradar's pkg/core/api/stream.go.
package stream

import (
	"context"
	"sync"

	"github.com/reconscan/reconscan/internal/events"
)

// channelSize bounds how many buffered events a slow client can lag by;
// events emitted while the buffer is full are dropped.
const channelSize = 256

// Broadcaster is an Emitter that forwards every event to exactly one
// subscriber — a scan has exactly one client stream attached to it, per
// spec.md §4.7 (SSE response or WS upgrade on the same route family).
type Broadcaster struct {
	mu     sync.Mutex
	ch     chan events.Event
	closed bool
}

// NewBroadcaster creates a Broadcaster ready to be handed to
// scheduler.Scan as its Emitter.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{ch: make(chan events.Event, channelSize)}
}

// Emit implements scheduler.Emitter. It never blocks: once closed, or
// whenever the channel buffer is full, the event is silently dropped
// rather than stalling the scan.
func (b *Broadcaster) Emit(e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- e:
	default:
	}
}

// Events returns the receive-only channel clients read from.
func (b *Broadcaster) Events() <-chan events.Event {
	return b.ch
}

// Close shuts the broadcaster down; subsequent Emit calls are no-ops.
// Safe to call more than once.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// ControlMessage is a client-to-server WebSocket control frame, per
// spec.md §6: `{command, force?, consent?}`.
type ControlMessage struct {
	Command string `json:"command"`
	Force   bool   `json:"force,omitempty"`
	Consent bool   `json:"consent,omitempty"`
}

// terminal reports whether an event kind ends the stream: no further
// events follow scan_complete or scan_error.
func terminal(e events.Event) bool {
	return e.Kind == events.KindScanComplete || e.Kind == events.KindScanError
}

// Pump drains the broadcaster's channel into send, stopping at the
// first terminal event or when ctx is cancelled. It is transport-
// agnostic; SSE and WebSocket handlers each supply their own send.
func Pump(ctx context.Context, b *Broadcaster, send func(events.Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-b.Events():
			if !ok {
				return nil
			}
			if err := send(e); err != nil {
				return err
			}
			if terminal(e) {
				return nil
			}
		}
	}
}

package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocket timing constants, matching the teacher-adjacent
// carverauto/serviceradar single-writer-goroutine pump.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// RunFunc drives the scan once a WebSocket connection is up. ctx is
// cancelled on disconnect or an explicit `{command:"cancel"}` frame;
// control delivers every other frame (chiefly `{command:"resume",
// force, consent}`, used to pass the pre-scan gate) as it arrives.
// RunFunc must itself close b when it's done emitting.
type RunFunc func(ctx context.Context, control <-chan ControlMessage)

// controlBuffer bounds how many unconsumed control frames a client can
// queue before RunFunc catches up.
const controlBuffer = 8

// ServeWS upgrades the request, starts the single writer goroutine
// pumping b to the client, and runs `run` to drive the scan against
// control frames read back. Exactly one goroutine ever writes to conn.
func ServeWS(c *gin.Context, b *Broadcaster, run RunFunc) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	control := make(chan ControlMessage, controlBuffer)
	go wsReader(conn, cancel, control)
	go run(ctx, control)

	wsWriter(ctx, conn, b)
}

// wsWriter is the single goroutine that ever writes to conn: events
// pumped from b, interleaved with periodic pings so intermediate
// proxies don't time the connection out during long tiers.
func wsWriter(ctx context.Context, conn *websocket.Conn, b *Broadcaster) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-b.Events():
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
			if terminal(e) {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsReader pumps control frames off conn into control, cancelling ctx
// (via cancel) on a `cancel` command or on disconnect/read error.
func wsReader(conn *websocket.Conn, cancel context.CancelFunc, control chan<- ControlMessage) {
	defer cancel()
	defer close(control)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ControlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Command == "cancel" {
			return
		}
		select {
		case control <- msg:
		default:
		}
	}
}

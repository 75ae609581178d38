package stream

import (
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/reconscan/reconscan/internal/events"
)

// ServeSSE streams b's events to the client as spec.md §6 describes:
// each event is a single `data: <JSON>\n\n` chunk, the `event:` field
// unused, the JSON `type` discriminator doing double duty. gin's own
// SSEvent helper always sets an `event:` field, so this writes frames
// directly through gin-contrib/sse instead.
func ServeSSE(c *gin.Context, b *Broadcaster) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()

	_ = Pump(ctx, b, func(e events.Event) error {
		if err := sse.Encode(c.Writer, sse.Event{Data: e}); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
}

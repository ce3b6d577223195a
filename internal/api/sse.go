package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caresync/backend/internal/stream"
)

// streamSSE runs one long-lived server-sent-events subscription against
// a hub. The wire contract: an "event: ready" marker on connect, one
// data frame per published payload in publish order, and "event: ping"
// keep-alives so intermediaries and the far end can spot a dead
// connection. The subscription and its ticker are released when the
// client goes away or the hub shuts down.
func streamSSE[T any](c *gin.Context, hub *stream.Hub[T], keepAlive time.Duration) {
	id, ch := hub.Subscribe()
	defer hub.Unsubscribe(id)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("ready", "connected")
	c.Writer.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			c.SSEvent("ping", "keep-alive")
			c.Writer.Flush()
		case v, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("message", v)
			c.Writer.Flush()
		}
	}
}

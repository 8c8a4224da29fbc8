package web

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// pingInterval keeps idle SSE connections alive through proxies that cut
// silent streams.
const pingInterval = 15 * time.Second

// streamEvents is the long-lived SSE endpoint: each connection gets its
// own bounded subscriber queue, receives every pipeline event as an SSE
// message, pings periodically, and unsubscribes on disconnect.
func (s *Server) streamEvents(c *gin.Context) {
	id, ch := s.publisher.Subscribe()
	defer s.publisher.Unsubscribe(id)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	// Send the headers now so the client sees the stream open before the
	// first event or ping is written.
	c.Writer.Flush()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt.Data)
			return true
		case <-ping.C:
			c.SSEvent("ping", "keep-alive")
			return true
		}
	})
}

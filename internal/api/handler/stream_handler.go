package handler

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// StreamEvents handles GET /api/v1/events
// Opens a server-sent events stream scoped to the caller identity. The
// stream carries every job event for that owner; periodic keep-alive
// comments hold idle connections open through proxies.
func (h *JobHandler) StreamEvents(c *gin.Context) {
	identity := currentIdentity(c)

	connID, events := h.bus.Subscribe(identity.ID)
	defer h.bus.Unsubscribe(identity.ID, connID)

	h.logger.Info("Event stream opened",
		slog.String("user_id", identity.ID),
		slog.String("conn_id", connID))
	defer h.logger.Info("Event stream closed",
		slog.String("user_id", identity.ID),
		slog.String("conn_id", connID))

	c.Writer.Header().Set("Content-Type", sse.ContentType)
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	keepalive := time.NewTicker(h.cfg.Events.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{
				Event: string(ev.Kind),
				Data:  ev,
			}); err != nil {
				return
			}
			c.Writer.Flush()

		case <-keepalive.C:
			if err := sse.Encode(c.Writer, sse.Event{
				Event: "keepalive",
				Data:  "ping",
			}); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/events"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const eventStreamContentType = "text/event-stream"

// handleEventStream relays the caller's events as server-sent events until the client goes away
// or the session signs out.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", eventStreamContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	if _, err := c.Writer.WriteString(": connected\n\n"); err != nil {
		h.logger.Warn("event stream initial write failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream closed by client", zap.String("user_id", userID))
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(string(message.Kind), message)
			c.Writer.Flush()
			if message.Kind == events.KindSignedOut {
				return
			}
		case <-heartbeat.C:
			c.SSEvent(string(events.KindHeartbeat), events.Message{
				Kind:      events.KindHeartbeat,
				Timestamp: h.clock().UTC(),
			})
			c.Writer.Flush()
		}
	}
}

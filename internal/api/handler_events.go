package api

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"locker-status-backend/internal/mirror"
)

const eventBuffer = 64

// StreamEvents pushes mirror changes to the client as server-sent events.
// A client that falls behind receives a "replace" event and should re-read
// the board.
func (h *Handler) StreamEvents(c *gin.Context) {
	clientID := uuid.NewString()
	events := make(chan mirror.Change, eventBuffer)
	var overflow atomic.Bool
	unregister := h.mirror.OnChange(func(ch mirror.Change) {
		select {
		case events <- ch:
		default:
			overflow.Store(true)
		}
	})
	defer unregister()

	h.log.Debug("event stream opened", zap.String("client", clientID))
	defer h.log.Debug("event stream closed", zap.String("client", clientID))

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("sync", h.syncer.Status())
	c.Writer.Flush()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		if overflow.Swap(false) {
			for len(events) > 0 {
				<-events
			}
			c.SSEvent(string(mirror.ChangeReplace), mirror.Change{Kind: mirror.ChangeReplace})
			return true
		}
		select {
		case ch := <-events:
			c.SSEvent(string(ch.Kind), ch)
			return true
		case <-ping.C:
			c.SSEvent("sync", h.syncer.Status())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

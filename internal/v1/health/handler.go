// Package health serves the liveness endpoint.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RoomCounter is the slice of the registry the health check reads.
type RoomCounter interface {
	Len() int
}

// Handler answers GET /health.
type Handler struct {
	rooms RoomCounter
}

// NewHandler creates a health handler over the room registry.
func NewHandler(rooms RoomCounter) *Handler {
	return &Handler{rooms: rooms}
}

// Health reports process liveness plus the live room count. The process
// serving this endpoint is the health; there are no required downstream
// dependencies to probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"rooms":     h.rooms.Len(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

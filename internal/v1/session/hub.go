// Package session drives one goroutine pair per WebSocket connection: a
// reader feeding an inbound channel, and a select loop multiplexing
// client frames, room events and the system shutdown signal. All socket
// writes happen on the loop goroutine, so outbound order is enqueue
// order.
package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/khuphaen/sync-server/internal/v1/logging"
	"github.com/khuphaen/sync-server/internal/v1/metrics"
	"github.com/khuphaen/sync-server/internal/v1/room"
)

// writeWait bounds each outbound socket write.
const writeWait = 10 * time.Second

// wsConnection is the slice of *websocket.Conn the session uses, kept as
// an interface so tests can drive a session without a network socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Hub accepts WebSocket connections and fans the system shutdown signal
// out to every live session.
type Hub struct {
	registry *room.Registry
	upgrader websocket.Upgrader

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHub creates a hub over the room registry.
func NewHub(registry *room.Registry) *Hub {
	return &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The control plane is CORS-open; the socket mirrors that.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		shutdown: make(chan struct{}),
	}
}

// ServeWs upgrades the request and runs the session until it exits.
func (h *Hub) ServeWs(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed", zap.Error(err))
		return
	}

	logging.Info(c.Request.Context(), "New WebSocket connection")
	metrics.IncConnection()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer metrics.DecConnection()
		s := newSession(h, conn)
		s.run(context.Background())
	}()
}

// Shutdown signals every session to close and waits for them to drain,
// bounded by ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down hub - closing all sessions...")
	h.closeOnce.Do(func() { close(h.shutdown) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.wg.Wait()
	}()

	select {
	case <-done:
		logging.Info(ctx, "All sessions closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

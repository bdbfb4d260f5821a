// Package api serves the HTTP control plane: service discovery at the
// root, room creation and room inspection. Everything live goes over the
// WebSocket; these endpoints only set rooms up and report on them.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khuphaen/sync-server/internal/v1/logging"
	"github.com/khuphaen/sync-server/internal/v1/metrics"
	"github.com/khuphaen/sync-server/internal/v1/ratelimit"
	"github.com/khuphaen/sync-server/internal/v1/room"
	"github.com/khuphaen/sync-server/internal/v1/types"
)

// ServiceName and ServiceVersion identify the server in the discovery
// document.
const (
	ServiceName    = "Khu Phaen Sync Server"
	ServiceVersion = "0.1.0"
)

// Handler owns the control plane endpoints.
type Handler struct {
	registry *room.Registry
	buckets  *ratelimit.IPBuckets
	port     int
}

// NewHandler wires the control plane over the registry. buckets guards
// room creation; port shapes the advertised websocket URL.
func NewHandler(registry *room.Registry, buckets *ratelimit.IPBuckets, port int) *Handler {
	return &Handler{registry: registry, buckets: buckets, port: port}
}

// CreateRoomRequest is the optional creation body. Both fields default
// server-side when omitted.
type CreateRoomRequest struct {
	DesiredRoomCode string `json:"desired_room_code"`
	DesiredHostID   string `json:"desired_host_id"`
}

// Root handles GET / with the service discovery document.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      ServiceName,
		"version":   ServiceVersion,
		"status":    "running",
		"websocket": "/ws",
		"api": gin.H{
			"create_room": "POST /api/rooms",
			"room_info":   "GET /api/rooms/:room_code",
		},
	})
}

// CreateRoom handles POST /api/rooms.
//
// Creation is idempotent on the desired code: asking for a code that
// already exists returns that room with restored set, so a reconnecting
// host recovers its room instead of colliding. The restored key is
// absent on a fresh creation.
func (h *Handler) CreateRoom(c *gin.Context) {
	if !h.buckets.Allow(ratelimit.SourceIP(c.Request)) {
		metrics.CreateRoomThrottled.Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "Too many rooms created from this address",
		})
		return
	}

	// The body is optional and a malformed one is treated as absent.
	var req CreateRoomRequest
	_ = c.ShouldBindJSON(&req)

	code := types.RoomCode(req.DesiredRoomCode)
	if code == "" {
		code = room.GenerateCode()
	}

	if existing, ok := h.registry.Lookup(code); ok {
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"room_code":     code,
			"room_id":       existing.ID,
			"host_id":       existing.HostID,
			"websocket_url": h.websocketURL(),
			"restored":      true,
		})
		return
	}

	roomID := types.RoomID(uuid.NewString())
	hostID := types.PeerID(req.DesiredHostID)
	if hostID == "" {
		hostID = types.PeerID("host_" + uuid.NewString()[:8])
	}

	created, inserted := h.registry.Insert(room.NewRoom(roomID, code, hostID, time.Now().UTC()))
	if !inserted {
		// Lost a race on the same code; hand back the winner as restored.
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"room_code":     code,
			"room_id":       created.ID,
			"host_id":       created.HostID,
			"websocket_url": h.websocketURL(),
			"restored":      true,
		})
		return
	}

	metrics.RoomsCreated.Inc()
	logging.Info(c.Request.Context(), "Room created",
		zap.String("roomCode", string(code)),
		zap.String("hostId", string(hostID)),
	)

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"room_code":     code,
		"room_id":       created.ID,
		"host_id":       created.HostID,
		"websocket_url": h.websocketURL(),
	})
}

// RoomInfo handles GET /api/rooms/:room_code. An unknown code answers
// HTTP 200 with success false; clients poll this before joining.
func (h *Handler) RoomInfo(c *gin.Context) {
	code := types.RoomCode(c.Param("room_code"))

	r, ok := h.registry.Lookup(code)
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   "Room not found",
		})
		return
	}

	peers := r.Peers()
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"room_code":  code,
		"host_id":    r.HostID,
		"peers":      peers,
		"created_at": r.CreatedAt,
		"peer_count": len(peers),
	})
}

func (h *Handler) websocketURL() string {
	return fmt.Sprintf("ws://localhost:%d/ws", h.port)
}

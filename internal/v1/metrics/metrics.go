package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the sync server.
//
// Naming convention: namespace_subsystem_name
// - namespace: khuphaen (application-level grouping)
// - subsystem: room, websocket, http (feature-level grouping)
//
// Gauges track current state (rooms, peers, connections); counters track
// cumulative events (creations, reaps, messages, drops).

var (
	// ActiveRooms tracks the current number of rooms in the registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "khuphaen",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// ConnectedPeers tracks the current number of peers across all rooms.
	ConnectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "khuphaen",
		Subsystem: "room",
		Name:      "peers_connected",
		Help:      "Current number of peers joined to rooms",
	})

	// RoomsCreated counts rooms created over the control plane.
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "khuphaen",
		Subsystem: "room",
		Name:      "rooms_created_total",
		Help:      "Total rooms created",
	})

	// RoomsReaped counts rooms removed by the idle reaper.
	RoomsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "khuphaen",
		Subsystem: "room",
		Name:      "rooms_reaped_total",
		Help:      "Total rooms removed after exceeding the idle threshold",
	})

	// RoomEventsDropped counts bus events dropped for slow subscribers.
	RoomEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "khuphaen",
		Subsystem: "room",
		Name:      "events_dropped_total",
		Help:      "Total room events dropped due to subscriber backlog",
	})

	// ActiveWebSocketConnections tracks currently open sessions.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "khuphaen",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// WebSocketConnections counts sessions accepted since process start.
	WebSocketConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "khuphaen",
		Subsystem: "websocket",
		Name:      "connections_total",
		Help:      "Total WebSocket connections accepted",
	})

	// MessagesReceived counts inbound client frames by action.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "khuphaen",
		Subsystem: "websocket",
		Name:      "messages_received_total",
		Help:      "Total client messages received",
	}, []string{"action"})

	// MessagesSent counts outbound server frames by type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "khuphaen",
		Subsystem: "websocket",
		Name:      "messages_sent_total",
		Help:      "Total server messages sent",
	}, []string{"type"})

	// CreateRoomThrottled counts create-room requests rejected by the
	// per-IP token bucket.
	CreateRoomThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "khuphaen",
		Subsystem: "http",
		Name:      "create_room_throttled_total",
		Help:      "Total create-room requests rejected by the per-IP limiter",
	})

	// RateLimitExceeded counts requests rejected by the global API limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "khuphaen",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total requests rejected by the global rate limiter",
	}, []string{"path"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
	WebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}

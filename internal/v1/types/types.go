package types

import (
	"encoding/json"
	"time"
)

// --- Core Domain Types ---

// RoomCode is the short human-entry identifier naming a room. It is the
// namespace key for the registry.
type RoomCode string

// RoomID is the opaque unique identifier assigned to a room at creation.
type RoomID string

// PeerID identifies a participant within a room. It is chosen by the
// client and unique per room.
type PeerID string

// PeerInfo tracks a connected participant. is_host is declared by the
// client and is not verified against the room's host_id.
type PeerInfo struct {
	ID       PeerID          `json:"id"`
	JoinedAt time.Time       `json:"joined_at"`
	IsHost   bool            `json:"is_host"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// --- Room Events ---

// EventKind discriminates the variants of a RoomEvent.
type EventKind string

const (
	EventPeerJoined     EventKind = "peer_joined"
	EventPeerLeft       EventKind = "peer_left"
	EventDataSync       EventKind = "data_sync"
	EventDocumentUpdate EventKind = "document_update"
	EventHostChanged    EventKind = "host_changed"
)

// RoomEvent is the tagged union fanned out on a room's bus. Only the
// fields belonging to the Kind are populated; use the constructors below
// rather than building events by hand.
type RoomEvent struct {
	Kind EventKind

	// EventPeerJoined
	Peer *PeerInfo

	// EventPeerLeft
	PeerID PeerID

	// EventDataSync and EventDocumentUpdate
	From     PeerID
	Data     string
	Document string

	// EventHostChanged
	NewHostID PeerID
}

// NewPeerJoinedEvent announces a peer that entered the room.
func NewPeerJoinedEvent(peer PeerInfo) RoomEvent {
	return RoomEvent{Kind: EventPeerJoined, Peer: &peer}
}

// NewPeerLeftEvent announces a peer that left the room.
func NewPeerLeftEvent(peerID PeerID) RoomEvent {
	return RoomEvent{Kind: EventPeerLeft, PeerID: peerID}
}

// NewDataSyncEvent carries an opaque application payload from one peer to
// the rest of the room.
func NewDataSyncEvent(from PeerID, data string) RoomEvent {
	return RoomEvent{Kind: EventDataSync, From: from, Data: data}
}

// NewDocumentUpdateEvent carries a full document snapshot pushed by a peer.
func NewDocumentUpdateEvent(from PeerID, document string) RoomEvent {
	return RoomEvent{Kind: EventDocumentUpdate, From: from, Document: document}
}

// NewHostChangedEvent is reserved; sessions currently drop it.
func NewHostChangedEvent(newHostID PeerID) RoomEvent {
	return RoomEvent{Kind: EventHostChanged, NewHostID: newHostID}
}

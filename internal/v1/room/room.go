// Package room owns room state: the registry keyed by room code, the
// per-room peer set and document snapshot, the fan-out bus, and the idle
// reaper. Rooms are reached only through the Registry; sessions keep a
// room code and a bus subscription, never a long-lived *Room across I/O.
package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khuphaen/sync-server/internal/v1/logging"
	"github.com/khuphaen/sync-server/internal/v1/metrics"
	"github.com/khuphaen/sync-server/internal/v1/types"
)

// BusCapacity is the per-subscriber in-flight buffer. A subscriber that
// falls further behind loses its oldest buffered events.
const BusCapacity = 256

// Subscription is one subscriber's view of a room's fan-out bus.
type Subscription struct {
	ch chan types.RoomEvent
}

// Events returns the receive side of the subscription. The channel is
// closed when the subscription is cancelled.
func (s *Subscription) Events() <-chan types.RoomEvent {
	return s.ch
}

// Room is the per-room state. All methods lock internally and never
// perform network I/O, so callers are free to hold results across socket
// writes without holding the room guard.
type Room struct {
	ID        types.RoomID
	Code      types.RoomCode
	HostID    types.PeerID
	CreatedAt time.Time

	mu         sync.RWMutex
	peers      map[types.PeerID]types.PeerInfo
	document   string
	hasDoc     bool
	lastSync   time.Time
	emptySince *time.Time
	subs       map[*Subscription]struct{}
}

// NewRoom creates an empty room. Rooms start with emptySince set because
// they have no peers until the first join.
func NewRoom(id types.RoomID, code types.RoomCode, hostID types.PeerID, now time.Time) *Room {
	emptySince := now
	return &Room{
		ID:         id,
		Code:       code,
		HostID:     hostID,
		CreatedAt:  now,
		peers:      make(map[types.PeerID]types.PeerInfo),
		lastSync:   now,
		emptySince: &emptySince,
		subs:       make(map[*Subscription]struct{}),
	}
}

// JoinSnapshot is the consistent view handed to a joining session so it
// can emit room_info, connected and document_sync without re-locking.
type JoinSnapshot struct {
	HostID      types.PeerID
	Peers       []types.PeerInfo
	Document    string
	HasDocument bool
	Revived     bool
}

// Join subscribes the caller to the bus, inserts the peer and publishes
// PeerJoined, in that order. Subscribing before insertion means the
// joiner observes every event from its own PeerJoined onward, including
// concurrent joins it would otherwise miss.
func (r *Room) Join(peer types.PeerInfo) (*Subscription, JoinSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	revived := r.emptySince != nil
	if revived {
		r.emptySince = nil
	}

	sub := &Subscription{ch: make(chan types.RoomEvent, BusCapacity)}
	r.subs[sub] = struct{}{}

	r.peers[peer.ID] = peer
	r.publishLocked(types.NewPeerJoinedEvent(peer))

	peers := make([]types.PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}

	metrics.ConnectedPeers.Inc()

	return sub, JoinSnapshot{
		HostID:      r.HostID,
		Peers:       peers,
		Document:    r.document,
		HasDocument: r.hasDoc,
		Revived:     revived,
	}
}

// Leave removes the peer and publishes PeerLeft. When the peer set
// empties, emptySince is stamped with now. Returns whether the peer was
// present and whether the room is now empty.
func (r *Room) Leave(peerID types.PeerID, now time.Time) (removed bool, emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[peerID]; ok {
		delete(r.peers, peerID)
		removed = true
		metrics.ConnectedPeers.Dec()
	}

	r.publishLocked(types.NewPeerLeftEvent(peerID))

	if len(r.peers) == 0 {
		emptySince := now
		r.emptySince = &emptySince
		emptied = true
	}
	return removed, emptied
}

// Unsubscribe detaches a subscription from the bus and closes its
// channel. Safe to call more than once per subscription.
func (r *Room) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; ok {
		delete(r.subs, sub)
		close(sub.ch)
	}
}

// Publish fans an event out to every subscriber.
func (r *Room) Publish(ev types.RoomEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishLocked(ev)
}

// publishLocked delivers ev to each subscriber's buffer. A full buffer
// sheds its oldest event first so slow subscribers see a prefix-monotonic
// truncation rather than blocking the publisher.
func (r *Room) publishLocked(ev types.RoomEvent) {
	for sub := range r.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		select {
		case <-sub.ch:
			metrics.RoomEventsDropped.Inc()
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.RoomEventsDropped.Inc()
		}
	}
}

// SetDocument stores the latest snapshot pushed by a peer.
func (r *Room) SetDocument(document string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.document = document
	r.hasDoc = true
	r.lastSync = now
}

// Document returns the stored snapshot and whether one was ever pushed.
func (r *Room) Document() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.document, r.hasDoc
}

// LastSync returns the instant of the last snapshot write.
func (r *Room) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync
}

// EmptySince reports when the peer set last became empty, if it is empty.
func (r *Room) EmptySince() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.emptySince == nil {
		return time.Time{}, false
	}
	return *r.emptySince, true
}

// Peers returns a copy of the current peer list.
func (r *Room) Peers() []types.PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]types.PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

// PeerCount returns the current number of peers.
func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// idleFor reports whether the room has been empty for at least threshold.
// Called with the registry write lock held by RemoveIfIdle.
func (r *Room) idleFor(threshold time.Duration, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.emptySince == nil {
		return false
	}
	return now.Sub(*r.emptySince) >= threshold
}

// closeAllSubscriptions drops every subscriber. Used on shutdown-free
// removal paths; live sessions notice the closed channel and detach.
func (r *Room) closeAllSubscriptions() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subs {
		delete(r.subs, sub)
		close(sub.ch)
	}
}

func (r *Room) logRetention(ctx context.Context, threshold time.Duration) {
	if threshold == 0 {
		logging.Info(ctx, "Room is empty; keeping indefinitely", zap.String("roomCode", string(r.Code)))
		return
	}
	logging.Info(ctx, "Room is empty; keeping before cleanup",
		zap.String("roomCode", string(r.Code)),
		zap.Duration("retention", threshold),
	)
}

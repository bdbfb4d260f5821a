package room

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/khuphaen/sync-server/internal/v1/logging"
	"github.com/khuphaen/sync-server/internal/v1/metrics"
	"github.com/khuphaen/sync-server/internal/v1/types"
)

// ErrRoomNotFound is returned when an operation names a room code with no
// live room behind it.
var ErrRoomNotFound = errors.New("Room not found")

// CodeAlphabet is the room-code character set. Visually ambiguous glyphs
// (0/O, 1/I/L) are excluded so codes survive being read aloud.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a room code.
const CodeLength = 6

// GenerateCode returns a random room code. Collisions are not retried;
// the registry's insert-if-absent resolves them by keeping the room
// already in the map.
func GenerateCode() types.RoomCode {
	buf := make([]byte, CodeLength)
	for i := range buf {
		buf[i] = CodeAlphabet[rand.Intn(len(CodeAlphabet))]
	}
	return types.RoomCode(buf)
}

// Registry is the authoritative room_code -> Room mapping. Reads share a
// lock; writes (insert, remove) are exclusive. It is the only way to
// reach a Room.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[types.RoomCode]*Room
	clock       clock.Clock
	idleTimeout time.Duration
}

// NewRegistry creates an empty registry. idleTimeout is the reaper
// threshold; zero means empty rooms are kept until process exit.
func NewRegistry(idleTimeout time.Duration) *Registry {
	return NewRegistryWithClock(idleTimeout, clock.RealClock{})
}

// NewRegistryWithClock injects the clock, letting tests drive time.
func NewRegistryWithClock(idleTimeout time.Duration, c clock.Clock) *Registry {
	return &Registry{
		rooms:       make(map[types.RoomCode]*Room),
		clock:       c,
		idleTimeout: idleTimeout,
	}
}

// IdleTimeout returns the configured reaper threshold.
func (reg *Registry) IdleTimeout() time.Duration {
	return reg.idleTimeout
}

// Lookup returns the room for a code, if present.
func (reg *Registry) Lookup(code types.RoomCode) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[code]
	return r, ok
}

// Insert adds the room under its code unless the code is already taken,
// and returns whichever room ends up in the map. The second result is
// true when the given room was inserted.
func (reg *Registry) Insert(r *Room) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if existing, ok := reg.rooms[r.Code]; ok {
		return existing, false
	}
	reg.rooms[r.Code] = r
	metrics.ActiveRooms.Inc()
	return r, true
}

// Remove deletes the room for a code. Returns true when a room was
// removed.
func (reg *Registry) Remove(code types.RoomCode) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[code]
	if !ok {
		return false
	}
	delete(reg.rooms, code)
	metrics.ActiveRooms.Dec()
	r.closeAllSubscriptions()
	return true
}

// RemoveIfIdle deletes the room only if it is still empty past the
// threshold at the time of removal. The idleness re-check happens with
// the registry write lock held, so a join racing with the reaper either
// lands first (the room is kept) or finds the code gone and fails with
// ErrRoomNotFound. Removed rooms never come back with stale peers.
func (reg *Registry) RemoveIfIdle(code types.RoomCode, threshold time.Duration) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[code]
	if !ok {
		return false
	}
	if !r.idleFor(threshold, reg.clock.Now()) {
		return false
	}
	delete(reg.rooms, code)
	metrics.ActiveRooms.Dec()
	r.closeAllSubscriptions()
	return true
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Codes returns a snapshot of the live room codes.
func (reg *Registry) Codes() []types.RoomCode {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	codes := make([]types.RoomCode, 0, len(reg.rooms))
	for code := range reg.rooms {
		codes = append(codes, code)
	}
	return codes
}

// Join atomically resolves a code and joins the peer, so a session can
// never join a room the reaper removed between lookup and use.
func (reg *Registry) Join(ctx context.Context, code types.RoomCode, peer types.PeerInfo) (*Subscription, JoinSnapshot, error) {
	reg.mu.RLock()
	r, ok := reg.rooms[code]
	if !ok {
		reg.mu.RUnlock()
		return nil, JoinSnapshot{}, ErrRoomNotFound
	}
	sub, snapshot := r.Join(peer)
	reg.mu.RUnlock()

	if snapshot.Revived {
		logging.Info(ctx, "Room revived", zap.String("roomCode", string(code)))
	}
	return sub, snapshot, nil
}

// Leave removes the peer from the named room, publishes PeerLeft and
// stamps emptySince when the room empties. A missing room is a no-op.
func (reg *Registry) Leave(ctx context.Context, code types.RoomCode, peerID types.PeerID) {
	r, ok := reg.Lookup(code)
	if !ok {
		return
	}

	_, emptied := r.Leave(peerID, reg.clock.Now())
	logging.Info(ctx, "Peer left room",
		zap.String("peerId", string(peerID)),
		zap.String("roomCode", string(code)),
	)
	if emptied {
		r.logRetention(ctx, reg.idleTimeout)
	}
}

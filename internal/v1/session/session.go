package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/khuphaen/sync-server/internal/v1/logging"
	"github.com/khuphaen/sync-server/internal/v1/metrics"
	"github.com/khuphaen/sync-server/internal/v1/room"
	"github.com/khuphaen/sync-server/internal/v1/types"
)

// errCloseSession signals an orderly close requested by the client.
var errCloseSession = errors.New("session closed by client")

// session is the per-connection state machine. It is confined to its run
// goroutine; nothing here needs a mutex.
type session struct {
	hub  *Hub
	conn wsConnection

	joined   bool
	roomCode types.RoomCode
	peerID   types.PeerID
	sub      *room.Subscription
}

func newSession(h *Hub, conn wsConnection) *session {
	return &session{hub: h, conn: conn}
}

// readLoop feeds inbound text frames to the select loop. Non-text frames
// are ignored. The channel closes when the connection does.
func (s *session) readLoop(inbound chan<- []byte) {
	defer close(inbound)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		inbound <- data
	}
}

// run multiplexes the three event sources until a terminal exit, then
// executes the leave path. When not joined, the room arm selects on a
// nil channel and blocks forever rather than busy-looping.
func (s *session) run(ctx context.Context) {
	inbound := make(chan []byte, 16)
	go s.readLoop(inbound)

	defer func() {
		s.leave(ctx)
		_ = s.conn.Close()
	}()

	for {
		var events <-chan types.RoomEvent
		if s.sub != nil {
			events = s.sub.Events()
		}

		select {
		case raw, ok := <-inbound:
			if !ok {
				logging.Info(ctx, "WebSocket stream ended", zap.String("peerId", string(s.peerID)))
				return
			}
			logInbound(ctx, raw)
			if err := s.handleFrame(ctx, raw); err != nil {
				if errors.Is(err, errCloseSession) {
					return
				}
				logging.Warn(ctx, "Session terminating on transport error", zap.Error(err))
				return
			}

		case ev, ok := <-events:
			if !ok {
				// The room was removed from under us; detach and keep
				// serving so the client can join elsewhere.
				s.sub = nil
				continue
			}
			if err := s.forwardRoomEvent(ctx, ev); err != nil {
				logging.Warn(ctx, "Failed to forward room event", zap.Error(err))
				return
			}

		case <-s.hub.shutdown:
			logging.Info(ctx, "Server shutting down, closing connection", zap.String("peerId", string(s.peerID)))
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// logInbound records the frame, truncated past 200 bytes.
func logInbound(ctx context.Context, raw []byte) {
	if len(raw) < 200 {
		logging.Info(ctx, "Received message", zap.ByteString("frame", raw))
		return
	}
	logging.Info(ctx, "Received message",
		zap.Int("len", len(raw)),
		zap.ByteString("prefix", raw[:50]),
	)
}

// handleFrame parses and dispatches one client frame. Protocol errors
// answer with an error message and keep the session open; only write
// failures propagate.
func (s *session) handleFrame(ctx context.Context, raw []byte) error {
	msg, err := types.ParseClientMessage(raw)
	if err != nil {
		logging.Warn(ctx, "Invalid message format", zap.Error(err))
		return s.send(types.NewErrorMessage(fmt.Sprintf("Invalid message format: %v", err)))
	}

	metrics.MessagesReceived.WithLabelValues(string(msg.Action)).Inc()

	switch msg.Action {
	case types.ActionJoin:
		return s.handleJoin(ctx, msg)
	case types.ActionLeave:
		return s.handleLeave(ctx)
	case types.ActionBroadcast:
		return s.handleBroadcast(ctx, *msg.Data)
	case types.ActionSyncDocument:
		return s.handleSyncDocument(ctx, *msg.Document)
	case types.ActionRequestSync:
		return s.handleRequestSync(ctx)
	case types.ActionPing:
		return s.send(types.NewPongMessage())
	}
	return nil
}

func (s *session) handleJoin(ctx context.Context, msg types.ClientMessage) error {
	peer := types.PeerInfo{
		ID:       msg.PeerID,
		JoinedAt: time.Now().UTC(),
		IsHost:   msg.IsHost,
		Metadata: msg.Metadata,
	}

	sub, snapshot, err := s.hub.registry.Join(ctx, msg.RoomCode, peer)
	if err != nil {
		// The room may have been reaped between the client learning the
		// code and joining; the session stays open for a retry.
		return s.send(types.NewErrorMessage("Room not found"))
	}

	// A second join moves the session; the old subscription is dropped.
	// The old room keeps the stale peer entry until that peer id leaves.
	if s.sub != nil {
		if old, ok := s.hub.registry.Lookup(s.roomCode); ok {
			old.Unsubscribe(s.sub)
		}
		s.sub = nil
	}

	s.joined = true
	s.roomCode = msg.RoomCode
	s.peerID = msg.PeerID
	s.sub = sub

	if err := s.send(types.NewRoomInfoMessage(msg.RoomCode, snapshot.HostID, snapshot.Peers)); err != nil {
		return err
	}
	if err := s.send(types.NewConnectedMessage(msg.PeerID, msg.RoomCode)); err != nil {
		return err
	}

	logging.Info(ctx, "Peer joined",
		zap.String("peerId", string(msg.PeerID)),
		zap.String("roomCode", string(msg.RoomCode)),
		zap.Bool("isHost", msg.IsHost),
	)

	if snapshot.HasDocument {
		return s.send(types.NewDocumentSyncMessage(snapshot.Document))
	}
	return nil
}

func (s *session) handleLeave(ctx context.Context) error {
	if !s.joined {
		// Never joined; dropping a subscription we don't have is a no-op.
		return nil
	}
	s.leave(ctx)
	return errCloseSession
}

func (s *session) handleBroadcast(ctx context.Context, data string) error {
	if !s.joined {
		return nil
	}
	if r, ok := s.hub.registry.Lookup(s.roomCode); ok {
		r.Publish(types.NewDataSyncEvent(s.peerID, data))
	}
	return nil
}

func (s *session) handleSyncDocument(ctx context.Context, document string) error {
	if !s.joined {
		return nil
	}
	r, ok := s.hub.registry.Lookup(s.roomCode)
	if !ok {
		return nil
	}

	r.SetDocument(document, time.Now().UTC())
	r.Publish(types.NewDocumentUpdateEvent(s.peerID, document))

	logging.Info(ctx, "Document synced",
		zap.String("peerId", string(s.peerID)),
		zap.String("roomCode", string(s.roomCode)),
	)
	return nil
}

func (s *session) handleRequestSync(ctx context.Context) error {
	if !s.joined {
		return nil
	}
	r, ok := s.hub.registry.Lookup(s.roomCode)
	if !ok {
		return nil
	}

	// An unset document answers with the empty string.
	document, _ := r.Document()
	return s.send(types.NewDocumentSyncMessage(document))
}

// leave is the terminal cleanup path. It is idempotent: the first call
// takes the session's room/peer state, so a second call no-ops.
func (s *session) leave(ctx context.Context) {
	if s.sub != nil {
		if r, ok := s.hub.registry.Lookup(s.roomCode); ok {
			r.Unsubscribe(s.sub)
		}
		s.sub = nil
	}
	if !s.joined {
		return
	}
	s.joined = false
	code, peerID := s.roomCode, s.peerID
	s.roomCode, s.peerID = "", ""

	s.hub.registry.Leave(ctx, code, peerID)
}

// forwardRoomEvent translates a bus event to a server message, applying
// sender suppression to data and document events. A session's own
// peer_joined is NOT suppressed; clients use it as a self-ack.
func (s *session) forwardRoomEvent(ctx context.Context, ev types.RoomEvent) error {
	switch ev.Kind {
	case types.EventPeerJoined:
		if ev.Peer == nil {
			return nil
		}
		return s.send(types.NewPeerJoinedMessage(*ev.Peer))

	case types.EventPeerLeft:
		return s.send(types.NewPeerLeftMessage(ev.PeerID))

	case types.EventDataSync:
		if ev.From == s.peerID {
			return nil
		}
		return s.send(types.NewDataMessage(ev.From, ev.Data))

	case types.EventDocumentUpdate:
		if ev.From == s.peerID {
			return nil
		}
		return s.send(types.NewDocumentSyncMessage(ev.Document))

	case types.EventHostChanged:
		// Reserved; sessions drop it.
		return nil
	}
	return nil
}

// send marshals and writes one frame on the loop goroutine.
func (s *session) send(msg types.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.MessageType(), err)
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s message: %w", msg.MessageType(), err)
	}

	metrics.MessagesSent.WithLabelValues(msg.MessageType()).Inc()
	return nil
}

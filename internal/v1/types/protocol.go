package types

import (
	"encoding/json"
	"fmt"
)

// --- Client → Server ---

// ClientAction discriminates inbound frames. The wire form is a flat JSON
// object with an "action" key and the payload keys as siblings.
type ClientAction string

const (
	ActionJoin         ClientAction = "join"
	ActionLeave        ClientAction = "leave"
	ActionBroadcast    ClientAction = "broadcast"
	ActionSyncDocument ClientAction = "sync_document"
	ActionRequestSync  ClientAction = "request_sync"
	ActionPing         ClientAction = "ping"
)

// ClientMessage is the parsed form of an inbound frame. Data and Document
// are pointers so a missing payload key can be told apart from an empty
// string; ParseClientMessage rejects frames whose required keys are absent.
type ClientMessage struct {
	Action   ClientAction    `json:"action"`
	RoomCode RoomCode        `json:"room_code,omitempty"`
	PeerID   PeerID          `json:"peer_id,omitempty"`
	IsHost   bool            `json:"is_host,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Data     *string         `json:"data,omitempty"`
	Document *string         `json:"document,omitempty"`
}

// ParseClientMessage decodes and validates a single inbound text frame.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, err
	}

	switch msg.Action {
	case ActionJoin:
		if msg.RoomCode == "" {
			return ClientMessage{}, fmt.Errorf("missing field `room_code`")
		}
		if msg.PeerID == "" {
			return ClientMessage{}, fmt.Errorf("missing field `peer_id`")
		}
	case ActionBroadcast:
		if msg.Data == nil {
			return ClientMessage{}, fmt.Errorf("missing field `data`")
		}
	case ActionSyncDocument:
		if msg.Document == nil {
			return ClientMessage{}, fmt.Errorf("missing field `document`")
		}
	case ActionLeave, ActionRequestSync, ActionPing:
	case "":
		return ClientMessage{}, fmt.Errorf("missing field `action`")
	default:
		return ClientMessage{}, fmt.Errorf("unknown variant `%s`", msg.Action)
	}

	return msg, nil
}

// --- Server → Client ---

const (
	MsgConnected    = "connected"
	MsgPeerJoined   = "peer_joined"
	MsgPeerLeft     = "peer_left"
	MsgData         = "data"
	MsgDocumentSync = "document_sync"
	MsgError        = "error"
	MsgRoomInfo     = "room_info"
	MsgPong         = "pong"
)

// ServerMessage is implemented by every outbound frame variant. The type
// tag is a sibling of the payload keys, never nested.
type ServerMessage interface {
	MessageType() string
}

type ConnectedMessage struct {
	Type     string   `json:"type"`
	PeerID   PeerID   `json:"peer_id"`
	RoomCode RoomCode `json:"room_code"`
}

func (m ConnectedMessage) MessageType() string { return m.Type }

func NewConnectedMessage(peerID PeerID, roomCode RoomCode) ConnectedMessage {
	return ConnectedMessage{Type: MsgConnected, PeerID: peerID, RoomCode: roomCode}
}

type PeerJoinedMessage struct {
	Type string   `json:"type"`
	Peer PeerInfo `json:"peer"`
}

func (m PeerJoinedMessage) MessageType() string { return m.Type }

func NewPeerJoinedMessage(peer PeerInfo) PeerJoinedMessage {
	return PeerJoinedMessage{Type: MsgPeerJoined, Peer: peer}
}

type PeerLeftMessage struct {
	Type   string `json:"type"`
	PeerID PeerID `json:"peer_id"`
}

func (m PeerLeftMessage) MessageType() string { return m.Type }

func NewPeerLeftMessage(peerID PeerID) PeerLeftMessage {
	return PeerLeftMessage{Type: MsgPeerLeft, PeerID: peerID}
}

type DataMessage struct {
	Type string `json:"type"`
	From PeerID `json:"from"`
	Data string `json:"data"`
}

func (m DataMessage) MessageType() string { return m.Type }

func NewDataMessage(from PeerID, data string) DataMessage {
	return DataMessage{Type: MsgData, From: from, Data: data}
}

// DocumentSyncMessage carries a full snapshot. The document key is always
// present on the wire, even for the empty string.
type DocumentSyncMessage struct {
	Type     string `json:"type"`
	Document string `json:"document"`
}

func (m DocumentSyncMessage) MessageType() string { return m.Type }

func NewDocumentSyncMessage(document string) DocumentSyncMessage {
	return DocumentSyncMessage{Type: MsgDocumentSync, Document: document}
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m ErrorMessage) MessageType() string { return m.Type }

func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: MsgError, Message: message}
}

type RoomInfoMessage struct {
	Type     string     `json:"type"`
	RoomCode RoomCode   `json:"room_code"`
	HostID   PeerID     `json:"host_id"`
	Peers    []PeerInfo `json:"peers"`
}

func (m RoomInfoMessage) MessageType() string { return m.Type }

func NewRoomInfoMessage(roomCode RoomCode, hostID PeerID, peers []PeerInfo) RoomInfoMessage {
	return RoomInfoMessage{Type: MsgRoomInfo, RoomCode: roomCode, HostID: hostID, Peers: peers}
}

type PongMessage struct {
	Type string `json:"type"`
}

func (m PongMessage) MessageType() string { return m.Type }

func NewPongMessage() PongMessage {
	return PongMessage{Type: MsgPong}
}

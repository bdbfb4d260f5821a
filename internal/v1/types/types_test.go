package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCode(t *testing.T) {
	code := RoomCode("ABC234")
	assert.Equal(t, "ABC234", string(code))
}

func TestRoomID(t *testing.T) {
	id := RoomID("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", string(id))
}

func TestPeerID(t *testing.T) {
	id := PeerID("peer-1")
	assert.Equal(t, "peer-1", string(id))
}

func TestPeerInfoJSONKeys(t *testing.T) {
	joined := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	info := PeerInfo{
		ID:       "alice",
		JoinedAt: joined,
		IsHost:   false,
	}

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "alice", decoded["id"])
	assert.Contains(t, decoded, "joined_at")
	// is_host must always be present on the wire, even when false.
	assert.Equal(t, false, decoded["is_host"])
	// metadata is optional and omitted when unset.
	assert.NotContains(t, decoded, "metadata")
}

func TestPeerInfoMetadataRoundTrip(t *testing.T) {
	info := PeerInfo{
		ID:       "bob",
		JoinedAt: time.Now().UTC(),
		IsHost:   true,
		Metadata: json.RawMessage(`{"color":"teal"}`),
	}

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var decoded PeerInfo
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, info.ID, decoded.ID)
	assert.True(t, decoded.IsHost)
	assert.JSONEq(t, `{"color":"teal"}`, string(decoded.Metadata))
}

func TestNewPeerJoinedEvent(t *testing.T) {
	peer := PeerInfo{ID: "alice", IsHost: true}
	ev := NewPeerJoinedEvent(peer)

	assert.Equal(t, EventPeerJoined, ev.Kind)
	require.NotNil(t, ev.Peer)
	assert.Equal(t, PeerID("alice"), ev.Peer.ID)
}

func TestNewPeerLeftEvent(t *testing.T) {
	ev := NewPeerLeftEvent("bob")

	assert.Equal(t, EventPeerLeft, ev.Kind)
	assert.Equal(t, PeerID("bob"), ev.PeerID)
}

func TestNewDataSyncEvent(t *testing.T) {
	ev := NewDataSyncEvent("alice", "payload")

	assert.Equal(t, EventDataSync, ev.Kind)
	assert.Equal(t, PeerID("alice"), ev.From)
	assert.Equal(t, "payload", ev.Data)
}

func TestNewDocumentUpdateEvent(t *testing.T) {
	ev := NewDocumentUpdateEvent("alice", `{"tasks":{}}`)

	assert.Equal(t, EventDocumentUpdate, ev.Kind)
	assert.Equal(t, PeerID("alice"), ev.From)
	assert.Equal(t, `{"tasks":{}}`, ev.Document)
}

func TestNewHostChangedEvent(t *testing.T) {
	ev := NewHostChangedEvent("carol")

	assert.Equal(t, EventHostChanged, ev.Kind)
	assert.Equal(t, PeerID("carol"), ev.NewHostID)
}

func TestEventKindComparison(t *testing.T) {
	a := NewDataSyncEvent("x", "1")
	b := NewDataSyncEvent("y", "2")

	assert.Equal(t, a.Kind, b.Kind)
	assert.NotEqual(t, a.From, b.From)
}

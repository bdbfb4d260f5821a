// Package crdt implements a last-write-wins task replica. Each node
// holds a full copy of the task set; fields carry Lamport timestamps
// and conflicts resolve to the highest (counter, node_id) pair. Deletes
// are tombstones, never physical removal, so they win over concurrent
// edits with lower timestamps.
//
// A Document is owned by a single goroutine; replicas exchange state
// through Export/Merge snapshots or ApplyOperations deltas.
package crdt

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// LamportTimestamp orders writes across nodes. Counters order first;
// node IDs break ties, so no two nodes ever produce equal timestamps
// for distinct writes.
type LamportTimestamp struct {
	Counter uint64 `json:"counter"`
	NodeID  string `json:"node_id"`
}

// Compare returns -1, 0 or 1 for the lexicographic (counter, node_id)
// order.
func (t LamportTimestamp) Compare(o LamportTimestamp) int {
	if t.Counter != o.Counter {
		if t.Counter < o.Counter {
			return -1
		}
		return 1
	}
	if t.NodeID != o.NodeID {
		if t.NodeID < o.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// After reports whether t is strictly greater than o.
func (t LamportTimestamp) After(o LamportTimestamp) bool {
	return t.Compare(o) > 0
}

func (t LamportTimestamp) String() string {
	return fmt.Sprintf("(%d,%s)", t.Counter, t.NodeID)
}

// Value is one field's register: the current value and the timestamp
// of the write that set it.
type Value struct {
	Value     string           `json:"value"`
	Timestamp LamportTimestamp `json:"timestamp"`
}

// Task is one replicated task. Deleted tasks stay in the map as
// tombstones so a delete observed late still wins over older edits.
type Task struct {
	ID        uint32           `json:"id"`
	Fields    map[string]Value `json:"fields"`
	Deleted   bool             `json:"deleted"`
	CreatedAt LamportTimestamp `json:"created_at"`
	UpdatedAt LamportTimestamp `json:"updated_at"`
}

func (t *Task) clone() *Task {
	fields := make(map[string]Value, len(t.Fields))
	for k, v := range t.Fields {
		fields[k] = v
	}
	cp := *t
	cp.Fields = fields
	return &cp
}

// OpType discriminates the operation variants. Insert versus Update is
// advisory; application treats them identically.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Operation is one journal entry. Field and Value are empty for
// deletes.
type Operation struct {
	Type      OpType           `json:"type"`
	TaskID    uint32           `json:"task_id"`
	Field     string           `json:"field,omitempty"`
	Value     string           `json:"value,omitempty"`
	Timestamp LamportTimestamp `json:"timestamp"`
}

// SyncCodeAlphabet is the character set for shareable sync codes,
// matching the room-code alphabet: no 0/O, 1/I/L.
const SyncCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// SyncCodeLength is the number of characters in a sync code.
const SyncCodeLength = 6

// syncCodeFromHash folds a 64-bit hash into a short code, least
// significant digits first.
func syncCodeFromHash(n uint64) string {
	base := uint64(len(SyncCodeAlphabet))
	buf := make([]byte, SyncCodeLength)
	for i := range buf {
		buf[i] = SyncCodeAlphabet[n%base]
		n /= base
	}
	return string(buf)
}

// GenerateNodeID derives a node identity from a millisecond timestamp,
// for callers without a stable identity of their own. Equal inputs give
// equal IDs; uniqueness is up to the caller's clock.
func GenerateNodeID(timestampMs uint32) string {
	h := fnv.New64a()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], timestampMs)
	_, _ = h.Write(buf[:])
	return fmt.Sprintf("node_%x", h.Sum64())
}

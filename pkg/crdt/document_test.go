package crdt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportOps(t *testing.T, d *Document) string {
	t.Helper()
	data, err := json.Marshal(d.Operations())
	require.NoError(t, err)
	return string(data)
}

func mustExport(t *testing.T, d *Document) string {
	t.Helper()
	out, err := d.Export()
	require.NoError(t, err)
	return out
}

func TestUpsertCreatesTask(t *testing.T) {
	d := NewDocument("node_x")
	d.UpsertField(1, "title", "Buy milk")

	task, ok := d.Task(1)
	require.True(t, ok)
	assert.Equal(t, uint32(1), task.ID)
	assert.Equal(t, "Buy milk", task.Fields["title"].Value)
	assert.Equal(t, LamportTimestamp{Counter: 1, NodeID: "node_x"}, task.CreatedAt)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
}

func TestJournalTagsFirstTitleAsInsert(t *testing.T) {
	d := NewDocument("node_x")
	d.UpsertField(1, "title", "Buy milk")
	d.UpsertField(1, "notes", "2 liters")
	d.UpsertField(2, "notes", "no title yet")
	d.UpsertField(1, "title", "Buy oat milk")

	ops := d.Operations()
	require.Len(t, ops, 4)
	assert.Equal(t, OpInsert, ops[0].Type, "first field, title")
	assert.Equal(t, OpUpdate, ops[1].Type, "second field")
	assert.Equal(t, OpUpdate, ops[2].Type, "first field but not title")
	assert.Equal(t, OpUpdate, ops[3].Type, "title again on existing task")
}

func TestCounterAdvancesPerLocalWrite(t *testing.T) {
	d := NewDocument("node_x")
	d.UpsertField(1, "title", "a")
	d.UpsertField(1, "title", "b")
	d.DeleteTask(1)
	d.DeleteTask(99) // absent, still costs a tick

	assert.Equal(t, uint64(4), d.Stats().Counter)
}

func TestDeleteTombstonesAndJournals(t *testing.T) {
	d := NewDocument("node_x")
	d.UpsertField(1, "title", "Buy milk")
	d.DeleteTask(1)

	_, ok := d.Task(1)
	assert.False(t, ok)
	assert.Empty(t, d.Tasks())

	ops := d.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, OpDelete, ops[1].Type)
	assert.Empty(t, ops[1].Field)

	stats := d.Stats()
	assert.Equal(t, 0, stats.ActiveTasks)
	assert.Equal(t, 1, stats.DeletedTasks)
}

func TestDeleteAbsentTaskJournalsNothing(t *testing.T) {
	d := NewDocument("node_x")
	d.DeleteTask(42)

	assert.Empty(t, d.Operations())
	assert.Equal(t, uint64(1), d.Stats().Counter)
}

func TestTasksSortedAndCopied(t *testing.T) {
	d := NewDocument("node_x")
	d.UpsertField(3, "title", "c")
	d.UpsertField(1, "title", "a")
	d.UpsertField(2, "title", "b")

	tasks := d.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, uint32(1), tasks[0].ID)
	assert.Equal(t, uint32(3), tasks[2].ID)

	// Mutating the returned task must not leak into the replica.
	tasks[0].Fields["title"] = Value{Value: "hacked"}
	inside, _ := d.Task(1)
	assert.Equal(t, "a", inside.Fields["title"].Value)
}

func TestMergeHigherTimestampWins(t *testing.T) {
	x := NewDocument("node_x")
	y := NewDocument("node_y")

	x.UpsertField(1, "title", "a") // (1, node_x)
	y.UpsertField(1, "title", "b") // (1, node_y)
	y.UpsertField(1, "title", "c") // (2, node_y)

	require.NoError(t, x.Merge(mustExport(t, y)))
	require.NoError(t, y.Merge(mustExport(t, x)))

	xt, _ := x.Task(1)
	yt, _ := y.Task(1)
	assert.Equal(t, "c", xt.Fields["title"].Value)
	assert.Equal(t, "c", yt.Fields["title"].Value)
}

func TestMergeTieBreaksByNodeID(t *testing.T) {
	x := NewDocument("node_x")
	y := NewDocument("node_y")

	x.UpsertField(1, "title", "from-x") // (1, node_x)
	y.UpsertField(1, "title", "from-y") // (1, node_y)

	require.NoError(t, x.Merge(mustExport(t, y)))
	require.NoError(t, y.Merge(mustExport(t, x)))

	// node_y > node_x at equal counters, so both sides land on y's write.
	xt, _ := x.Task(1)
	yt, _ := y.Task(1)
	assert.Equal(t, "from-y", xt.Fields["title"].Value)
	assert.Equal(t, "from-y", yt.Fields["title"].Value)
	assert.Equal(t, mustExport(t, x), mustExport(t, y))
}

func TestMergeDeleteWinsOverOlderEdit(t *testing.T) {
	x := NewDocument("node_x")
	y := NewDocument("node_y")

	x.UpsertField(1, "title", "task")
	require.NoError(t, y.Merge(mustExport(t, x)))

	// The tombstone's (1, node_y) outranks x's (1, node_x) update.
	y.DeleteTask(1)

	require.NoError(t, x.Merge(mustExport(t, y)))

	_, ok := x.Task(1)
	assert.False(t, ok, "a newer tombstone must win on merge")
}

func TestMergeDropsUnknownTombstones(t *testing.T) {
	x := NewDocument("node_x")
	y := NewDocument("node_y")

	y.UpsertField(1, "title", "doomed")
	y.DeleteTask(1)

	require.NoError(t, x.Merge(mustExport(t, y)))
	assert.Equal(t, 0, x.Stats().DeletedTasks, "tombstones for unseen tasks are not imported")
	assert.Equal(t, 0, x.Stats().ActiveTasks)
}

func TestMergeRejectsBadJSON(t *testing.T) {
	d := NewDocument("node_x")
	err := d.Merge("{")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error")
}

func TestMergeRejectsTaskWithoutFields(t *testing.T) {
	d := NewDocument("node_x")

	err := d.Merge(`{"1":{"id":1,"deleted":false,"created_at":{"counter":1,"node_id":"a"},"updated_at":{"counter":1,"node_id":"a"}}}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error")

	// The rejected payload must not leave a half-built task behind.
	d.UpsertField(1, "title", "still works")
	task, ok := d.Task(1)
	require.True(t, ok)
	assert.Equal(t, "still works", task.Fields["title"].Value)
}

func TestApplyOperationsConvergesAcrossOrders(t *testing.T) {
	producer := NewDocument("node_p")
	producer.UpsertField(1, "title", "a")
	producer.UpsertField(1, "title", "b")
	producer.UpsertField(1, "notes", "n")
	producer.DeleteTask(2)
	producer.UpsertField(2, "title", "resurrect") // new task after failed delete
	ops := producer.Operations()

	forward := NewDocument("node_f")
	require.NoError(t, forward.ApplyOperations(exportOps(t, producer)))

	// Same batch in reverse per-task-interleaved order.
	reversed := make([]Operation, len(ops))
	for i, op := range ops {
		reversed[len(ops)-1-i] = op
	}
	data, err := json.Marshal(reversed)
	require.NoError(t, err)
	backward := NewDocument("node_b")
	require.NoError(t, backward.ApplyOperations(string(data)))

	assert.Equal(t, mustExport(t, forward), mustExport(t, backward))

	ft, ok := forward.Task(1)
	require.True(t, ok)
	assert.Equal(t, "b", ft.Fields["title"].Value)
	assert.Equal(t, "n", ft.Fields["notes"].Value)
}

func TestApplyOperationsKeepsStrictlyNewerLocalField(t *testing.T) {
	d := NewDocument("node_z")
	d.UpsertField(1, "title", "local") // (1, node_z)

	remote := []Operation{{
		Type:      OpUpdate,
		TaskID:    1,
		Field:     "title",
		Value:     "remote",
		Timestamp: LamportTimestamp{Counter: 1, NodeID: "node_a"},
	}}
	data, err := json.Marshal(remote)
	require.NoError(t, err)
	require.NoError(t, d.ApplyOperations(string(data)))

	// (1, node_z) > (1, node_a), local survives.
	task, _ := d.Task(1)
	assert.Equal(t, "local", task.Fields["title"].Value)
}

func TestApplyOperationsDoesNotAdvanceLocalCounter(t *testing.T) {
	producer := NewDocument("node_p")
	producer.UpsertField(1, "title", "a")
	producer.UpsertField(1, "notes", "b")

	consumer := NewDocument("node_c")
	require.NoError(t, consumer.ApplyOperations(exportOps(t, producer)))
	assert.Equal(t, uint64(0), consumer.Stats().Counter)

	// The next local write still starts from the local counter.
	consumer.UpsertField(9, "title", "mine")
	assert.Equal(t, uint64(1), consumer.Stats().Counter)
}

func TestApplyDeleteOnlyWithNewerTimestamp(t *testing.T) {
	d := NewDocument("node_z")
	d.UpsertField(1, "title", "keep") // updated_at (1, node_z)

	stale := []Operation{{
		Type:      OpDelete,
		TaskID:    1,
		Timestamp: LamportTimestamp{Counter: 1, NodeID: "node_a"},
	}}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, d.ApplyOperations(string(data)))
	_, ok := d.Task(1)
	assert.True(t, ok, "a stale delete must not tombstone")

	fresh := []Operation{{
		Type:      OpDelete,
		TaskID:    1,
		Timestamp: LamportTimestamp{Counter: 5, NodeID: "node_a"},
	}}
	data, err = json.Marshal(fresh)
	require.NoError(t, err)
	require.NoError(t, d.ApplyOperations(string(data)))
	_, ok = d.Task(1)
	assert.False(t, ok)
}

func TestApplyOperationsRejectsUnknownType(t *testing.T) {
	d := NewDocument("node_z")
	err := d.ApplyOperations(`[{"type":"upsert","task_id":1,"timestamp":{"counter":1,"node_id":"a"}}]`)
	assert.Error(t, err)
}

func TestImportReplacesState(t *testing.T) {
	source := NewDocument("node_s")
	source.UpsertField(1, "title", "a")
	source.UpsertField(2, "title", "b")
	source.DeleteTask(2)

	dest := NewDocument("node_d")
	dest.UpsertField(7, "title", "will vanish")

	require.NoError(t, dest.Import(mustExport(t, source)))
	assert.Equal(t, mustExport(t, source), mustExport(t, dest))

	_, ok := dest.Task(7)
	assert.False(t, ok, "import replaces, never merges")

	stats := dest.Stats()
	assert.Equal(t, 1, stats.ActiveTasks)
	assert.Equal(t, 1, stats.DeletedTasks)
}

func TestImportRejectsMalformedTasks(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing fields key", `{"1":{"id":1,"deleted":false,"created_at":{"counter":1,"node_id":"a"},"updated_at":{"counter":1,"node_id":"a"}}}`},
		{"null task object", `{"1":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDocument("node_x")
			d.UpsertField(1, "title", "keep")

			err := d.Import(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "import error")

			// A failed import leaves the replica untouched and writable.
			d.UpsertField(1, "title", "updated")
			task, ok := d.Task(1)
			require.True(t, ok)
			assert.Equal(t, "updated", task.Fields["title"].Value)
		})
	}
}

func TestImportRoundTripIsIdentity(t *testing.T) {
	d := NewDocument("node_x")
	d.UpsertField(1, "title", "a")
	d.UpsertField(1, "notes", "b")
	d.UpsertField(12, "title", "c")
	d.DeleteTask(12)

	before := mustExport(t, d)
	require.NoError(t, d.Import(before))
	assert.Equal(t, before, mustExport(t, d))
}

func TestClearOperations(t *testing.T) {
	d := NewDocument("node_x")
	d.UpsertField(1, "title", "a")
	require.Len(t, d.Operations(), 1)

	d.ClearOperations()
	assert.Empty(t, d.Operations())
	assert.Equal(t, uint64(1), d.Stats().Counter, "clearing the journal keeps the clock")
}

func TestOperationWireForm(t *testing.T) {
	d := NewDocument("node_x")
	d.UpsertField(1, "title", "a")
	d.DeleteTask(1)

	data, err := json.Marshal(d.Operations())
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 2)

	assert.Equal(t, "insert", raw[0]["type"])
	assert.Equal(t, float64(1), raw[0]["task_id"])
	assert.Equal(t, "title", raw[0]["field"])
	ts, ok := raw[0]["timestamp"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "node_x", ts["node_id"])

	assert.Equal(t, "delete", raw[1]["type"])
	assert.NotContains(t, raw[1], "field")
	assert.NotContains(t, raw[1], "value")
}

package crdt

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
)

// Document is one node's replica of the task set plus its pending
// operation journal. It is not safe for concurrent use; confine each
// document to one goroutine.
type Document struct {
	nodeID     string
	counter    uint64
	tasks      map[uint32]*Task
	operations []Operation
}

// NewDocument creates an empty replica for the node.
func NewDocument(nodeID string) *Document {
	return &Document{
		nodeID: nodeID,
		tasks:  make(map[uint32]*Task),
	}
}

// NodeID returns the replica's node identity.
func (d *Document) NodeID() string {
	return d.nodeID
}

// newTimestamp advances the local counter and mints a timestamp. Only
// local writes move the counter; remote operations never do.
func (d *Document) newTimestamp() LamportTimestamp {
	d.counter++
	return LamportTimestamp{Counter: d.counter, NodeID: d.nodeID}
}

// UpsertField writes one field of a task, creating the task if absent.
// The write is journaled as Insert when it is the task's first field and
// that field is the title, otherwise as Update.
func (d *Document) UpsertField(taskID uint32, field, value string) {
	ts := d.newTimestamp()

	task, ok := d.tasks[taskID]
	if !ok {
		task = &Task{
			ID:        taskID,
			Fields:    make(map[string]Value),
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		d.tasks[taskID] = task
	}

	// A fresh local timestamp always exceeds anything stored, but the
	// guard keeps the write path symmetric with the remote one.
	if existing, ok := task.Fields[field]; ok && !ts.After(existing.Timestamp) {
		return
	}

	task.Fields[field] = Value{Value: value, Timestamp: ts}
	task.UpdatedAt = ts

	opType := OpUpdate
	if len(task.Fields) == 1 && field == "title" {
		opType = OpInsert
	}
	d.operations = append(d.operations, Operation{
		Type:      opType,
		TaskID:    taskID,
		Field:     field,
		Value:     value,
		Timestamp: ts,
	})
}

// DeleteTask tombstones a task. The counter advances even when the task
// is absent, so a delete attempt is never free, but only a real
// tombstone is journaled.
func (d *Document) DeleteTask(taskID uint32) {
	ts := d.newTimestamp()

	task, ok := d.tasks[taskID]
	if !ok {
		return
	}
	task.Deleted = true
	task.UpdatedAt = ts
	d.operations = append(d.operations, Operation{
		Type:      OpDelete,
		TaskID:    taskID,
		Timestamp: ts,
	})
}

// Tasks returns copies of the non-deleted tasks, ordered by id.
func (d *Document) Tasks() []*Task {
	tasks := make([]*Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		if !t.Deleted {
			tasks = append(tasks, t.clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// Task returns a copy of the task, only if it exists and is not
// tombstoned.
func (d *Document) Task(taskID uint32) (*Task, bool) {
	t, ok := d.tasks[taskID]
	if !ok || t.Deleted {
		return nil, false
	}
	return t.clone(), true
}

// Merge folds another replica's exported task map into this one.
// Fields resolve per-register LWW; tombstones win when strictly newer
// than the local task's last update. Tasks unknown locally that arrive
// already deleted are dropped rather than imported as tombstones.
func (d *Document) Merge(otherTasksJSON string) error {
	var other map[uint32]*Task
	if err := json.Unmarshal([]byte(otherTasksJSON), &other); err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if err := validateTasks(other); err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	for taskID, otherTask := range other {
		local, ok := d.tasks[taskID]
		if !ok {
			if !otherTask.Deleted {
				d.tasks[taskID] = otherTask.clone()
			}
			continue
		}

		for field, otherValue := range otherTask.Fields {
			localValue, ok := local.Fields[field]
			if !ok || otherValue.Timestamp.After(localValue.Timestamp) {
				local.Fields[field] = otherValue
			}
		}

		if otherTask.Deleted && otherTask.UpdatedAt.After(local.UpdatedAt) {
			local.Deleted = true
		}
		if otherTask.UpdatedAt.After(local.UpdatedAt) {
			local.UpdatedAt = otherTask.UpdatedAt
		}
	}
	return nil
}

// ApplyOperations replays a batch of remote journal entries. Inserts and
// updates are field-level LWW writes; deletes tombstone only tasks that
// exist with an older update. The local counter is untouched.
func (d *Document) ApplyOperations(opsJSON string) error {
	var ops []Operation
	if err := json.Unmarshal([]byte(opsJSON), &ops); err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	for _, op := range ops {
		switch op.Type {
		case OpInsert, OpUpdate:
			d.applyFieldUpdate(op.TaskID, op.Field, op.Value, op.Timestamp)
		case OpDelete:
			d.applyDeletion(op.TaskID, op.Timestamp)
		default:
			return fmt.Errorf("unknown operation type %q", op.Type)
		}
	}
	return nil
}

func (d *Document) applyFieldUpdate(taskID uint32, field, value string, ts LamportTimestamp) {
	task, ok := d.tasks[taskID]
	if !ok {
		task = &Task{
			ID:        taskID,
			Fields:    make(map[string]Value),
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		d.tasks[taskID] = task
	}

	// The local register survives only a strictly newer timestamp; on a
	// tie the remote value is adopted.
	if existing, ok := task.Fields[field]; ok && existing.Timestamp.After(ts) {
		return
	}
	task.Fields[field] = Value{Value: value, Timestamp: ts}
}

func (d *Document) applyDeletion(taskID uint32, ts LamportTimestamp) {
	task, ok := d.tasks[taskID]
	if !ok {
		return
	}
	if ts.After(task.UpdatedAt) {
		task.Deleted = true
		task.UpdatedAt = ts
	}
}

// Export serializes the full task map, tombstones included. The output
// of encoding/json is canonical here: map keys come out sorted, so two
// replicas with equal state export equal bytes.
func (d *Document) Export() (string, error) {
	data, err := json.Marshal(d.tasks)
	if err != nil {
		return "", fmt.Errorf("export error: %w", err)
	}
	return string(data), nil
}

// Import replaces the task map with the given exported state.
func (d *Document) Import(tasksJSON string) error {
	var tasks map[uint32]*Task
	if err := json.Unmarshal([]byte(tasksJSON), &tasks); err != nil {
		return fmt.Errorf("import error: %w", err)
	}
	if err := validateTasks(tasks); err != nil {
		return fmt.Errorf("import error: %w", err)
	}
	if tasks == nil {
		tasks = make(map[uint32]*Task)
	}
	d.tasks = tasks
	return nil
}

// validateTasks rejects task objects that decoded without their
// required shape. A missing "fields" key leaves the map nil, and a
// task adopted in that state would break every later field write.
func validateTasks(tasks map[uint32]*Task) error {
	for id, task := range tasks {
		if task == nil {
			return fmt.Errorf("task %d is null", id)
		}
		if task.Fields == nil {
			return fmt.Errorf("task %d is missing its fields", id)
		}
	}
	return nil
}

// Operations returns a copy of the pending journal.
func (d *Document) Operations() []Operation {
	ops := make([]Operation, len(d.operations))
	copy(ops, d.operations)
	return ops
}

// ClearOperations empties the journal, typically after a successful
// push to peers.
func (d *Document) ClearOperations() {
	d.operations = d.operations[:0]
}

// Stats describes the replica for diagnostics.
type Stats struct {
	NodeID            string `json:"node_id"`
	ActiveTasks       int    `json:"active_tasks"`
	DeletedTasks      int    `json:"deleted_tasks"`
	PendingOperations int    `json:"pending_operations"`
	Counter           uint64 `json:"counter"`
}

// Stats returns current replica counts.
func (d *Document) Stats() Stats {
	s := Stats{
		NodeID:            d.nodeID,
		PendingOperations: len(d.operations),
		Counter:           d.counter,
	}
	for _, t := range d.tasks {
		if t.Deleted {
			s.DeletedTasks++
		} else {
			s.ActiveTasks++
		}
	}
	return s
}

// SyncCode derives the node's shareable 6-character code. Stable per
// node ID; not a secret.
func (d *Document) SyncCode() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(d.nodeID))
	return syncCodeFromHash(h.Sum64())
}

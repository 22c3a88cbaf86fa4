// Package operation implements the persistable task-mutation state
// machines described in spec.md §4.3: ConnectChildOperation,
// InvalidateOperation, UpdateOutputOperation, UpdateCellOperation,
// UpdateCollectibleOperation, and CleanupOldEdgesOperation. Each is a
// tagged-variant value with `Done` as its terminal state; `Execute` loops
// "check suspend point → match state → perform a bounded chunk of work →
// advance" and never holds more than one task's lock across a suspension
// point.
package operation

import (
	"bytes"
	"encoding/gob"
	"sync/atomic"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/event"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// Barrier is the snapshot coordinator's narrow contract with a running
// operation, kept here rather than imported from internal/snapshot to
// avoid a dependency cycle (snapshot needs Operation to persist the
// pending-operations set; operation must not need snapshot back).
// CheckSuspend is called at every SuspendPoint crossing; an implementation
// that is currently draining a snapshot may block the calling goroutine
// until the drain completes, mirroring spec.md §5's "a suspended operation
// persists itself into the request's suspended operations set, then waits
// for release and re-increments on resume" — persistence of op itself into
// that set is the coordinator's job, triggered from inside CheckSuspend.
type Barrier interface {
	CheckSuspend(op Operation)
}

// ExecuteContext is the shared handle every operation's Execute method
// mutates through; it owns none of the task locks itself — Task() acquires
// one task's lock for the duration of the returned TaskHandle.
type ExecuteContext struct {
	Graph    *storage.TaskMap
	Events   *event.Registry
	Log      *storage.Log
	Session  taskgraph.SessionId
	Schedule func(taskgraph.TaskId)

	// Barrier, if set, is consulted on every SuspendPoint crossing. nil is
	// safe and skips the snapshot-barrier check entirely (used by tests and
	// by callers replaying an operation outside of the live backend).
	Barrier Barrier

	// suspensions counts operation_suspend_point crossings, for tests and
	// diagnostics; it has no effect on correctness. Concurrent operations
	// against different tasks may share one ExecuteContext (the backend
	// keeps a single long-lived one), so this must tolerate concurrent
	// increments.
	suspensions atomic.Int64
}

// NewExecuteContext wires together the registries an operation needs.
func NewExecuteContext(graph *storage.TaskMap, events *event.Registry, log *storage.Log, session taskgraph.SessionId, schedule func(taskgraph.TaskId)) *ExecuteContext {
	return &ExecuteContext{Graph: graph, Events: events, Log: log, Session: session, Schedule: schedule}
}

// SuspendPoint marks a boundary a resumed operation could have been
// persisted at (spec.md §4.3 "Suspension points ... correspond to the
// boundary between aggregation-update jobs or between per-task passes").
// op is the operation currently executing, handed to the barrier so it can
// serialize it if a snapshot is in progress.
func (ctx *ExecuteContext) SuspendPoint(op Operation) {
	ctx.suspensions.Add(1)

	if ctx.Barrier != nil {
		ctx.Barrier.CheckSuspend(op)
	}
}

// Suspensions reports how many suspend points this context has crossed.
func (ctx *ExecuteContext) Suspensions() int {
	return int(ctx.suspensions.Load())
}

// Task acquires the lock for id's storage and returns a handle scoped to
// it. Callers must Close the handle before acquiring any other task's
// lock, so that no operation ever holds two task locks at once.
func (ctx *ExecuteContext) Task(id taskgraph.TaskId) *TaskHandle {
	ts := ctx.Graph.GetOrCreate(id)
	ts.Lock()

	return &TaskHandle{ctx: ctx, id: id, ts: ts}
}

// ProcessAggregationQueue drains one job from q, wired to this context's
// graph, events, and scheduler. It reports whether the queue emptied.
func (ctx *ExecuteContext) ProcessAggregationQueue(q *aggregation.UpdateQueue) bool {
	return q.Process(ctx.Graph, ctx.Events, ctx.Schedule)
}

// TaskHandle is a locked view of one task's storage, auto-appending
// CachedDataUpdate log records for every mutation (spec.md §4.1 "logs
// capture deltas"). It must be released with Close before the caller
// acquires another task's handle.
type TaskHandle struct {
	ctx *ExecuteContext
	id  taskgraph.TaskId
	ts  *storage.TaskStorage
}

// ID returns the task this handle is scoped to.
func (h *TaskHandle) ID() taskgraph.TaskId {
	return h.id
}

// Storage exposes the underlying container for packages (aggregation) that
// operate directly on *storage.TaskStorage; the caller must not call
// Lock/Unlock on it itself.
func (h *TaskHandle) Storage() *storage.TaskStorage {
	return h.ts
}

// Close releases the task's lock. It is idempotent-unsafe like sync.Mutex
// itself: callers must call it exactly once.
func (h *TaskHandle) Close() {
	h.ts.Unlock()
}

// Add inserts value at key only if absent, logging the change if any.
func (h *TaskHandle) Add(key storage.ItemKey, value storage.CachedDataItem) bool {
	changed := h.ts.Add(key, value)
	if changed {
		h.appendLog(key, storage.CachedDataItem{}, value)
	}

	return changed
}

// Insert replaces the item at key, logging old → new.
func (h *TaskHandle) Insert(key storage.ItemKey, value storage.CachedDataItem) (storage.CachedDataItem, bool) {
	old, existed := h.ts.Insert(key, value)
	h.appendLog(key, old, value)

	return old, existed
}

// Remove deletes the item at key, logging old → zero-value if it existed.
func (h *TaskHandle) Remove(key storage.ItemKey) (storage.CachedDataItem, bool) {
	old, existed := h.ts.Remove(key)
	if existed {
		h.appendLog(key, old, storage.CachedDataItem{})
	}

	return old, existed
}

// Get reads the item at key.
func (h *TaskHandle) Get(key storage.ItemKey) (storage.CachedDataItem, bool) {
	return h.ts.Get(key)
}

// HasKey reports whether key is present.
func (h *TaskHandle) HasKey(key storage.ItemKey) bool {
	return h.ts.HasKey(key)
}

// Iter delegates to the underlying storage's Iter.
func (h *TaskHandle) Iter(kind storage.ItemKind, fn func(key storage.ItemKey, value storage.CachedDataItem) bool) {
	h.ts.Iter(kind, fn)
}

// appendLog writes a CachedDataUpdate unless the encoded old and new
// values are identical, mirroring the dedup already applied to output
// writes (spec.md §8 "Stale dedup").
func (h *TaskHandle) appendLog(key storage.ItemKey, old, new storage.CachedDataItem) {
	if h.ctx.Log == nil {
		return
	}

	oldBytes := encodeItem(old)
	newBytes := encodeItem(new)

	if bytes.Equal(oldBytes, newBytes) {
		return
	}

	h.ctx.Log.Append(storage.CachedDataUpdate{
		Task:     h.id,
		Key:      key,
		OldValue: oldBytes,
		NewValue: newBytes,
	})
}

// encodeItem gob-encodes a CachedDataItem for the snapshot log. Encoding
// failures indicate a non-serializable field slipped into CachedDataItem,
// a programmer error rather than a recoverable one.
func encodeItem(v storage.CachedDataItem) []byte {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic("operation: cannot encode storage item: " + err.Error())
	}

	return buf.Bytes()
}

// Package snapshot implements the process-wide persistence barrier
// (spec.md §5 "Snapshot barrier") that reconciles in-memory mutations with
// the durable BackingStorage: operations register as live while they run,
// and a snapshot request drains every log shard into one atomic commit
// once all live operations have finished or suspended themselves.
package snapshot

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codefang-labs/taskgraph/internal/event"
	"github.com/codefang-labs/taskgraph/internal/operation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// Coordinator is the snapshot barrier and implements operation.Barrier so
// that an ExecuteContext can route every SuspendPoint crossing through it.
//
// The original encodes the barrier as one atomic word: low bits the live
// operation count, the high bit a pending-snapshot flag, so the common
// case (no snapshot in flight) never takes a lock. This port uses a mutex
// + sync.Cond instead: the barrier is crossed once per operation start/end
// and once per suspend point, not on every storage mutation, so the
// lock-free fast path the original optimizes for does not earn its
// complexity here, and Cond expresses "wait for the drain, then proceed"
// directly.
type Coordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	liveOps         int
	snapshotPending bool

	pendingOps []taskgraph.AnyOperation

	store        taskgraph.BackingStorage
	taskCacheLog *storage.TaskCacheLog
	metaLog      *storage.Log
	dataLog      *storage.Log

	idleStart *event.Event
	idleEnd   *event.Event

	session taskgraph.SessionId
	logger  *slog.Logger
}

// NewCoordinator wires a Coordinator to the backing store and the log
// shards it drains on every snapshot.
func NewCoordinator(store taskgraph.BackingStorage, taskCacheLog *storage.TaskCacheLog, metaLog, dataLog *storage.Log, session taskgraph.SessionId, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		store:        store,
		taskCacheLog: taskCacheLog,
		metaLog:      metaLog,
		dataLog:      dataLog,
		idleStart:    event.New("backend idle-start"),
		idleEnd:      event.New("backend idle-end"),
		session:      session,
		logger:       logger,
	}
	c.cond = sync.NewCond(&c.mu)

	return c
}

// BeginOperation registers one live operation, blocking if a snapshot is
// currently draining.
func (c *Coordinator) BeginOperation() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.snapshotPending {
		c.cond.Wait()
	}

	c.liveOps++
}

// EndOperation retires one live operation, waking a waiting snapshot
// request if this was the last one.
func (c *Coordinator) EndOperation() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.liveOps--

	if c.snapshotPending && c.liveOps == 0 {
		c.cond.Broadcast()
	}
}

// CheckSuspend implements operation.Barrier. If a snapshot is currently
// being requested, it retires this goroutine's live-operation slot,
// persists op into the pending-operations set, blocks until the snapshot
// completes, and re-registers as live before returning — mirroring spec.md
// §5's suspend/persist/wait/resume sequence. A nil op (an execution phase
// with nothing meaningful to serialize, e.g. a test harness) is ignored.
func (c *Coordinator) CheckSuspend(op operation.Operation) {
	if op == nil {
		return
	}

	c.mu.Lock()
	if !c.snapshotPending {
		c.mu.Unlock()

		return
	}

	c.liveOps--
	if c.liveOps == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()

	c.persistSuspended(op)

	c.mu.Lock()
	for c.snapshotPending {
		c.cond.Wait()
	}
	c.liveOps++
	c.mu.Unlock()
}

func (c *Coordinator) persistSuspended(op operation.Operation) {
	payload, err := op.MarshalBinary()
	if err != nil {
		c.logger.Error("snapshot: failed to serialize suspended operation", "kind", op.Kind(), "error", err)

		return
	}

	c.mu.Lock()
	c.pendingOps = append(c.pendingOps, taskgraph.AnyOperation{Kind: op.Kind(), Payload: payload})
	c.mu.Unlock()
}

// IdleStart fires the idle-start event; called by the backend when no task
// execution is in flight.
func (c *Coordinator) IdleStart() {
	c.idleStart.Notify(event.NotifyAll)
}

// IdleEnd fires the idle-end event; called when a task is scheduled after
// an idle period.
func (c *Coordinator) IdleEnd() {
	c.idleEnd.Notify(event.NotifyAll)
}

// RequestSnapshot drains every live operation to a suspend point, commits
// one atomic snapshot via the backing store, and releases the barrier. A
// concurrent RequestSnapshot call while one is already in flight is a
// no-op: the caller's drain is satisfied by the in-flight one.
func (c *Coordinator) RequestSnapshot(ctx context.Context) error {
	c.mu.Lock()
	if c.snapshotPending {
		c.mu.Unlock()

		return nil
	}

	c.snapshotPending = true

	for c.liveOps > 0 {
		if ctx.Err() != nil {
			c.snapshotPending = false
			c.cond.Broadcast()
			c.mu.Unlock()

			return ctx.Err()
		}

		c.cond.Wait()
	}

	ops := c.pendingOps
	c.pendingOps = nil
	c.mu.Unlock()

	taskCacheRecords := encodeTaskCacheLog(c.taskCacheLog.Drain())
	metaRecords := encodeDataLog(c.metaLog.Drain())
	dataRecords := encodeDataLog(c.dataLog.Drain())

	saveErr := c.store.SaveSnapshot(c.session, ops, taskCacheRecords, metaRecords, dataRecords)

	c.mu.Lock()
	c.snapshotPending = false
	c.cond.Broadcast()
	c.mu.Unlock()

	if saveErr != nil {
		return fmt.Errorf("%w: %w", taskgraph.ErrBackingStoreUnavailable, saveErr)
	}

	c.logger.Info("snapshot saved",
		"session", c.session,
		"suspended_operations", len(ops),
		"task_cache_records", len(taskCacheRecords),
		"meta_records", len(metaRecords),
		"data_records", len(dataRecords),
	)

	return nil
}

func encodeDataLog(records []storage.CachedDataUpdate) []taskgraph.LogRecord {
	out := make([]taskgraph.LogRecord, len(records))

	for i, r := range records {
		out[i] = taskgraph.LogRecord{Task: r.Task, Key: storage.EncodeItemKey(r.Key), Value: r.NewValue}
	}

	return out
}

// encodeTaskCacheLog flattens one drained TaskCacheLog shard into the wire
// LogRecord shape: Key is the TaskType's canonical hash (the forward
// cache's lookup key), Value is the TaskType itself gob-encoded (the
// reverse cache's stored value) — a backing store needs both directions
// out of one record, since a TaskCacheRecord is never updated or removed
// once logged.
func encodeTaskCacheLog(records []storage.TaskCacheRecord) []taskgraph.LogRecord {
	out := make([]taskgraph.LogRecord, len(records))

	for i, r := range records {
		out[i] = taskgraph.LogRecord{Task: r.Task, Key: []byte(r.Type.CacheKey()), Value: encodeTaskType(r.Type)}
	}

	return out
}

func encodeTaskType(typ taskgraph.TaskType) []byte {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(typ); err != nil {
		panic("snapshot: cannot encode task type: " + err.Error())
	}

	return buf.Bytes()
}

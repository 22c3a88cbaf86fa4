package taskgraph

import (
	"context"
	"time"
)

// Backend is the host-facing contract of the task-graph engine (spec.md
// §6.1). The embedding runtime — which owns the function registry, argument
// serialization, and the worker thread pool that actually runs task bodies
// — drives every call through this interface.
type Backend interface {
	// Startup prepares the backend for use (allocates the session id,
	// resumes task id allocation and replays uncompleted operations from the
	// already-open backing store it was configured with, if any).
	Startup(ctx context.Context) error
	// Stopping signals that no new work should begin; in-flight operations
	// still complete.
	Stopping()
	// IdleStart/IdleEnd bracket periods with no scheduled task execution;
	// each notifies the snapshot coordinator's matching idle event. Snapshot
	// timing does not depend on them.
	IdleStart()
	IdleEnd()

	// GetOrCreatePersistentTask resolves typ to a TaskId, creating the task
	// on first use. parent, if non-zero, records a Child edge.
	GetOrCreatePersistentTask(typ TaskType, parent TaskId) TaskId
	// GetOrCreateTransientTask is GetOrCreatePersistentTask's transient
	// counterpart. It panics with ErrTransientFromPersistent if parent is
	// itself a persistent task (spec.md §4.5).
	GetOrCreateTransientTask(typ TaskType, parent TaskId) TaskId

	// InvalidateTask marks a single task Dirty and propagates.
	InvalidateTask(task TaskId)
	// InvalidateTasks marks a batch of tasks Dirty in one operation.
	InvalidateTasks(tasks []TaskId)
	// InvalidateTasksSet is InvalidateTasks over a set-shaped input; the
	// embedding host is responsible for de-duplication before the call.
	InvalidateTasksSet(tasks map[TaskId]struct{})
	// InvalidateSerialization forces a task's output to be re-serialized on
	// the next snapshot even if its value did not change (used when the
	// serialization format itself changed).
	InvalidateSerialization(task TaskId)

	// TryStartTaskExecution dequeues task for execution if it is scheduled
	// and not already in progress. Returns ok=false if there is nothing to
	// do right now.
	TryStartTaskExecution(task TaskId) (spec ExecutionSpec, ok bool)
	// TaskExecutionResult records the outcome of a task body that has
	// already run to completion (or panicked), without yet publishing it —
	// publication happens in TaskExecutionCompleted.
	TaskExecutionResult(task TaskId, result TaskResult)
	// TaskExecutionCompleted finalizes a task's execution: runs
	// UpdateOutputOperation, cleans up outdated edges, and clears the
	// InProgress marker. Returns true if the task went stale while running
	// and must be rescheduled immediately without publishing.
	TaskExecutionCompleted(task TaskId, duration time.Duration, memoryUsage uint64, cellCounters map[uint32]uint32, stateful bool) bool

	// TryReadTaskOutput reads task's output, recording a dependency edge
	// from reader (if non-nil) per spec.md §4.4.
	TryReadTaskOutput(ctx context.Context, task TaskId, reader *TaskId, consistency Consistency) (OutputValue, error)
	// TryReadTaskOutputUntracked is TryReadTaskOutput without recording a
	// dependency edge (used for diagnostics and host-side introspection).
	TryReadTaskOutputUntracked(ctx context.Context, task TaskId, consistency Consistency) (OutputValue, error)
	// TryReadTaskCell reads one cell of task, recording a dependency edge
	// from reader (if non-nil).
	TryReadTaskCell(ctx context.Context, task TaskId, cell CellId, reader *TaskId) ([]byte, error)
	// TryReadTaskCellUntracked is TryReadTaskCell without dependency
	// recording.
	TryReadTaskCellUntracked(ctx context.Context, task TaskId, cell CellId) ([]byte, error)

	// ReadTaskCollectibles sums every Collectible of the given trait type
	// reachable under task, recording a CollectiblesDependency from reader.
	ReadTaskCollectibles(task TaskId, traitTypeID uint32, reader TaskId) map[CollectibleRef]int32
	// EmitCollectible records that the currently-executing task produced
	// one instance of ref.
	EmitCollectible(task TaskId, ref CollectibleRef)
	// UnemitCollectible retracts one instance of ref previously emitted by
	// task.
	UnemitCollectible(task TaskId, ref CollectibleRef)

	// UpdateTaskCell replaces cell's content for task, invalidating
	// dependents unless the task is mid-recomputation and the value is
	// unchanged (spec.md §4.3 UpdateCellOperation).
	UpdateTaskCell(task TaskId, cell CellId, content []byte)
	// MarkOwnTaskAsSessionDependent flags task's recorded in-progress state
	// as session-dependent. Completion does not read the flag; the task's
	// clean state is not scoped to the current session.
	MarkOwnTaskAsSessionDependent(task TaskId)

	// CreateTransientTask registers a new transient task of the given kind
	// and returns its TaskId.
	CreateTransientTask(typ TransientTaskType) TaskId
	// DisposeRootTask detaches and clears task's AggregateRoot, if any,
	// releasing it from live tracking (spec.md §9 open question, resolved:
	// this is NOT a no-op here).
	DisposeRootTask(task TaskId)

	// RunBackendJob runs the periodic snapshot job identified by id.
	RunBackendJob(ctx context.Context, id uint64) error
}

// BackingStorage is the durability boundary (spec.md §6.2): a pluggable,
// crash-consistent key/value store that the snapshot coordinator drains
// into. internal/backingstore provides a bbolt-backed reference
// implementation.
type BackingStorage interface {
	// NextSessionID returns a monotonically increasing SessionId, persisted
	// so it survives restarts.
	NextSessionID() (SessionId, error)
	// NextFreeTaskID returns one past the highest persistent TaskId ever
	// allocated, so a fresh process resumes allocation without colliding
	// with a prior run.
	NextFreeTaskID() (TaskId, error)
	// UncompletedOperations returns the operations that were mid-flight at
	// the last crash or unclean shutdown, for idempotent replay.
	UncompletedOperations() ([]AnyOperation, error)

	// StartReadTransaction opens a read-only view for a batch of lookups.
	// The returned handle must be passed to EndReadTransaction when done.
	StartReadTransaction() (ReadTransaction, error)
	// EndReadTransaction releases a read transaction opened by
	// StartReadTransaction.
	EndReadTransaction(tx ReadTransaction)

	// ForwardLookupTaskCache resolves a TaskType to its canonical TaskId, if
	// it has ever been persisted. tx may be nil, in which case a fresh
	// internal transaction is used.
	ForwardLookupTaskCache(tx ReadTransaction, typ TaskType) (TaskId, bool, error)
	// ReverseLookupTaskCache resolves a persisted TaskId back to its
	// TaskType.
	ReverseLookupTaskCache(tx ReadTransaction, id TaskId) (TaskType, bool, error)

	// LookupData returns every persisted item for task in the given
	// category.
	LookupData(tx ReadTransaction, task TaskId, category int) ([]RawItem, error)

	// SaveSnapshot durably and atomically commits one snapshot: the current
	// session id, the set of operations suspended at the barrier, and the
	// drained task-cache/meta/data log shards.
	SaveSnapshot(session SessionId, ops []AnyOperation, taskCacheLog, metaLog, dataLog []LogRecord) error
}

// ReadTransaction is an opaque handle to a BackingStorage read-only view.
type ReadTransaction interface {
	// Discard releases transaction-local resources. Implementations may
	// make this a no-op if the transaction is reference-counted elsewhere.
	Discard()
}

// RawItem is a single persisted (key, value) pair for a task, exactly as
// encoded on disk; internal/storage decodes it into a CachedDataItem.
type RawItem struct {
	Key   []byte
	Value []byte
}

// LogRecord is one CachedDataUpdate as handed to the backing store by the
// snapshot coordinator: task/key identify the slot, Value is the new
// encoded value (nil means the item was removed).
type LogRecord struct {
	Task  TaskId
	Key   []byte
	Value []byte
}

// AnyOperation is a persisted, replayable operation value (spec.md §6.2
// uncompleted_operations / §9 "operations are persisted values"). Kind
// selects which operation's Decode method interprets Payload.
type AnyOperation struct {
	Kind    string
	Payload []byte
}

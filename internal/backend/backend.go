// Package backend implements pkg/taskgraph.Backend (spec.md §6.1): the
// host-facing facade wiring internal/storage, internal/aggregation,
// internal/operation, and internal/snapshot into one task-graph engine.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codefang-labs/taskgraph/internal/event"
	"github.com/codefang-labs/taskgraph/internal/operation"
	"github.com/codefang-labs/taskgraph/internal/snapshot"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// Item keys that recur across backend methods, mirroring the per-kind
// singleton convention internal/aggregation already uses for its own keys.
var (
	outputKey        = storage.ItemKey{Kind: storage.KindOutput}
	errorKey         = storage.ItemKey{Kind: storage.KindError}
	dirtyKey         = storage.ItemKey{Kind: storage.KindDirty}
	inProgressKey    = storage.ItemKey{Kind: storage.KindInProgress}
	aggregateRootKey = storage.ItemKey{Kind: storage.KindAggregateRoot}
)

// Config wires a Backend to its collaborators. ShardCount sizes every
// sharded structure the backend owns; Store may be nil for a pure in-memory
// engine (tests, or a host that disables persistence entirely).
type Config struct {
	ShardCount int
	Store      taskgraph.BackingStorage
	Logger     *slog.Logger

	// OnSchedule is invoked whenever a task transitions to
	// InProgress::Scheduled and needs to be handed to the host's worker
	// pool. Required in any backend actually driving task execution; tests
	// may leave it nil.
	OnSchedule func(taskgraph.TaskId)
}

var _ taskgraph.Backend = (*Backend)(nil)

// Backend is the concrete pkg/taskgraph.Backend implementation.
type Backend struct {
	graph        *storage.TaskMap
	events       *event.Registry
	biMap        *storage.BiMap
	log          *storage.Log
	taskCacheLog *storage.TaskCacheLog

	persistentIDs *storage.IDFactory
	transientIDs  *storage.IDFactory

	store   taskgraph.BackingStorage
	coord   *snapshot.Coordinator
	session taskgraph.SessionId
	logger  *slog.Logger

	execCtx *operation.ExecuteContext

	mu             sync.Mutex
	pendingResults map[taskgraph.TaskId]taskgraph.TaskResult
	forceResave    map[taskgraph.TaskId]struct{}
}

// New constructs a Backend. Startup must be called before any other method.
func New(cfg Config) *Backend {
	shardCount := cfg.ShardCount
	if shardCount <= 0 {
		shardCount = 16
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Backend{
		graph:          storage.NewTaskMap(shardCount),
		events:         event.NewRegistry(),
		biMap:          storage.NewBiMap(shardCount),
		log:            storage.NewLog(shardCount),
		taskCacheLog:   storage.NewTaskCacheLog(shardCount),
		persistentIDs:  storage.NewPersistentIDFactory(1),
		transientIDs:   storage.NewTransientIDFactory(),
		store:          cfg.Store,
		logger:         logger,
		pendingResults: make(map[taskgraph.TaskId]taskgraph.TaskResult),
		forceResave:    make(map[taskgraph.TaskId]struct{}),
	}

	// The original keeps separate meta/data logs so a burst of aggregation
	// churn never starves output writes; this port collapses them into one
	// combined *storage.Log (see DESIGN.md) and hands the backing store an
	// always-empty second log for the "data" slot.
	b.coord = snapshot.NewCoordinator(b.store, b.taskCacheLog, b.log, storage.NewLog(shardCount), 0, logger)

	b.execCtx = operation.NewExecuteContext(b.graph, b.events, b.log, 0, cfg.OnSchedule)
	b.execCtx.Barrier = b.coord

	return b
}

// Startup allocates this run's session id, resumes persistent task id
// allocation from the configured store's next free id, and replays
// uncompleted operations. The store, if any, is opened by the caller.
func (b *Backend) Startup(ctx context.Context) error {
	if b.store == nil {
		b.session = 1
		b.execCtx.Session = b.session

		return nil
	}

	session, err := b.store.NextSessionID()
	if err != nil {
		return fmt.Errorf("backend: allocate session id: %w", err)
	}

	nextID, err := b.store.NextFreeTaskID()
	if err != nil {
		return fmt.Errorf("backend: read next free task id: %w", err)
	}

	b.session = session
	b.execCtx.Session = session
	b.persistentIDs = storage.NewPersistentIDFactory(nextID)

	uncompleted, err := b.store.UncompletedOperations()
	if err != nil {
		return fmt.Errorf("backend: read uncompleted operations: %w", err)
	}

	for _, any := range uncompleted {
		if err := b.replay(any); err != nil {
			b.logger.Error("backend: failed to replay uncompleted operation", "kind", any.Kind, "error", err)
		}
	}

	return nil
}

// replay decodes and re-executes one persisted operation to completion,
// per spec.md §8 "Idempotent replay": every job this package pushes is
// safe to re-derive from current storage state.
func (b *Backend) replay(any taskgraph.AnyOperation) error {
	op, err := operation.Decode(any.Kind, any.Payload)
	if err != nil {
		return err
	}

	b.runOperation(op)

	return nil
}

// Stopping signals that no new work should begin.
func (b *Backend) Stopping() {
	b.logger.Info("backend stopping", "session", b.session)
}

// IdleStart/IdleEnd bracket periods with no scheduled execution.
func (b *Backend) IdleStart() { b.coord.IdleStart() }
func (b *Backend) IdleEnd()   { b.coord.IdleEnd() }

// RunBackendJob runs the periodic snapshot job. This backend recognizes a
// single job id (0, "snapshot"); any other id is a caller error surfaced as
// a plain error rather than a panic, since job ids are host-chosen.
func (b *Backend) RunBackendJob(ctx context.Context, id uint64) error {
	switch id {
	case 0:
		return b.coord.RequestSnapshot(ctx)
	default:
		return fmt.Errorf("backend: unknown backend job id %d", id)
	}
}

// runOperation brackets op's execution with the snapshot barrier.
func (b *Backend) runOperation(op operation.Operation) {
	b.coord.BeginOperation()
	defer b.coord.EndOperation()

	op.Execute(b.execCtx)
}

// waitOnEvent waits on eventID, treating an already-released (unknown) id
// as already-fired: the event only becomes unresolvable once every listener
// has already been notified and the registry entry released.
func (b *Backend) waitOnEvent(ctx context.Context, eventID uint64, note string) error {
	ev, ok := b.events.Get(eventID)
	if !ok {
		return nil
	}

	return ev.Wait(ctx, note)
}

// task acquires a locked handle via the shared ExecuteContext.
func (b *Backend) task(id taskgraph.TaskId) *operation.TaskHandle {
	return b.execCtx.Task(id)
}

package backend

import (
	"github.com/codefang-labs/taskgraph/internal/operation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// resolveOrCreate canonicalizes typ to a TaskId via the BiMap, minting a
// fresh one from ids on a miss. The double-checked lock keeps the common
// case (already canonicalized) lock-free on the BiMap's own RWMutex while
// still serializing the miss-then-insert race a bare Lookup+Insert would
// have (spec.md §3 "Equal task types share one TaskId").
//
// A persistent-task miss on the in-memory BiMap does not necessarily mean
// typ is new: the BiMap is rebuilt from scratch each session, while the
// backing store's task cache survives restarts. persistLog callers consult
// it before minting, so a task created in a prior session keeps its TaskId
// (and its already-persisted cells) across a restart instead of silently
// getting a second, empty task under the same TaskType.
func (b *Backend) resolveOrCreate(typ taskgraph.TaskType, ids *storage.IDFactory, persistLog bool) (taskgraph.TaskId, bool) {
	if id, ok := b.biMap.Lookup(typ); ok {
		return id, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.biMap.Lookup(typ); ok {
		return id, false
	}

	if persistLog && b.store != nil {
		if id, found, err := b.store.ForwardLookupTaskCache(nil, typ); err == nil && found {
			b.biMap.Insert(typ, id)

			return id, false
		}
	}

	id, ok := ids.Alloc()
	if !ok {
		if ids == b.persistentIDs {
			panic(taskgraph.ErrPersistentIDsExhausted)
		}

		panic(taskgraph.ErrTransientIDsExhausted)
	}

	b.biMap.Insert(typ, id)

	if persistLog {
		b.taskCacheLog.Append(id, typ)
	}

	return id, true
}

// GetOrCreatePersistentTask resolves typ to a TaskId, creating the task on
// first use.
func (b *Backend) GetOrCreatePersistentTask(typ taskgraph.TaskType, parent taskgraph.TaskId) taskgraph.TaskId {
	id, created := b.resolveOrCreate(typ, b.persistentIDs, true)
	b.connectOrSchedule(parent, id, created)

	return id
}

// GetOrCreateTransientTask is GetOrCreatePersistentTask's transient
// counterpart. A persistent parent may never call a transient task
// (spec.md §4.5): persistent functions must only call other persistent
// functions, so their output stays reproducible from the backing store
// alone.
func (b *Backend) GetOrCreateTransientTask(typ taskgraph.TaskType, parent taskgraph.TaskId) taskgraph.TaskId {
	if parent != 0 && parent.IsPersistent() {
		panic(taskgraph.ErrTransientFromPersistent)
	}

	id, created := b.resolveOrCreate(typ, b.transientIDs, false)
	b.connectOrSchedule(parent, id, created)

	return id
}

// connectOrSchedule records the parent→id Child edge via ConnectChildOperation
// when there is a parent, letting its own seed step decide whether the edge
// was newly added and therefore whether to schedule id at all. A rootless
// task (parent == 0) never runs through ConnectChildOperation, so it is
// scheduled directly here, and only on first creation — a second caller
// resolving the same already-scheduled root task must not reschedule it.
func (b *Backend) connectOrSchedule(parent, id taskgraph.TaskId, created bool) {
	if parent != 0 {
		b.runOperation(operation.NewConnectChildOperation(parent, id))

		return
	}

	if created {
		b.scheduleRoot(id)
	}
}

// scheduleRoot marks a parentless task Scheduled and hands it to the host's
// worker pool, mirroring the ScheduleTask state ConnectChildOperation runs
// for parented tasks.
func (b *Backend) scheduleRoot(id taskgraph.TaskId) {
	task := b.task(id)
	task.Add(inProgressKey, storage.CachedDataItem{
		InProgress: storage.InProgressState{Kind: storage.InProgressScheduled},
	})
	task.Close()

	if b.execCtx.Schedule != nil {
		b.execCtx.Schedule(id)
	}
}

// CreateTransientTask registers a new transient task of the given kind,
// always minting a fresh TaskId: unlike GetOrCreateTransientTask, a
// transient future is never canonicalized by the BiMap, since two calls
// with an identical TransientTaskType are still two distinct invocations
// (spec.md §4.5 "Once futures run exactly once, uncached").
func (b *Backend) CreateTransientTask(typ taskgraph.TransientTaskType) taskgraph.TaskId {
	_ = typ

	id, ok := b.transientIDs.Alloc()
	if !ok {
		panic(taskgraph.ErrTransientIDsExhausted)
	}

	b.scheduleRoot(id)

	return id
}

// DisposeRootTask detaches and clears task's AggregateRoot, if any,
// releasing its all-clean event and returning its id to the appropriate
// IDFactory freelist. Per spec.md §9 this is not a no-op: a root a host has
// stopped watching must not keep pinning an event-registry entry forever.
func (b *Backend) DisposeRootTask(task taskgraph.TaskId) {
	h := b.task(task)
	item, existed := h.Remove(aggregateRootKey)
	h.Close()

	if existed {
		b.events.Release(item.AggregateRoot.AllCleanEventID)
	}

	if task.IsTransient() {
		b.transientIDs.Release(task)
	} else {
		b.persistentIDs.Release(task)
	}
}

// MarkOwnTaskAsSessionDependent sets SessionDependent on task's recorded
// InProgressState, if there is one. TaskExecutionCompleted does not read
// the flag: a session-dependent task's Dirty state is cleared the same way
// as any other task's, not scoped to the current session.
func (b *Backend) MarkOwnTaskAsSessionDependent(task taskgraph.TaskId) {
	h := b.task(task)
	defer h.Close()

	item, ok := h.Get(inProgressKey)
	if !ok {
		return
	}

	item.InProgress.SessionDependent = true
	h.Insert(inProgressKey, item)
}

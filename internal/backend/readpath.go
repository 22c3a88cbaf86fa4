package backend

import (
	"context"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/operation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// TryReadTaskOutput implements the read-path protocol of spec.md §4.4: wait
// out any in-progress execution, optionally raise task to an aggregation
// root and wait for its subtree to go clean under Strong consistency, then
// either return the cached output (recording a dependency edge from reader)
// or schedule task and retry.
func (b *Backend) TryReadTaskOutput(ctx context.Context, task taskgraph.TaskId, reader *taskgraph.TaskId, consistency taskgraph.Consistency) (taskgraph.OutputValue, error) {
	if consistency == taskgraph.Strong {
		if err := b.waitForClean(ctx, task); err != nil {
			return taskgraph.OutputValue{}, err
		}
	}

	for {
		h := b.task(task)

		item, hasItem := h.Get(inProgressKey)
		if hasItem {
			eventID := b.ensureDoneEvent(h, &item)
			h.Close()

			if err := b.waitOnEvent(ctx, eventID, "read task output"); err != nil {
				return taskgraph.OutputValue{}, err
			}

			continue
		}

		output, hasOutput := h.Get(outputKey)
		if hasOutput {
			h.Close()

			if reader != nil {
				b.recordOutputDependency(*reader, task)
			}

			return output.Output, nil
		}

		h.Insert(inProgressKey, storage.CachedDataItem{InProgress: storage.InProgressState{Kind: storage.InProgressScheduled}})
		h.Close()

		if b.execCtx.Schedule != nil {
			b.execCtx.Schedule(task)
		}
	}
}

// TryReadTaskOutputUntracked is TryReadTaskOutput without recording a
// dependency edge.
func (b *Backend) TryReadTaskOutputUntracked(ctx context.Context, task taskgraph.TaskId, consistency taskgraph.Consistency) (taskgraph.OutputValue, error) {
	return b.TryReadTaskOutput(ctx, task, nil, consistency)
}

// TryReadTaskCell reads one cell of task, returning ErrCellOutOfRange when
// cell.Index is past the CellTypeMaxIndex recorded for its type, scheduling
// the task when the cell has no content and no InProgress item is recorded,
// and waiting on the cell's own InProgressCell event (fired by
// UpdateCellOperation) rather than the task's DoneEventID, since a cell can
// be written by a still-running task before that task's overall output is
// known.
func (b *Backend) TryReadTaskCell(ctx context.Context, task taskgraph.TaskId, cell taskgraph.CellId, reader *taskgraph.TaskId) ([]byte, error) {
	cellKey := storage.ItemKey{Kind: storage.KindCellData, Sub: storage.CellIDKey(cell)}
	maxIndexKey := storage.ItemKey{Kind: storage.KindCellTypeMaxIndex, Sub: storage.CellTypeKey(cell.TypeID)}
	inProgressCellKey := storage.ItemKey{Kind: storage.KindInProgressCell, Sub: storage.CellIDKey(cell)}

	for {
		h := b.task(task)

		if maxIndex, ok := h.Get(maxIndexKey); ok && cell.Index > maxIndex.CellTypeMaxIndex {
			h.Close()

			return nil, taskgraph.ErrCellOutOfRange
		}

		if data, ok := h.Get(cellKey); ok {
			h.Close()

			if reader != nil {
				b.recordCellDependency(*reader, taskgraph.CellRef{Task: task, Cell: cell})
			}

			return data.CellData, nil
		}

		if !h.HasKey(inProgressKey) {
			h.Insert(inProgressKey, storage.CachedDataItem{InProgress: storage.InProgressState{Kind: storage.InProgressScheduled}})
			h.Close()

			if b.execCtx.Schedule != nil {
				b.execCtx.Schedule(task)
			}

			continue
		}

		waiter, hasWaiter := h.Get(inProgressCellKey)

		var eventID uint64

		if hasWaiter {
			eventID = waiter.InProgressCell.EventID
		} else {
			id, _ := b.events.Create("cell wait: " + task.String())
			eventID = id
			h.Insert(inProgressCellKey, storage.CachedDataItem{InProgressCell: storage.InProgressCellState{EventID: id}})
		}

		h.Close()

		if err := b.waitOnEvent(ctx, eventID, "read task cell"); err != nil {
			return nil, err
		}
	}
}

// TryReadTaskCellUntracked is TryReadTaskCell without dependency recording.
func (b *Backend) TryReadTaskCellUntracked(ctx context.Context, task taskgraph.TaskId, cell taskgraph.CellId) ([]byte, error) {
	return b.TryReadTaskCell(ctx, task, cell, nil)
}

// waitForClean raises task to an aggregation root (if not already one) and
// waits for its subtree's dirty count to reach zero, per spec.md §8
// "Strong-consistent read". The clean check happens once, immediately after
// EnsureRoot and before scheduling any descendant: a task that goes dirty
// again in the narrow window between that check and the all-clean event
// firing is accepted as a known race (the next Strong read simply repeats
// the wait), not re-checked in a loop.
func (b *Backend) waitForClean(ctx context.Context, task taskgraph.TaskId) error {
	h := b.task(task)

	eventID := aggregation.EnsureRoot(h.Storage(), func() uint64 {
		id, _ := b.events.Create("all-clean: " + task.String())

		return id
	})

	clean := aggregation.AggregatedDirtyCount(h.Storage()) == 0
	h.Close()

	if clean {
		return nil
	}

	queue := aggregation.NewUpdateQueue()
	queue.Push(aggregation.JobFindAndScheduleDirty{TaskIDs: []taskgraph.TaskId{task}})

	for !b.execCtx.ProcessAggregationQueue(queue) {
	}

	return b.waitOnEvent(ctx, eventID, "wait for clean")
}

// ensureDoneEvent lazily allocates and persists a DoneEventID the first
// time a reader needs to wait on it: ConnectChildOperation's own
// ScheduleTask step never populates one, since nothing was blocked on the
// task's completion at the time it ran.
func (b *Backend) ensureDoneEvent(h *operation.TaskHandle, item *storage.CachedDataItem) uint64 {
	if item.InProgress.DoneEventID != 0 {
		return item.InProgress.DoneEventID
	}

	id, _ := b.events.Create("task done: " + h.ID().String())
	item.InProgress.DoneEventID = id
	h.Insert(inProgressKey, *item)

	return id
}

// recordOutputDependency records the symmetric OutputDependency/
// OutputDependent edge pair (spec.md §8 "Edge symmetry"), never holding
// both tasks' locks at once.
func (b *Backend) recordOutputDependency(reader, task taskgraph.TaskId) {
	rh := b.task(reader)
	rh.Add(storage.ItemKey{Kind: storage.KindOutputDependency, Sub: storage.TaskKey(task)}, storage.CachedDataItem{})
	rh.Close()

	th := b.task(task)
	th.Add(storage.ItemKey{Kind: storage.KindOutputDependent, Sub: storage.TaskKey(reader)}, storage.CachedDataItem{})
	th.Close()
}

// recordCellDependency records the symmetric CellDependency/CellDependent
// edge pair. The dependent side is keyed by CellKey(CellRef{reader, cell})
// on the target task's own storage, matching the convention
// UpdateCellOperation's invalidation scan already relies on.
func (b *Backend) recordCellDependency(reader taskgraph.TaskId, ref taskgraph.CellRef) {
	rh := b.task(reader)
	rh.Add(storage.ItemKey{Kind: storage.KindCellDependency, Sub: storage.CellKey(ref)}, storage.CachedDataItem{})
	rh.Close()

	th := b.task(ref.Task)
	th.Add(storage.ItemKey{Kind: storage.KindCellDependent, Sub: storage.CellKey(taskgraph.CellRef{Task: reader, Cell: ref.Cell})}, storage.CachedDataItem{})
	th.Close()
}

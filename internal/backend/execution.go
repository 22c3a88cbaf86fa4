package backend

import (
	"time"

	"github.com/codefang-labs/taskgraph/internal/event"
	"github.com/codefang-labs/taskgraph/internal/operation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// shadowKindPairs lists the five edge kinds a re-executing task shadows into
// their Outdated* counterpart at TryStartTaskExecution time, mirroring the
// original's OutdatedEdge enum (spec.md §4.3 "Re-execution protocol").
var shadowKindPairs = []struct{ live, outdated storage.ItemKind }{
	{storage.KindChild, storage.KindOutdatedChild},
	{storage.KindOutputDependency, storage.KindOutdatedOutputDependency},
	{storage.KindCellDependency, storage.KindOutdatedCellDependency},
	{storage.KindCollectiblesDependency, storage.KindOutdatedCollectiblesDependency},
	{storage.KindCollectible, storage.KindOutdatedCollectible},
}

// moveKind relocates every item under kind from to kind to, preserving Sub,
// and reports whether anything was moved.
func moveKind(h *operation.TaskHandle, from, to storage.ItemKind) bool {
	var keys []storage.ItemKey

	h.Iter(from, func(key storage.ItemKey, _ storage.CachedDataItem) bool {
		keys = append(keys, key)

		return true
	})

	for _, key := range keys {
		value, _ := h.Remove(key)
		h.Insert(storage.ItemKey{Kind: to, Sub: key.Sub}, value)
	}

	return len(keys) > 0
}

// TryStartTaskExecution dequeues task for execution if it is Scheduled, not
// already in progress, shadow-converting its current edges into their
// Outdated* counterpart so execution can re-establish only the edges it
// actually touches this time (survivors are swept by
// CleanupOldEdgesOperation once execution completes cleanly).
func (b *Backend) TryStartTaskExecution(task taskgraph.TaskId) (taskgraph.ExecutionSpec, bool) {
	h := b.task(task)
	defer h.Close()

	item, ok := h.Get(inProgressKey)
	if !ok || item.InProgress.Kind != storage.InProgressScheduled {
		return taskgraph.ExecutionSpec{}, false
	}

	outdatedEdgePresent := false

	for _, pair := range shadowKindPairs {
		if moveKind(h, pair.live, pair.outdated) {
			outdatedEdgePresent = true
		}
	}

	item.InProgress = storage.InProgressState{Kind: storage.InProgressRunning}
	item.OutdatedEdgePresent = outdatedEdgePresent
	h.Insert(inProgressKey, item)

	return taskgraph.ExecutionSpec{Task: task}, true
}

// restoreOutdatedEdges is the exact inverse of the shadow conversion
// TryStartTaskExecution performs: run when a re-execution is discarded as
// stale, so the edges established by the still-valid prior run are not lost.
func (b *Backend) restoreOutdatedEdges(task taskgraph.TaskId) {
	h := b.task(task)
	defer h.Close()

	for _, pair := range shadowKindPairs {
		moveKind(h, pair.outdated, pair.live)
	}
}

// TaskExecutionResult records the outcome of a task body that has already
// run to completion (or panicked), without yet publishing it.
func (b *Backend) TaskExecutionResult(task taskgraph.TaskId, result taskgraph.TaskResult) {
	b.mu.Lock()
	b.pendingResults[task] = result
	b.mu.Unlock()
}

// TaskExecutionCompleted finalizes task's execution. If the task went stale
// while running it is rescheduled immediately without publishing, and its
// prior edges are restored rather than swept. Otherwise the recorded
// TaskResult is published via UpdateOutputOperation, surviving shadow edges
// are cleaned up, and any cell types the task stopped emitting are shrunk.
//
// The stateful flag is accepted, per the host-facing contract, but unused:
// there is no observed behavior difference for a stateful task in the
// source this was ported from.
func (b *Backend) TaskExecutionCompleted(task taskgraph.TaskId, duration time.Duration, memoryUsage uint64, cellCounters map[uint32]uint32, stateful bool) bool {
	_ = duration
	_ = memoryUsage
	_ = stateful

	b.mu.Lock()
	result, hasResult := b.pendingResults[task]
	delete(b.pendingResults, task)
	b.mu.Unlock()

	h := b.task(task)
	item, _ := h.Get(inProgressKey)
	stale := item.InProgress.Kind == storage.InProgressRunning && item.InProgress.Stale
	doneEventID := item.InProgress.DoneEventID
	h.Close()

	if stale {
		b.restoreOutdatedEdges(task)

		h = b.task(task)
		h.Insert(inProgressKey, storage.CachedDataItem{
			InProgress: storage.InProgressState{Kind: storage.InProgressScheduled},
		})
		h.Close()

		if b.execCtx.Schedule != nil {
			b.execCtx.Schedule(task)
		}

		b.fireDoneEvent(doneEventID)

		return true
	}

	if item.OutdatedEdgePresent {
		b.runOperation(operation.NewCleanupOldEdgesOperation(task))
	}

	b.shrinkCellTypes(task, cellCounters)

	if hasResult {
		b.publishResult(task, result)
	}

	h = b.task(task)
	h.Remove(inProgressKey)
	h.Close()

	b.fireDoneEvent(doneEventID)

	return false
}

// fireDoneEvent notifies and releases the DoneEventID a scheduled task's
// InProgress item carried, if one was ever lazily allocated for it by a
// reader (spec.md §4.4; see readpath.go's ensureDoneEvent).
func (b *Backend) fireDoneEvent(eventID uint64) {
	if eventID == 0 {
		return
	}

	if ev, ok := b.events.Get(eventID); ok {
		ev.Notify(event.NotifyAll)
	}

	b.events.Release(eventID)
}

// publishResult converts a TaskResult into the Output/Error pair
// UpdateOutputOperation expects and runs it.
func (b *Backend) publishResult(task taskgraph.TaskId, result taskgraph.TaskResult) {
	output := result.Output

	var sharedErr *taskgraph.SharedError

	switch {
	case result.Panic != nil:
		output = taskgraph.OutputValue{Kind: taskgraph.OutputKindPanic, Panic: result.Panic}
		sharedErr = &taskgraph.SharedError{Message: "panic: " + result.Panic.Message, Chain: []string{result.Panic.Stack}}
	case output.Kind == taskgraph.OutputKindError:
		sharedErr = output.Err
	}

	b.runOperation(operation.NewUpdateOutputOperation(task, output, sharedErr))
}

// shrinkCellTypes compares the cell counts a just-finished execution
// reports against what was previously recorded, clearing any indices the
// task stopped emitting this round (spec.md §8 scenario 6 "Cell-type
// shrink") via UpdateCellOperation's own removal-plus-invalidation path.
func (b *Backend) shrinkCellTypes(task taskgraph.TaskId, cellCounters map[uint32]uint32) {
	h := b.task(task)

	previousMax := map[uint32]uint32{}
	h.Iter(storage.KindCellTypeMaxIndex, func(key storage.ItemKey, value storage.CachedDataItem) bool {
		previousMax[storage.ParseCellTypeKey(key.Sub)] = value.CellTypeMaxIndex

		return true
	})

	for typeID, count := range cellCounters {
		if count == 0 {
			continue
		}

		h.Insert(storage.ItemKey{Kind: storage.KindCellTypeMaxIndex, Sub: storage.CellTypeKey(typeID)}, storage.CachedDataItem{
			CellTypeMaxIndex: count - 1,
		})
	}

	h.Close()

	for typeID, oldMax := range previousMax {
		count := cellCounters[typeID]
		if count > 0 && count-1 >= oldMax {
			continue
		}

		staleFrom := count

		for idx := staleFrom; idx <= oldMax; idx++ {
			b.runOperation(operation.NewUpdateCellOperation(task, taskgraph.CellId{TypeID: typeID, Index: idx}, nil, false))
		}

		if count == 0 {
			h2 := b.task(task)
			h2.Remove(storage.ItemKey{Kind: storage.KindCellTypeMaxIndex, Sub: storage.CellTypeKey(typeID)})
			h2.Close()
		}
	}
}

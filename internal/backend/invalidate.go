package backend

import (
	"github.com/codefang-labs/taskgraph/internal/operation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// InvalidateTask marks a single task Dirty and propagates.
func (b *Backend) InvalidateTask(task taskgraph.TaskId) {
	b.runOperation(operation.NewInvalidateOperation([]taskgraph.TaskId{task}))
}

// InvalidateTasks marks a batch of tasks Dirty in one operation, so the
// aggregation fan-out they share is only walked once.
func (b *Backend) InvalidateTasks(tasks []taskgraph.TaskId) {
	if len(tasks) == 0 {
		return
	}

	b.runOperation(operation.NewInvalidateOperation(tasks))
}

// InvalidateTasksSet is InvalidateTasks over a set-shaped input.
func (b *Backend) InvalidateTasksSet(tasks map[taskgraph.TaskId]struct{}) {
	if len(tasks) == 0 {
		return
	}

	ids := make([]taskgraph.TaskId, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}

	b.InvalidateTasks(ids)
}

// InvalidateSerialization forces task's output to be re-serialized on the
// next snapshot even though its stored value did not change, by rewriting
// the Output item's log record with itself: the appended CachedDataUpdate
// carries identical Old/New bytes, so it is not deduplicated away by
// TaskHandle.appendLog only because the log receives it directly here
// rather than through a mutating Insert.
func (b *Backend) InvalidateSerialization(task taskgraph.TaskId) {
	h := b.task(task)
	item, ok := h.Get(outputKey)
	h.Close()

	if !ok {
		return
	}

	encoded, err := storage.EncodeItem(item)
	if err != nil {
		panic("backend: " + err.Error())
	}

	b.log.Append(storage.CachedDataUpdate{
		Task:     task,
		Key:      outputKey,
		OldValue: encoded,
		NewValue: encoded,
	})
}

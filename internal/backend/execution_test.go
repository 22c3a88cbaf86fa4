package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

func TestTryStartTaskExecution_OnlyScheduledTasksStart(t *testing.T) {
	b := newTestBackend(t)

	task := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "f"}, 0)

	spec, ok := b.TryStartTaskExecution(task)
	require.True(t, ok)
	assert.Equal(t, task, spec.Task)

	_, ok = b.TryStartTaskExecution(task)
	assert.False(t, ok, "a task already Running must not start twice")
}

func TestTaskExecutionCompleted_PublishesOutputAndClearsInProgress(t *testing.T) {
	b := newTestBackend(t)

	task := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "f"}, 0)

	_, ok := b.TryStartTaskExecution(task)
	require.True(t, ok)

	want := taskgraph.OutputValue{Kind: taskgraph.OutputKindCell, Cell: taskgraph.CellRef{Task: task, Cell: taskgraph.CellId{TypeID: 1}}}
	b.TaskExecutionResult(task, taskgraph.TaskResult{Output: want})

	stale := b.TaskExecutionCompleted(task, time.Millisecond, 0, nil, false)
	assert.False(t, stale)

	got, err := b.TryReadTaskOutputUntracked(context.Background(), task, taskgraph.Eventual)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	h := b.task(task)
	hasInProgress := h.HasKey(inProgressKey)
	h.Close()
	assert.False(t, hasInProgress)
}

func TestTaskExecutionCompleted_StaleRestoresEdgesAndReschedules(t *testing.T) {
	b := newTestBackend(t)

	parent := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "parent"}, 0)
	child := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "child"}, parent)

	_, ok := b.TryStartTaskExecution(parent)
	require.True(t, ok)

	h := b.task(parent)
	item, _ := h.Get(inProgressKey)
	item.InProgress.Stale = true
	h.Insert(inProgressKey, item)
	h.Close()

	var rescheduled []taskgraph.TaskId
	b.execCtx.Schedule = func(id taskgraph.TaskId) { rescheduled = append(rescheduled, id) }

	stale := b.TaskExecutionCompleted(parent, time.Millisecond, 0, nil, false)
	assert.True(t, stale)
	assert.Contains(t, rescheduled, parent)

	parentTS := b.graph.GetOrCreate(parent)
	assert.True(t, parentTS.HasKey(storage.ItemKey{Kind: storage.KindChild, Sub: storage.TaskKey(child)}),
		"the Child edge must be restored, not swept, on a discarded re-execution")
}

func TestTaskExecutionCompleted_ShrinksCellTypeOnRecompute(t *testing.T) {
	b := newTestBackend(t)

	task := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "f"}, 0)

	_, ok := b.TryStartTaskExecution(task)
	require.True(t, ok)

	b.UpdateTaskCell(task, taskgraph.CellId{TypeID: 1, Index: 0}, []byte("a"))
	b.UpdateTaskCell(task, taskgraph.CellId{TypeID: 1, Index: 1}, []byte("b"))

	b.TaskExecutionResult(task, taskgraph.TaskResult{Output: taskgraph.OutputValue{Kind: taskgraph.OutputKindCell}})
	b.TaskExecutionCompleted(task, time.Millisecond, 0, map[uint32]uint32{1: 2}, false)

	b.scheduleRoot(task)

	_, ok = b.TryStartTaskExecution(task)
	require.True(t, ok)

	b.TaskExecutionResult(task, taskgraph.TaskResult{Output: taskgraph.OutputValue{Kind: taskgraph.OutputKindCell}})
	b.TaskExecutionCompleted(task, time.Millisecond, 0, map[uint32]uint32{1: 1}, false)

	_, err := b.TryReadTaskCellUntracked(context.Background(), task, taskgraph.CellId{TypeID: 1, Index: 1})
	assert.ErrorIs(t, err, taskgraph.ErrCellOutOfRange)
}

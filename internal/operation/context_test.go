package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

func TestTaskHandle_InsertAppendsLogRecord(t *testing.T) {
	ctx := newTestContext()
	task := taskgraph.TaskId(1)

	h := ctx.Task(task)
	h.Insert(storage.ItemKey{Kind: storage.KindOutput}, storage.CachedDataItem{Output: taskgraph.OutputValue{Kind: taskgraph.OutputKindTask, Task: 2}})
	h.Close()

	records := ctx.Log.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, task, records[0].Task)
}

func TestTaskHandle_InsertIdenticalValueSkipsLog(t *testing.T) {
	ctx := newTestContext()
	task := taskgraph.TaskId(1)
	key := storage.ItemKey{Kind: storage.KindOutput}
	value := storage.CachedDataItem{Output: taskgraph.OutputValue{Kind: taskgraph.OutputKindTask, Task: 2}}

	h := ctx.Task(task)
	h.Insert(key, value)
	h.Close()

	ctx.Log.Drain()

	h = ctx.Task(task)
	h.Insert(key, value)
	h.Close()

	assert.Empty(t, ctx.Log.Drain(), "re-inserting an identical value must not append a second log record")
}

func TestTaskHandle_AddOnlyLogsWhenNewlyCreated(t *testing.T) {
	ctx := newTestContext()
	task := taskgraph.TaskId(1)
	key := storage.ItemKey{Kind: storage.KindChild, Sub: storage.TaskKey(2)}

	h := ctx.Task(task)
	added := h.Add(key, storage.CachedDataItem{})
	h.Close()
	assert.True(t, added)
	require.Len(t, ctx.Log.Drain(), 1)

	h = ctx.Task(task)
	added = h.Add(key, storage.CachedDataItem{})
	h.Close()
	assert.False(t, added)
	assert.Empty(t, ctx.Log.Drain())
}

func TestTaskHandle_SuspendPointCountsCrossings(t *testing.T) {
	ctx := newTestContext()

	assert.Equal(t, 0, ctx.Suspensions())
	ctx.SuspendPoint(nil)
	ctx.SuspendPoint(nil)
	assert.Equal(t, 2, ctx.Suspensions())
}

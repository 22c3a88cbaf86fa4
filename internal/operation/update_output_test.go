package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

func TestUpdateOutputOperation_InstallsOutputAndClearsDirty(t *testing.T) {
	ctx := newTestContext()
	task := taskgraph.TaskId(1)

	NewInvalidateOperation([]taskgraph.TaskId{task}).Execute(ctx)
	require.True(t, ctx.Graph.GetOrCreate(task).HasKey(storage.ItemKey{Kind: storage.KindDirty}))

	output := taskgraph.OutputValue{Kind: taskgraph.OutputKindCell, Cell: taskgraph.CellRef{Task: task, Cell: taskgraph.CellId{TypeID: 1, Index: 0}}}
	NewUpdateOutputOperation(task, output, nil).Execute(ctx)

	ts := ctx.Graph.GetOrCreate(task)

	stored, ok := ts.Get(storage.ItemKey{Kind: storage.KindOutput})
	require.True(t, ok)
	assert.True(t, stored.Output.Equal(output))
	assert.False(t, ts.HasKey(storage.ItemKey{Kind: storage.KindDirty}))
}

func TestUpdateOutputOperation_UnchangedOutputIsNoop(t *testing.T) {
	ctx := newTestContext()
	task := taskgraph.TaskId(1)

	output := taskgraph.OutputValue{Kind: taskgraph.OutputKindTask, Task: taskgraph.TaskId(2)}

	NewUpdateOutputOperation(task, output, nil).Execute(ctx)

	var scheduled []taskgraph.TaskId
	ctx.Schedule = func(id taskgraph.TaskId) { scheduled = append(scheduled, id) }

	NewUpdateOutputOperation(task, output, nil).Execute(ctx)

	assert.Empty(t, scheduled, "re-installing an equal output must not trigger any scheduling")
}

func TestUpdateOutputOperation_MakesDependentsAndUnfinishedChildrenDirty(t *testing.T) {
	ctx := newTestContext()

	task := taskgraph.TaskId(1)
	dependent := taskgraph.TaskId(2)
	childWithOutput := taskgraph.TaskId(3)
	childWithoutOutput := taskgraph.TaskId(4)

	taskTS := ctx.Graph.GetOrCreate(task)
	taskTS.Add(storage.ItemKey{Kind: storage.KindOutputDependent, Sub: storage.TaskKey(dependent)}, storage.CachedDataItem{})
	taskTS.Add(storage.ItemKey{Kind: storage.KindChild, Sub: storage.TaskKey(childWithOutput)}, storage.CachedDataItem{})
	taskTS.Add(storage.ItemKey{Kind: storage.KindChild, Sub: storage.TaskKey(childWithoutOutput)}, storage.CachedDataItem{})

	childTS := ctx.Graph.GetOrCreate(childWithOutput)
	childTS.Insert(storage.ItemKey{Kind: storage.KindOutput}, storage.CachedDataItem{Output: taskgraph.OutputValue{Kind: taskgraph.OutputKindTask, Task: task}})

	output := taskgraph.OutputValue{Kind: taskgraph.OutputKindTask, Task: taskgraph.TaskId(99)}
	NewUpdateOutputOperation(task, output, nil).Execute(ctx)

	assert.True(t, ctx.Graph.GetOrCreate(dependent).HasKey(storage.ItemKey{Kind: storage.KindDirty}))
	assert.True(t, ctx.Graph.GetOrCreate(childWithoutOutput).HasKey(storage.ItemKey{Kind: storage.KindDirty}))
	assert.False(t, ctx.Graph.GetOrCreate(childWithOutput).HasKey(storage.ItemKey{Kind: storage.KindDirty}),
		"a child that already produced an output must not be re-dirtied")
}

func TestUpdateOutputOperation_StaleInProgressSkipsSeed(t *testing.T) {
	ctx := newTestContext()
	task := taskgraph.TaskId(1)

	ts := ctx.Graph.GetOrCreate(task)
	ts.Insert(storage.ItemKey{Kind: storage.KindInProgress}, storage.CachedDataItem{
		InProgress: storage.InProgressState{Kind: storage.InProgressRunning, Stale: true},
	})

	output := taskgraph.OutputValue{Kind: taskgraph.OutputKindTask, Task: taskgraph.TaskId(2)}
	NewUpdateOutputOperation(task, output, nil).Execute(ctx)

	_, ok := ts.Get(storage.ItemKey{Kind: storage.KindOutput})
	assert.False(t, ok, "a stale in-progress run must not install its output")
}

func TestUpdateOutputOperation_MarshalRoundTrip(t *testing.T) {
	op := NewUpdateOutputOperation(taskgraph.TaskId(5), taskgraph.OutputValue{Kind: taskgraph.OutputKindTask, Task: 6}, nil)
	op.state = updateOutputEnsureChildrenDirty
	op.seeded = true
	op.changed = true
	op.dependentTasks = []taskgraph.TaskId{7, 8}

	data, err := op.MarshalBinary()
	require.NoError(t, err)

	restored := &UpdateOutputOperation{}
	require.NoError(t, restored.UnmarshalBinary(data))

	assert.Equal(t, op.state, restored.state)
	assert.Equal(t, op.taskID, restored.taskID)
	assert.True(t, restored.output.Equal(op.output))
	assert.Equal(t, op.dependentTasks, restored.dependentTasks)
	assert.Equal(t, op.seeded, restored.seeded)
	assert.Equal(t, op.changed, restored.changed)
	assert.NotNil(t, restored.queue)
}

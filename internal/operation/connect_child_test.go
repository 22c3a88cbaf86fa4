package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/event"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

func newTestContext() *ExecuteContext {
	graph := storage.NewTaskMap(4)
	events := event.NewRegistry()
	log := storage.NewLog(4)

	return NewExecuteContext(graph, events, log, taskgraph.SessionId(1), nil)
}

func TestConnectChildOperation_AddsEdgeAndSchedules(t *testing.T) {
	ctx := newTestContext()

	parent := taskgraph.TaskId(1)
	child := taskgraph.TaskId(2)

	var scheduled []taskgraph.TaskId
	ctx.Schedule = func(id taskgraph.TaskId) { scheduled = append(scheduled, id) }

	aggregation.EnsureRoot(ctx.Graph.GetOrCreate(parent), func() uint64 {
		id, _ := ctx.Events.Create("root all-clean")
		return id
	})
	aggregation.SetNumber(ctx.Graph.GetOrCreate(parent), aggregation.Number{Effective: aggregation.RootEffective})

	op := NewConnectChildOperation(parent, child)
	op.Execute(ctx)

	parentTS := ctx.Graph.GetOrCreate(parent)
	assert.True(t, parentTS.HasKey(storage.ItemKey{Kind: storage.KindChild, Sub: storage.TaskKey(child)}))

	childTS := ctx.Graph.GetOrCreate(child)
	assert.True(t, childTS.HasKey(storage.ItemKey{Kind: storage.KindInProgress}))

	require.Len(t, scheduled, 1)
	assert.Equal(t, child, scheduled[0])
}

func TestConnectChildOperation_DuplicateEdgeIsNoop(t *testing.T) {
	ctx := newTestContext()

	parent := taskgraph.TaskId(1)
	child := taskgraph.TaskId(2)

	scheduleCount := 0
	ctx.Schedule = func(taskgraph.TaskId) { scheduleCount++ }

	NewConnectChildOperation(parent, child).Execute(ctx)
	assert.Equal(t, 1, scheduleCount)

	NewConnectChildOperation(parent, child).Execute(ctx)
	assert.Equal(t, 1, scheduleCount, "re-adding the same edge must not reschedule")
}

func TestConnectChildOperation_MarshalRoundTrip(t *testing.T) {
	op := NewConnectChildOperation(taskgraph.TaskId(7), taskgraph.TaskId(9))
	op.state = connectChildScheduleTask

	data, err := op.MarshalBinary()
	require.NoError(t, err)

	restored := &ConnectChildOperation{}
	require.NoError(t, restored.UnmarshalBinary(data))

	assert.Equal(t, op.state, restored.state)
	assert.Equal(t, op.parent, restored.parent)
	assert.Equal(t, op.child, restored.child)
	assert.NotNil(t, restored.queue)
}

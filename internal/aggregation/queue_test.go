package aggregation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/event"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

func drain(t *testing.T, q *aggregation.UpdateQueue, graph aggregation.Graph, events *event.Registry, schedule func(taskgraph.TaskId)) {
	t.Helper()

	for i := 0; i < 10_000; i++ {
		if q.Process(graph, events, schedule) {
			return
		}
	}

	t.Fatal("update queue never drained")
}

func TestUpdateQueue_DataUpdatePropagatesToRootAndFiresAllClean(t *testing.T) {
	t.Parallel()

	graph := storage.NewTaskMap(2)
	events := event.NewRegistry()

	root := taskgraph.TaskId(1)
	child := taskgraph.TaskId(2)

	rootTS := graph.GetOrCreate(root)
	childTS := graph.GetOrCreate(child)

	aggregation.AddUpper(childTS, root)
	aggregation.AddFollower(rootTS, child)

	allCleanID, allClean := events.Create("root all-clean")
	rootTS.Insert(storage.ItemKey{Kind: storage.KindAggregateRoot}, storage.CachedDataItem{
		AggregateRoot: storage.RootState{AllCleanEventID: allCleanID},
	})

	q := aggregation.NewUpdateQueue()
	session := taskgraph.SessionId(1)

	q.Push(aggregation.JobDataUpdate{Task: child, Update: aggregation.DirtyTask(child, session)})
	drain(t, q, graph, events, nil)

	assert.EqualValues(t, 1, aggregation.AggregatedDirtyCount(rootTS))

	done := make(chan struct{})

	go func() {
		_ = allClean.Wait(context.Background(), "test")
		close(done)
	}()

	q.Push(aggregation.JobDataUpdate{Task: child, Update: aggregation.CleanTask(session)})
	drain(t, q, graph, events, nil)

	assert.EqualValues(t, 0, aggregation.AggregatedDirtyCount(rootTS))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("all-clean event was never fired once the root's dirty count reached zero")
	}
}

func TestUpdateQueue_FindAndScheduleDirtySchedulesLeaves(t *testing.T) {
	t.Parallel()

	graph := storage.NewTaskMap(2)
	events := event.NewRegistry()

	root := taskgraph.TaskId(1)
	leaf := taskgraph.TaskId(2)

	rootTS := graph.GetOrCreate(root)
	leafTS := graph.GetOrCreate(leaf)

	aggregation.AddFollower(rootTS, leaf)
	leafTS.Insert(storage.ItemKey{Kind: storage.KindDirty}, storage.CachedDataItem{})
	aggregation.Apply(rootTS, aggregation.DirtyTask(leaf, taskgraph.SessionId(1)))

	var scheduled []taskgraph.TaskId

	q := aggregation.NewUpdateQueue()
	q.Push(aggregation.JobFindAndScheduleDirty{TaskIDs: []taskgraph.TaskId{root}})
	drain(t, q, graph, events, func(id taskgraph.TaskId) { scheduled = append(scheduled, id) })

	require.Contains(t, scheduled, leaf)
}

func TestUpdateQueue_InnerHasNewFollowerWiresBothDirections(t *testing.T) {
	t.Parallel()

	graph := storage.NewTaskMap(2)
	events := event.NewRegistry()

	upper := taskgraph.TaskId(10)
	follower := taskgraph.TaskId(20)

	q := aggregation.NewUpdateQueue()
	q.Push(aggregation.JobInnerHasNewFollower{UpperIDs: []taskgraph.TaskId{upper}, NewFollower: follower})
	drain(t, q, graph, events, nil)

	assert.Equal(t, 1, aggregation.CountUppers(graph.GetOrCreate(follower)))
	assert.Equal(t, 1, aggregation.CountFollowers(graph.GetOrCreate(upper)))
}

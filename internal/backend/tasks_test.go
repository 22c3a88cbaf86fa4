package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/backingstore"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	var scheduled []taskgraph.TaskId

	b := New(Config{
		ShardCount: 4,
		OnSchedule: func(id taskgraph.TaskId) { scheduled = append(scheduled, id) },
	})
	require.NoError(t, b.Startup(context.Background()))

	return b
}

func TestGetOrCreatePersistentTask_CanonicalizesEqualTypes(t *testing.T) {
	b := newTestBackend(t)

	typ := taskgraph.TaskType{Function: "f", Arg: []byte("x")}

	id1 := b.GetOrCreatePersistentTask(typ, 0)
	id2 := b.GetOrCreatePersistentTask(typ, 0)

	assert.Equal(t, id1, id2)
	assert.True(t, id1.IsPersistent())
}

func TestGetOrCreatePersistentTask_DifferentArgsDifferentIDs(t *testing.T) {
	b := newTestBackend(t)

	id1 := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "f", Arg: []byte("1")}, 0)
	id2 := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "f", Arg: []byte("2")}, 0)

	assert.NotEqual(t, id1, id2)
}

func TestGetOrCreatePersistentTask_SchedulesRootlessTaskOnce(t *testing.T) {
	b := newTestBackend(t)

	var scheduled []taskgraph.TaskId
	b.execCtx.Schedule = func(id taskgraph.TaskId) { scheduled = append(scheduled, id) }

	typ := taskgraph.TaskType{Function: "f"}

	id := b.GetOrCreatePersistentTask(typ, 0)
	b.GetOrCreatePersistentTask(typ, 0)

	require.Len(t, scheduled, 1)
	assert.Equal(t, id, scheduled[0])
}

func TestGetOrCreatePersistentTask_ConnectsToParent(t *testing.T) {
	b := newTestBackend(t)

	parent := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "parent"}, 0)
	child := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "child"}, parent)

	parentTS := b.graph.GetOrCreate(parent)
	assert.True(t, parentTS.HasKey(storage.ItemKey{Kind: storage.KindChild, Sub: storage.TaskKey(child)}))
}

func TestGetOrCreateTransientTask_PanicsFromPersistentParent(t *testing.T) {
	b := newTestBackend(t)

	parent := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "parent"}, 0)

	assert.PanicsWithValue(t, taskgraph.ErrTransientFromPersistent, func() {
		b.GetOrCreateTransientTask(taskgraph.TaskType{Function: "child"}, parent)
	})
}

func TestCreateTransientTask_MintsFreshIDsAndSchedules(t *testing.T) {
	b := newTestBackend(t)

	var scheduled []taskgraph.TaskId
	b.execCtx.Schedule = func(id taskgraph.TaskId) { scheduled = append(scheduled, id) }

	id1 := b.CreateTransientTask(taskgraph.TransientTaskType{Kind: taskgraph.TransientOnce})
	id2 := b.CreateTransientTask(taskgraph.TransientTaskType{Kind: taskgraph.TransientOnce})

	assert.NotEqual(t, id1, id2)
	assert.True(t, id1.IsTransient())
	assert.True(t, id2.IsTransient())
	assert.ElementsMatch(t, []taskgraph.TaskId{id1, id2}, scheduled)
}

func TestGetOrCreatePersistentTask_ResolvesSameIDAcrossRestart(t *testing.T) {
	store, err := backingstore.Open(backingstore.Options{Dir: t.TempDir(), StartupCacheBudget: 1 << 20})
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	typ := taskgraph.TaskType{Function: "f", Arg: []byte("x")}

	first := New(Config{ShardCount: 4, Store: store})
	require.NoError(t, first.Startup(context.Background()))

	id1 := first.GetOrCreatePersistentTask(typ, 0)
	require.NoError(t, first.RunBackendJob(context.Background(), 0))
	first.Stopping()

	second := New(Config{ShardCount: 4, Store: store})
	require.NoError(t, second.Startup(context.Background()))

	id2 := second.GetOrCreatePersistentTask(typ, 0)

	assert.Equal(t, id1, id2)
}

func TestDisposeRootTask_ReleasesEventAndID(t *testing.T) {
	b := newTestBackend(t)

	task := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "root"}, 0)

	eventID := b.waitForCleanEventID(t, task)

	b.DisposeRootTask(task)

	ts := b.graph.GetOrCreate(task)
	assert.False(t, ts.HasKey(aggregateRootKey))

	_, stillRegistered := b.events.Get(eventID)
	assert.False(t, stillRegistered)
}

// waitForCleanEventID installs an AggregateRoot on task the same way
// waitForClean does, returning the all-clean event id so the caller can
// assert it was released.
func (b *Backend) waitForCleanEventID(t *testing.T, task taskgraph.TaskId) uint64 {
	t.Helper()

	if err := b.waitForClean(context.Background(), task); err != nil {
		t.Fatalf("waitForClean: %v", err)
	}

	h := b.task(task)
	item, _ := h.Get(aggregateRootKey)
	h.Close()

	return item.AggregateRoot.AllCleanEventID
}

func TestMarkOwnTaskAsSessionDependent_SetsFlag(t *testing.T) {
	b := newTestBackend(t)

	task := b.GetOrCreatePersistentTask(taskgraph.TaskType{Function: "f"}, 0)

	b.MarkOwnTaskAsSessionDependent(task)

	h := b.task(task)
	item, ok := h.Get(inProgressKey)
	h.Close()

	require.True(t, ok)
	assert.True(t, item.InProgress.SessionDependent)
}

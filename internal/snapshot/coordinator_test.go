package snapshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/operation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// fakeStore records the arguments of every SaveSnapshot call; every other
// BackingStorage method is unused by the coordinator and panics if called.
type fakeStore struct {
	mu    sync.Mutex
	calls []snapshotCall
}

type snapshotCall struct {
	session      taskgraph.SessionId
	ops          []taskgraph.AnyOperation
	taskCacheLog []taskgraph.LogRecord
	metaLog      []taskgraph.LogRecord
	dataLog      []taskgraph.LogRecord
}

func (f *fakeStore) SaveSnapshot(session taskgraph.SessionId, ops []taskgraph.AnyOperation, taskCacheLog, metaLog, dataLog []taskgraph.LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, snapshotCall{session: session, ops: ops, taskCacheLog: taskCacheLog, metaLog: metaLog, dataLog: dataLog})

	return nil
}

func (f *fakeStore) NextSessionID() (taskgraph.SessionId, error)              { panic("unused") }
func (f *fakeStore) NextFreeTaskID() (taskgraph.TaskId, error)                { panic("unused") }
func (f *fakeStore) UncompletedOperations() ([]taskgraph.AnyOperation, error) { panic("unused") }
func (f *fakeStore) StartReadTransaction() (taskgraph.ReadTransaction, error) { panic("unused") }
func (f *fakeStore) EndReadTransaction(taskgraph.ReadTransaction)             { panic("unused") }
func (f *fakeStore) ForwardLookupTaskCache(taskgraph.ReadTransaction, taskgraph.TaskType) (taskgraph.TaskId, bool, error) {
	panic("unused")
}
func (f *fakeStore) ReverseLookupTaskCache(taskgraph.ReadTransaction, taskgraph.TaskId) (taskgraph.TaskType, bool, error) {
	panic("unused")
}
func (f *fakeStore) LookupData(taskgraph.ReadTransaction, taskgraph.TaskId, int) ([]taskgraph.RawItem, error) {
	panic("unused")
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeStore) {
	t.Helper()

	store := &fakeStore{}
	c := NewCoordinator(store, storage.NewTaskCacheLog(4), storage.NewLog(4), storage.NewLog(4), taskgraph.SessionId(1), nil)

	return c, store
}

func TestCoordinator_RequestSnapshotWithNoLiveOpsSucceedsImmediately(t *testing.T) {
	c, store := newTestCoordinator(t)

	err := c.RequestSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, store.calls, 1)
	assert.Equal(t, taskgraph.SessionId(1), store.calls[0].session)
}

func TestCoordinator_RequestSnapshotDrainsLogs(t *testing.T) {
	c, store := newTestCoordinator(t)

	c.taskCacheLog.Append(taskgraph.TaskId(1), taskgraph.TaskType{})
	c.metaLog.Append(storage.CachedDataUpdate{Task: taskgraph.TaskId(1), Key: storage.ItemKey{Kind: storage.KindOutput}, NewValue: []byte("x")})
	c.dataLog.Append(storage.CachedDataUpdate{Task: taskgraph.TaskId(2), Key: storage.ItemKey{Kind: storage.KindCellData}, NewValue: []byte("y")})

	require.NoError(t, c.RequestSnapshot(context.Background()))

	require.Len(t, store.calls, 1)
	assert.Len(t, store.calls[0].taskCacheLog, 1)
	assert.Len(t, store.calls[0].metaLog, 1)
	assert.Len(t, store.calls[0].dataLog, 1)
}

func TestCoordinator_RequestSnapshotWaitsForLiveOperationToEnd(t *testing.T) {
	c, store := newTestCoordinator(t)

	c.BeginOperation()

	done := make(chan error, 1)
	go func() {
		done <- c.RequestSnapshot(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("RequestSnapshot returned before the live operation ended")
	case <-time.After(50 * time.Millisecond):
	}

	c.EndOperation()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RequestSnapshot never unblocked after EndOperation")
	}

	require.Len(t, store.calls, 1)
}

func TestCoordinator_BeginOperationBlocksWhileSnapshotPending(t *testing.T) {
	c, _ := newTestCoordinator(t)

	c.BeginOperation()

	snapshotDone := make(chan struct{})
	go func() {
		_ = c.RequestSnapshot(context.Background())
		close(snapshotDone)
	}()

	// Give RequestSnapshot a chance to observe liveOps > 0 and set
	// snapshotPending before a second BeginOperation races it.
	time.Sleep(20 * time.Millisecond)

	beginReturned := make(chan struct{})
	go func() {
		c.BeginOperation()
		close(beginReturned)
	}()

	select {
	case <-beginReturned:
		t.Fatal("BeginOperation returned while a snapshot was pending")
	case <-time.After(50 * time.Millisecond):
	}

	c.EndOperation()
	<-snapshotDone

	select {
	case <-beginReturned:
	case <-time.After(time.Second):
		t.Fatal("BeginOperation never unblocked after the snapshot completed")
	}

	c.EndOperation()
}

func TestCoordinator_CheckSuspendPersistsOperationWhenSnapshotPending(t *testing.T) {
	c, _ := newTestCoordinator(t)

	// One live operation keeps the snapshot waiting; the second is the one
	// that reaches CheckSuspend and gives up its own slot there.
	c.BeginOperation()
	c.BeginOperation()

	snapshotStarted := make(chan struct{})
	snapshotDone := make(chan struct{})
	go func() {
		close(snapshotStarted)
		_ = c.RequestSnapshot(context.Background())
		close(snapshotDone)
	}()

	<-snapshotStarted
	time.Sleep(20 * time.Millisecond)

	op := operation.NewInvalidateOperation([]taskgraph.TaskId{1})

	checkDone := make(chan struct{})
	go func() {
		c.CheckSuspend(op)
		close(checkDone)
	}()

	select {
	case <-checkDone:
		t.Fatal("CheckSuspend returned before the snapshot released the barrier")
	case <-time.After(50 * time.Millisecond):
	}

	c.mu.Lock()
	pendingLen := len(c.pendingOps)
	c.mu.Unlock()
	assert.Equal(t, 1, pendingLen, "CheckSuspend should have persisted the operation into pendingOps")

	c.EndOperation()
	<-snapshotDone

	select {
	case <-checkDone:
	case <-time.After(time.Second):
		t.Fatal("CheckSuspend never unblocked after the snapshot completed")
	}
}

func TestCoordinator_CheckSuspendNoopWithNoSnapshotPending(t *testing.T) {
	c, _ := newTestCoordinator(t)

	op := operation.NewInvalidateOperation([]taskgraph.TaskId{1})
	c.CheckSuspend(op)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.pendingOps)
}

func TestCoordinator_CheckSuspendIgnoresNilOperation(t *testing.T) {
	c, _ := newTestCoordinator(t)

	assert.NotPanics(t, func() {
		c.CheckSuspend(nil)
	})
}

func TestCoordinator_IdleStartAndEndNotifyListeners(t *testing.T) {
	c, _ := newTestCoordinator(t)

	startCh := c.idleStart.Listen("test")
	endCh := c.idleEnd.Listen("test")

	c.IdleStart()
	c.IdleEnd()

	select {
	case <-startCh:
	default:
		t.Fatal("idleStart listener was not notified")
	}

	select {
	case <-endCh:
	default:
		t.Fatal("idleEnd listener was not notified")
	}
}

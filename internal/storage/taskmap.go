package storage

import (
	"sync"

	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// TaskMap is the process-wide registry resolving a TaskId to its
// TaskStorage, sharded by id the same way BiMap shards by cache key, so
// that concurrent operations against unrelated tasks never contend on a
// single lock (spec.md §5 "per-task lock, never a global one").
type TaskMap struct {
	shards []taskMapShard
	mask   uint32
}

type taskMapShard struct {
	mu    sync.RWMutex
	tasks map[taskgraph.TaskId]*TaskStorage
}

// NewTaskMap creates a registry with shardCount buckets, rounded up to the
// next power of two so shard selection is a cheap mask instead of a modulo.
func NewTaskMap(shardCount int) *TaskMap {
	if shardCount <= 0 {
		shardCount = 1
	}

	n := nextPowerOfTwo(shardCount)
	shards := make([]taskMapShard, n)

	for i := range shards {
		shards[i].tasks = make(map[taskgraph.TaskId]*TaskStorage)
	}

	return &TaskMap{shards: shards, mask: uint32(n - 1)}
}

func (m *TaskMap) shardFor(id taskgraph.TaskId) *taskMapShard {
	return &m.shards[uint32(id)&m.mask]
}

// Get returns the storage for id, if it has ever been created.
func (m *TaskMap) Get(id taskgraph.TaskId) (*TaskStorage, bool) {
	s := m.shardFor(id)

	s.mu.RLock()
	t, ok := s.tasks[id]
	s.mu.RUnlock()

	return t, ok
}

// GetOrCreate returns the existing storage for id, allocating an empty one
// on first access.
func (m *TaskMap) GetOrCreate(id taskgraph.TaskId) *TaskStorage {
	s := m.shardFor(id)

	s.mu.RLock()
	t, ok := s.tasks[id]
	s.mu.RUnlock()

	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[id]; ok {
		return t
	}

	t = NewTaskStorage()
	s.tasks[id] = t

	return t
}

// Delete drops a task's storage entirely, used when a transient task is
// disposed (spec.md §6.1 DisposeRootTask).
func (m *TaskMap) Delete(id taskgraph.TaskId) {
	s := m.shardFor(id)

	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// Len reports how many tasks currently have storage allocated.
func (m *TaskMap) Len() int {
	n := 0

	for i := range m.shards {
		m.shards[i].mu.RLock()
		n += len(m.shards[i].tasks)
		m.shards[i].mu.RUnlock()
	}

	return n
}

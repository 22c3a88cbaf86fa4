package storage

import (
	"sync"

	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// CachedDataUpdate is one delta record appended whenever a mutation changes
// a task's stored item (spec.md §4.1). OldValue/NewValue are the encoded
// bytes of a CachedDataItem; either may be nil (absent), but a
// nil-to-nil update is never recorded (suppressed at the call site).
type CachedDataUpdate struct {
	Task     taskgraph.TaskId
	Key      ItemKey
	OldValue []byte
	NewValue []byte
}

// Log is a sharded, append-only collection of CachedDataUpdate records for
// one Category. It is sharded by TaskId (spec.md §5 "Log shards... sharded
// by TaskId to minimize contention") so concurrent operations touching
// different tasks never block each other when logging; grounded on
// pkg/rbtree.ShardedAllocator's per-shard parallel Hibernate/Serialize.
type Log struct {
	shards []logShard
}

type logShard struct {
	mu  sync.Mutex
	vec ChunkedVec[CachedDataUpdate]
}

// NewLog creates a Log with shardCount shards. shardCount must be a power
// of two for the modulo-by-mask sharding below; callers that pass a
// non-power-of-two value get it rounded up.
func NewLog(shardCount int) *Log {
	shardCount = nextPowerOfTwo(shardCount)
	return &Log{shards: make([]logShard, shardCount)}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}

	p := 1
	for p < n {
		p <<= 1
	}

	return p
}

func (l *Log) shardFor(task taskgraph.TaskId) *logShard {
	mask := uint32(len(l.shards) - 1)

	return &l.shards[uint32(task)&mask]
}

// Append records one update in the shard owned by rec.Task.
func (l *Log) Append(rec CachedDataUpdate) {
	shard := l.shardFor(rec.Task)
	shard.mu.Lock()
	shard.vec.Push(rec)
	shard.mu.Unlock()
}

// Drain empties every shard and returns their combined contents. Used by
// the snapshot coordinator under the barrier, when no operation can be
// concurrently appending.
func (l *Log) Drain() []CachedDataUpdate {
	var out []CachedDataUpdate

	for i := range l.shards {
		shard := &l.shards[i]

		shard.mu.Lock()
		drained := shard.vec.Drain()
		shard.mu.Unlock()

		out = append(out, drained...)
	}

	return out
}

// Len returns the total number of records currently buffered across all
// shards. Approximate under concurrent writers; intended for diagnostics.
func (l *Log) Len() int {
	n := 0

	for i := range l.shards {
		shard := &l.shards[i]

		shard.mu.Lock()
		n += shard.vec.Len()
		shard.mu.Unlock()
	}

	return n
}

// TaskCacheRecord is one BiMap (TaskType, TaskId) pair newly canonicalized
// since the last snapshot (spec.md §6.3 "Forward/Reverse task cache").
type TaskCacheRecord struct {
	Task taskgraph.TaskId
	Type taskgraph.TaskType
}

// TaskCacheLog is TaskCacheRecord's counterpart to Log, sharded the same
// way. It is a separate type rather than a generic Log[T] because its
// records are never removed (BiMap entries are append-only for the
// lifetime of a TaskId) and so need no OldValue/NewValue pairing.
type TaskCacheLog struct {
	shards []taskCacheLogShard
}

type taskCacheLogShard struct {
	mu  sync.Mutex
	vec ChunkedVec[TaskCacheRecord]
}

// NewTaskCacheLog creates a TaskCacheLog with shardCount shards, rounded up
// to a power of two.
func NewTaskCacheLog(shardCount int) *TaskCacheLog {
	shardCount = nextPowerOfTwo(shardCount)
	return &TaskCacheLog{shards: make([]taskCacheLogShard, shardCount)}
}

func (l *TaskCacheLog) shardFor(task taskgraph.TaskId) *taskCacheLogShard {
	mask := uint32(len(l.shards) - 1)

	return &l.shards[uint32(task)&mask]
}

// Append records that task was newly canonicalized to typ.
func (l *TaskCacheLog) Append(task taskgraph.TaskId, typ taskgraph.TaskType) {
	shard := l.shardFor(task)
	shard.mu.Lock()
	shard.vec.Push(TaskCacheRecord{Task: task, Type: typ})
	shard.mu.Unlock()
}

// Drain empties every shard and returns their combined contents.
func (l *TaskCacheLog) Drain() []TaskCacheRecord {
	var out []TaskCacheRecord

	for i := range l.shards {
		shard := &l.shards[i]

		shard.mu.Lock()
		drained := shard.vec.Drain()
		shard.mu.Unlock()

		out = append(out, drained...)
	}

	return out
}

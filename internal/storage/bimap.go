package storage

import (
	"sync"

	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// BiMap canonicalizes task invocation identity: two lookups with an equal
// TaskType always resolve to the same TaskId (spec.md §3 "Equal task types
// share one TaskId"). It is a shared, lock-protected structure (spec.md
// §5), sharded by cache-key hash to reduce contention the way the
// teacher's pkg/rbtree.ShardedAllocator shards allocators by key.
type BiMap struct {
	shards []bimapShard
}

type bimapShard struct {
	mu      sync.RWMutex
	forward map[string]taskgraph.TaskId
	reverse map[taskgraph.TaskId]taskgraph.TaskType
}

// NewBiMap creates a BiMap with shardCount shards.
func NewBiMap(shardCount int) *BiMap {
	if shardCount < 1 {
		shardCount = 1
	}

	shards := make([]bimapShard, shardCount)
	for i := range shards {
		shards[i].forward = make(map[string]taskgraph.TaskId)
		shards[i].reverse = make(map[taskgraph.TaskId]taskgraph.TaskType)
	}

	return &BiMap{shards: shards}
}

func (m *BiMap) shardForKey(key string) *bimapShard {
	var h uint32 = 2166136261

	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}

	return &m.shards[h%uint32(len(m.shards))]
}

func (m *BiMap) shardForID(id taskgraph.TaskId) *bimapShard {
	return &m.shards[uint32(id)%uint32(len(m.shards))]
}

// Lookup resolves typ to its TaskId, if it has been seen before in this
// process (the BiMap does not consult the backing store; that is the
// caller's fallback on a miss, per spec.md §3 Lifecycle).
func (m *BiMap) Lookup(typ taskgraph.TaskType) (taskgraph.TaskId, bool) {
	key := typ.CacheKey()
	shard := m.shardForKey(key)

	shard.mu.RLock()
	id, ok := shard.forward[key]
	shard.mu.RUnlock()

	return id, ok
}

// ReverseLookup resolves id back to the TaskType that produced it.
func (m *BiMap) ReverseLookup(id taskgraph.TaskId) (taskgraph.TaskType, bool) {
	shard := m.shardForID(id)

	shard.mu.RLock()
	typ, ok := shard.reverse[id]
	shard.mu.RUnlock()

	return typ, ok
}

// Insert records the (typ, id) pair. Both directions must agree across all
// callers: a concurrent Insert for the same typ with a different id is a
// caller bug (identity must be settled under the BiMap's own
// miss-then-insert critical section upstream, in the backend).
func (m *BiMap) Insert(typ taskgraph.TaskType, id taskgraph.TaskId) {
	key := typ.CacheKey()

	fwdShard := m.shardForKey(key)
	fwdShard.mu.Lock()
	fwdShard.forward[key] = id
	fwdShard.mu.Unlock()

	revShard := m.shardForID(id)
	revShard.mu.Lock()
	revShard.reverse[id] = typ
	revShard.mu.Unlock()
}

// Len returns the total number of canonicalized task types across shards.
func (m *BiMap) Len() int {
	n := 0

	for i := range m.shards {
		m.shards[i].mu.RLock()
		n += len(m.shards[i].forward)
		m.shards[i].mu.RUnlock()
	}

	return n
}

package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/storage"
)

func TestTaskStorage_AddInsertRemove(t *testing.T) {
	t.Parallel()

	s := storage.NewTaskStorage()
	s.Lock()
	defer s.Unlock()

	key := storage.ItemKey{Kind: storage.KindDirty}

	changed := s.Add(key, storage.CachedDataItem{})
	require.True(t, changed, "first Add must report a change")

	changed = s.Add(key, storage.CachedDataItem{})
	assert.False(t, changed, "second Add on an existing key must be a no-op")

	_, existed := s.Remove(key)
	assert.True(t, existed)

	_, existed = s.Remove(key)
	assert.False(t, existed, "second Remove must report nothing removed")
}

func TestTaskStorage_InsertReturnsOldValue(t *testing.T) {
	t.Parallel()

	s := storage.NewTaskStorage()
	s.Lock()
	defer s.Unlock()

	key := storage.ItemKey{Kind: storage.KindCellTypeMaxIndex, Sub: "1"}

	_, existed := s.Insert(key, storage.CachedDataItem{CellTypeMaxIndex: 3})
	assert.False(t, existed)

	old, existed := s.Insert(key, storage.CachedDataItem{CellTypeMaxIndex: 7})
	require.True(t, existed)
	assert.Equal(t, uint32(3), old.CellTypeMaxIndex)

	cur, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, uint32(7), cur.CellTypeMaxIndex)
}

func TestTaskStorage_IterUsesIndexForFanoutKinds(t *testing.T) {
	t.Parallel()

	s := storage.NewTaskStorage()
	s.Lock()
	defer s.Unlock()

	for i := range 5 {
		key := storage.ItemKey{Kind: storage.KindChild, Sub: string(rune('a' + i))}
		s.Add(key, storage.CachedDataItem{})
	}

	assert.Equal(t, 5, s.Count(storage.KindChild))

	seen := 0
	s.Iter(storage.KindChild, func(storage.ItemKey, storage.CachedDataItem) bool {
		seen++

		return true
	})
	assert.Equal(t, 5, seen)

	// Removing one must shrink both the item map and the index bucket.
	s.Remove(storage.ItemKey{Kind: storage.KindChild, Sub: "a"})
	assert.Equal(t, 4, s.Count(storage.KindChild))
}

func TestTaskStorage_IterEarlyStop(t *testing.T) {
	t.Parallel()

	s := storage.NewTaskStorage()
	s.Lock()
	defer s.Unlock()

	for i := range 3 {
		s.Add(storage.ItemKey{Kind: storage.KindChild, Sub: string(rune('a' + i))}, storage.CachedDataItem{})
	}

	count := 0
	s.Iter(storage.KindChild, func(storage.ItemKey, storage.CachedDataItem) bool {
		count++

		return false
	})
	assert.Equal(t, 1, count, "returning false from the callback must stop iteration immediately")
}

func TestAggregationNumberItem_IsRoot(t *testing.T) {
	t.Parallel()

	root := storage.AggregationNumberItem{Effective: storage.RootEffective}
	assert.True(t, root.IsRoot())

	nonRoot := storage.AggregationNumberItem{Effective: 5}
	assert.False(t, nonRoot.IsRoot())
}

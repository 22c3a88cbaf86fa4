package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/storage"
)

func TestIDFactory_PersistentAllocIsUnique(t *testing.T) {
	t.Parallel()

	f := storage.NewPersistentIDFactory(0)

	seen := map[uint32]bool{}

	for range 100 {
		id, ok := f.Alloc()
		require.True(t, ok)
		assert.False(t, id.IsTransient())
		assert.False(t, seen[uint32(id)], "allocator must never repeat an id before release")
		seen[uint32(id)] = true
	}
}

func TestIDFactory_TransientIdsAreTagged(t *testing.T) {
	t.Parallel()

	f := storage.NewTransientIDFactory()

	id, ok := f.Alloc()
	require.True(t, ok)
	assert.True(t, id.IsTransient())
}

func TestIDFactory_ReleaseReusesID(t *testing.T) {
	t.Parallel()

	f := storage.NewPersistentIDFactory(0)

	id, ok := f.Alloc()
	require.True(t, ok)

	f.Release(id)

	reused, ok := f.Alloc()
	require.True(t, ok)
	assert.Equal(t, id, reused, "a released id must be handed out again before the counter advances")
}

package backingstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartupCache_GetPutRoundTrip(t *testing.T) {
	c := NewStartupCache(1 << 20)

	c.Put(keyspaceForward, []byte("k"), []byte("v"))

	v, ok := c.Get(keyspaceForward, []byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, ok = c.Get(keyspaceReverse, []byte("k"))
	assert.False(t, ok, "keyspaces are partitioned")
}

func TestStartupCache_ZeroBudgetDisablesCaching(t *testing.T) {
	c := NewStartupCache(0)

	c.Put(keyspaceForward, []byte("k"), []byte("v"))

	_, ok := c.Get(keyspaceForward, []byte("k"))
	assert.False(t, ok)
}

func TestStartupCache_BudgetExhaustionDropsFurtherPuts(t *testing.T) {
	c := NewStartupCache(pairHeaderSize + 2)

	c.Put(keyspaceForward, []byte("a"), []byte("1"))
	c.Put(keyspaceForward, []byte("b"), []byte("2"))

	_, firstOK := c.Get(keyspaceForward, []byte("a"))
	_, secondOK := c.Get(keyspaceForward, []byte("b"))

	assert.True(t, firstOK)
	assert.False(t, secondOK)
}

func TestStartupCache_SaveToThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "startup.cache")

	c := NewStartupCache(1 << 20)
	c.Put(keyspaceForward, []byte("fwd-key"), []byte("fwd-value"))
	c.Put(keyspaceReverse, []byte("rev-key"), []byte("rev-value"))

	require.NoError(t, c.SaveTo(path))

	loaded, err := LoadStartupCache(path, 1<<20)
	require.NoError(t, err)

	v, ok := loaded.Get(keyspaceForward, []byte("fwd-key"))
	require.True(t, ok)
	assert.Equal(t, []byte("fwd-value"), v)

	v, ok = loaded.Get(keyspaceReverse, []byte("rev-key"))
	require.True(t, ok)
	assert.Equal(t, []byte("rev-value"), v)
}

func TestLoadStartupCache_MissingFileIsNotAnError(t *testing.T) {
	c, err := LoadStartupCache(filepath.Join(t.TempDir(), "absent"), 1<<20)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

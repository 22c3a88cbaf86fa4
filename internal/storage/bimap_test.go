package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

func TestBiMap_InsertAndLookup(t *testing.T) {
	t.Parallel()

	m := storage.NewBiMap(4)

	typ := taskgraph.TaskType{Kind: taskgraph.TaskTypeNative, Function: "f", Arg: []byte("3")}

	_, ok := m.Lookup(typ)
	assert.False(t, ok, "unseen type must miss")

	m.Insert(typ, taskgraph.TaskId(42))

	id, ok := m.Lookup(typ)
	require.True(t, ok)
	assert.Equal(t, taskgraph.TaskId(42), id)

	got, ok := m.ReverseLookup(taskgraph.TaskId(42))
	require.True(t, ok)
	assert.Equal(t, typ.Function, got.Function)
	assert.Equal(t, typ.Arg, got.Arg)
}

func TestBiMap_DistinctArgsDistinctIDs(t *testing.T) {
	t.Parallel()

	m := storage.NewBiMap(1)

	a := taskgraph.TaskType{Function: "f", Arg: []byte("1")}
	b := taskgraph.TaskType{Function: "f", Arg: []byte("2")}

	m.Insert(a, 1)
	m.Insert(b, 2)

	idA, _ := m.Lookup(a)
	idB, _ := m.Lookup(b)

	assert.NotEqual(t, idA, idB)
	assert.Equal(t, 2, m.Len())
}

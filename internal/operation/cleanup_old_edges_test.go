package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

func TestCleanupOldEdgesOperation_SweepsOutdatedChildAndInverseAggregation(t *testing.T) {
	ctx := newTestContext()

	parent := taskgraph.TaskId(1)
	child := taskgraph.TaskId(2)

	NewConnectChildOperation(parent, child).Execute(ctx)

	parentTS := ctx.Graph.GetOrCreate(parent)
	parentTS.Remove(storage.ItemKey{Kind: storage.KindChild, Sub: storage.TaskKey(child)})
	parentTS.Add(storage.ItemKey{Kind: storage.KindOutdatedChild, Sub: storage.TaskKey(child)}, storage.CachedDataItem{})

	NewCleanupOldEdgesOperation(parent).Execute(ctx)

	assert.False(t, parentTS.HasKey(storage.ItemKey{Kind: storage.KindOutdatedChild, Sub: storage.TaskKey(child)}))

	childTS := ctx.Graph.GetOrCreate(child)
	assert.Equal(t, 0, aggregation.CountUppers(childTS))
	assert.Equal(t, 0, aggregation.CountFollowers(parentTS))
}

func TestCleanupOldEdgesOperation_SweepsOutdatedCollectibleWithInverseDelta(t *testing.T) {
	ctx := newTestContext()

	parent := taskgraph.TaskId(1)
	child := taskgraph.TaskId(2)
	ref := taskgraph.CollectibleRef{TraitTypeID: 1, Value: "a"}

	NewConnectChildOperation(parent, child).Execute(ctx)
	NewUpdateCollectibleOperation(child, ref, 1).Execute(ctx)

	parentTS := ctx.Graph.GetOrCreate(parent)
	item, ok := parentTS.Get(storage.ItemKey{Kind: storage.KindAggregatedCollectible, Sub: storage.CollectibleKey(ref)})
	require.True(t, ok)
	require.Equal(t, int32(1), item.AggregatedCollect)

	childTS := ctx.Graph.GetOrCreate(child)
	collectibleKey := storage.ItemKey{Kind: storage.KindCollectible, Sub: storage.CollectibleKey(ref)}
	citem, _ := childTS.Remove(collectibleKey)
	childTS.Add(storage.ItemKey{Kind: storage.KindOutdatedCollectible, Sub: storage.CollectibleKey(ref)}, storage.CachedDataItem{Collectible: citem.Collectible})

	NewCleanupOldEdgesOperation(child).Execute(ctx)

	item, ok = parentTS.Get(storage.ItemKey{Kind: storage.KindAggregatedCollectible, Sub: storage.CollectibleKey(ref)})
	require.True(t, ok)
	assert.Equal(t, int32(0), item.AggregatedCollect)
}

func TestCleanupOldEdgesOperation_MarshalRoundTrip(t *testing.T) {
	op := NewCleanupOldEdgesOperation(taskgraph.TaskId(4))
	op.state = cleanupAggregationUpdate
	op.swept = true

	data, err := op.MarshalBinary()
	require.NoError(t, err)

	restored := &CleanupOldEdgesOperation{}
	require.NoError(t, restored.UnmarshalBinary(data))

	assert.Equal(t, op.state, restored.state)
	assert.Equal(t, op.taskID, restored.taskID)
	assert.Equal(t, op.swept, restored.swept)
	assert.NotNil(t, restored.queue)
}

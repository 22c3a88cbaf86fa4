package aggregation

import (
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/alg/mapx"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// AggregatedDataUpdate is a signed delta propagated one step upward along
// Upper edges by a JobDataUpdate (spec.md §4.2 "DataUpdate{task,
// AggregatedDataUpdate} — a delta to be propagated upward"). Zero values
// merge to a no-op, which lets Apply skip scheduling further propagation
// once a delta has been fully absorbed.
type AggregatedDataUpdate struct {
	DirtyContainerCountBySession map[taskgraph.SessionId]int32
	CollectibleCountDelta        map[taskgraph.CollectibleRef]int32
	ActiveDelta                  int32
}

// DirtyTask returns the delta produced by task t transitioning from clean
// to dirty in session s (spec.md §4.2 "Dirty propagation").
func DirtyTask(t taskgraph.TaskId, s taskgraph.SessionId) AggregatedDataUpdate {
	_ = t

	return AggregatedDataUpdate{
		DirtyContainerCountBySession: map[taskgraph.SessionId]int32{s: 1},
	}
}

// CleanTask returns the inverse delta, for a task transitioning back to
// clean.
func CleanTask(s taskgraph.SessionId) AggregatedDataUpdate {
	return AggregatedDataUpdate{
		DirtyContainerCountBySession: map[taskgraph.SessionId]int32{s: -1},
	}
}

// IsZero reports whether the delta has nothing left to propagate.
func (u AggregatedDataUpdate) IsZero() bool {
	if u.ActiveDelta != 0 {
		return false
	}

	for _, v := range u.DirtyContainerCountBySession {
		if v != 0 {
			return false
		}
	}

	for _, v := range u.CollectibleCountDelta {
		if v != 0 {
			return false
		}
	}

	return true
}

// Apply adds u's per-session dirty counts to task's
// AggregatedDirtyContainerCount item and its per-collectible deltas to
// task's AggregatedCollectible items, returning the delta to propagate to
// task's own Upper edges. For any non-zero u that is u itself, unchanged.
// ActiveDelta is not stored. Applying the same update twice counts it
// twice.
func Apply(ts *storage.TaskStorage, u AggregatedDataUpdate) AggregatedDataUpdate {
	if u.IsZero() {
		return AggregatedDataUpdate{}
	}

	dirtyKey := storage.ItemKey{Kind: storage.KindAggregatedDirtyContainerCount}
	item, _ := ts.Get(dirtyKey)

	if item.AggregatedDirty == nil {
		item.AggregatedDirty = map[taskgraph.SessionId]int32{}
	}

	mapx.MergeAdditive(item.AggregatedDirty, u.DirtyContainerCountBySession)
	pruneZero(item.AggregatedDirty)
	ts.Insert(dirtyKey, item)

	if len(u.CollectibleCountDelta) > 0 {
		for ref, delta := range u.CollectibleCountDelta {
			key := storage.ItemKey{Kind: storage.KindAggregatedCollectible, Sub: storage.CollectibleKey(ref)}
			citem, _ := ts.Get(key)
			citem.AggregatedCollect += delta
			ts.Insert(key, citem)
		}
	}

	return u
}

// pruneZero drops session entries whose count has returned to zero so the
// map does not grow unboundedly across long-lived sessions.
func pruneZero(m map[taskgraph.SessionId]int32) {
	for k, v := range m {
		if v == 0 {
			delete(m, k)
		}
	}
}

// AggregatedDirtyCount reports how many descendants of task are currently
// dirty, summed across all sessions — the quantity the "Aggregation sum"
// test property (spec.md §8) checks against a brute-force count.
func AggregatedDirtyCount(ts *storage.TaskStorage) int32 {
	item, ok := ts.Get(storage.ItemKey{Kind: storage.KindAggregatedDirtyContainerCount})
	if !ok {
		return 0
	}

	var total int32
	for _, v := range item.AggregatedDirty {
		total += v
	}

	return total
}

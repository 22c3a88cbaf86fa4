package aggregation

import (
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// AddUpper records that upper is an aggregator above task, returning true
// if the edge was newly created (spec.md §4.2 "Upper edges (inner children
// of a higher-level aggregator)").
func AddUpper(ts *storage.TaskStorage, upper taskgraph.TaskId) bool {
	key := storage.ItemKey{Kind: storage.KindUpper, Sub: storage.TaskKey(upper)}

	return ts.Add(key, storage.CachedDataItem{})
}

// RemoveUpper removes an Upper edge, reporting whether one existed.
func RemoveUpper(ts *storage.TaskStorage, upper taskgraph.TaskId) bool {
	_, existed := ts.Remove(storage.ItemKey{Kind: storage.KindUpper, Sub: storage.TaskKey(upper)})

	return existed
}

// Uppers iterates every Upper edge of a task.
func Uppers(ts *storage.TaskStorage, fn func(upper taskgraph.TaskId)) {
	ts.Iter(storage.KindUpper, func(key storage.ItemKey, _ storage.CachedDataItem) bool {
		fn(storage.ParseTaskKey(key.Sub))

		return true
	})
}

// CountUppers returns the number of Upper edges a task carries.
func CountUppers(ts *storage.TaskStorage) int {
	return ts.Count(storage.KindUpper)
}

// AddFollower records that follower is rolled up directly into task as a
// leaf (spec.md §4.2 "Follower edges (leaf → outer)"), returning true if
// newly created.
func AddFollower(ts *storage.TaskStorage, follower taskgraph.TaskId) bool {
	key := storage.ItemKey{Kind: storage.KindFollower, Sub: storage.TaskKey(follower)}

	return ts.Add(key, storage.CachedDataItem{})
}

// RemoveFollower removes a Follower edge, reporting whether one existed.
func RemoveFollower(ts *storage.TaskStorage, follower taskgraph.TaskId) bool {
	_, existed := ts.Remove(storage.ItemKey{Kind: storage.KindFollower, Sub: storage.TaskKey(follower)})

	return existed
}

// Followers iterates every Follower edge of a task.
func Followers(ts *storage.TaskStorage, fn func(follower taskgraph.TaskId)) {
	ts.Iter(storage.KindFollower, func(key storage.ItemKey, _ storage.CachedDataItem) bool {
		fn(storage.ParseTaskKey(key.Sub))

		return true
	})
}

// CountFollowers returns the number of Follower edges a task carries.
func CountFollowers(ts *storage.TaskStorage) int {
	return ts.Count(storage.KindFollower)
}

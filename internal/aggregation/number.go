// Package aggregation implements the dynamic overlay on the task DAG that
// lets the backend propagate aggregated facts (dirty-container counts,
// collectible counts, active state) in O(log N) instead of walking every
// upstream task on each invalidation (spec.md §4.2, §7 "Aggregation tree
// instead of eager propagation").
package aggregation

import (
	"github.com/codefang-labs/taskgraph/internal/storage"
)

// Number is the convenience view over storage.AggregationNumberItem used by
// the update queue; the authoritative copy lives in the task's storage
// under KindAggregationNumber.
type Number = storage.AggregationNumberItem

// RootEffective re-exports the root sentinel so callers outside this
// package never need to import storage just to compare against it.
const RootEffective = storage.RootEffective

// IsRoot reports whether n places its owning task at the root of the tree.
func IsRoot(n Number) bool {
	return n.Effective == RootEffective
}

// Effective computes the new effective number for a task given its own
// base/distance and the maximum effective number among its Upper edges,
// per spec.md §4.2: "raises effective to max(base, max_upper_effective +
// distance)".
func Effective(base, distance, maxUpperEffective uint32) uint32 {
	if maxUpperEffective == RootEffective {
		return RootEffective
	}

	raised := maxUpperEffective + distance
	if raised < maxUpperEffective {
		// Overflow saturates at root rather than wrapping, mirroring the
		// original's saturating_add before the MAX-sentinel comparison.
		return RootEffective
	}

	if raised > base {
		return raised
	}

	return base
}

// aggregationKey is the fixed ItemKey every task's AggregationNumber item
// is stored under; there is at most one per task (spec.md §3 invariant 1).
var aggregationKey = storage.ItemKey{Kind: storage.KindAggregationNumber}

// rootKey is the fixed ItemKey a task's RootState, if any, is stored under.
var rootKey = storage.ItemKey{Kind: storage.KindAggregateRoot}

// GetNumber reads a task's current aggregation number, defaulting to the
// zero number (base 0, not yet a root) if it has never been positioned.
func GetNumber(ts *storage.TaskStorage) Number {
	item, ok := ts.Get(aggregationKey)
	if !ok {
		return Number{}
	}

	return item.AggregationNumber
}

// SetNumber writes a task's aggregation number, reporting whether it
// actually changed (used by the queue to decide whether to propagate
// further).
func SetNumber(ts *storage.TaskStorage, n Number) bool {
	old, existed := ts.Get(aggregationKey)
	if existed && old.AggregationNumber == n {
		return false
	}

	item := old
	item.AggregationNumber = n
	ts.Insert(aggregationKey, item)

	return true
}

// HasNumber reports whether a task has ever been positioned in the
// aggregation tree (carries an AggregationNumber item at all), as opposed
// to GetNumber's zero-value default for tasks that have not.
func HasNumber(ts *storage.TaskStorage) bool {
	return ts.HasKey(aggregationKey)
}

// IsRootTask reports whether the task currently carries RootState.
func IsRootTask(ts *storage.TaskStorage) bool {
	return ts.HasKey(rootKey)
}

// EnsureRoot installs RootState with a fresh all-clean event id if the task
// is not already a root, returning the (possibly pre-existing) event id.
func EnsureRoot(ts *storage.TaskStorage, newEventID func() uint64) uint64 {
	if item, ok := ts.Get(rootKey); ok {
		return item.AggregateRoot.AllCleanEventID
	}

	id := newEventID()
	item, _ := ts.Get(rootKey)
	item.AggregateRoot = storage.RootState{AllCleanEventID: id}
	ts.Insert(rootKey, item)

	return id
}

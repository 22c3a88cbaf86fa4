// Package storage implements the per-task item container described in
// spec.md §3/§4.1: a heterogeneous set of CachedDataItem values keyed by a
// closed ItemKind enumeration, with a secondary index over the kinds that
// fan out (children, dependencies, dependents, collectibles) so large edge
// sets can be scanned without touching the rest of a task's items.
package storage

import "github.com/codefang-labs/taskgraph/pkg/taskgraph"

// Category partitions a task's items the way the original's ExecuteContext
// does: Meta items (aggregation bookkeeping, dirty/in-progress markers) are
// usually small and hot; Data items (outputs, cell contents, dependency
// edges) are usually larger and cold. Snapshot logs are sharded per
// category so a burst of aggregation churn does not starve output writes.
type Category uint8

const (
	CategoryMeta Category = iota
	CategoryData
)

// ItemKind is the closed enumeration of item shapes a task's storage may
// hold. Per spec.md §9 "No inheritance": this is intentionally a closed
// sum, not an open/extensible registry, so the on-disk format stays simple.
type ItemKind uint8

const (
	KindOutput ItemKind = iota
	KindError
	KindCellData
	KindCellTypeMaxIndex
	KindChild
	KindOutdatedChild
	KindOutputDependency
	KindCellDependency
	KindCollectiblesDependency
	KindOutputDependent
	KindCellDependent
	KindCollectiblesDependent
	KindOutdatedOutputDependency
	KindOutdatedCellDependency
	KindOutdatedCollectiblesDependency
	KindOutdatedCollectible
	KindDirty
	KindAggregationNumber
	KindUpper
	KindFollower
	KindAggregatedDirtyContainerCount
	KindAggregatedCollectible
	KindCollectible
	KindAggregateRoot
	KindInProgress
	KindInProgressCell
)

// Category reports which log a mutation to an item of this kind belongs to.
// Aggregation/scheduling bookkeeping is Meta; everything that represents
// task-visible data or the edges between tasks is Data.
func (k ItemKind) Category() Category {
	switch k {
	case KindChild, KindOutdatedChild,
		KindDirty, KindAggregationNumber, KindUpper, KindFollower,
		KindAggregatedDirtyContainerCount, KindAggregatedCollectible,
		KindCollectible, KindOutdatedCollectible, KindAggregateRoot, KindInProgress:
		return CategoryMeta
	default:
		return CategoryData
	}
}

// Indexed reports whether items of this kind participate in the secondary
// fan-out index (spec.md §4.1).
func (k ItemKind) Indexed() bool {
	switch k {
	case KindChild, KindOutdatedChild,
		KindOutputDependency, KindCellDependency, KindCollectiblesDependency,
		KindOutputDependent, KindCellDependent, KindCollectiblesDependent,
		KindOutdatedOutputDependency, KindOutdatedCellDependency, KindOutdatedCollectiblesDependency,
		KindCollectible, KindAggregatedCollectible, KindOutdatedCollectible:
		return true
	default:
		return false
	}
}

// ItemKey uniquely addresses one item within a task's storage. Most kinds
// have a single slot (the zero Sub value); fan-out kinds are distinguished
// by Sub (the other task id, the cell, or the collectible reference,
// pre-encoded to a comparable string by the caller).
type ItemKey struct {
	Kind ItemKind
	Sub  string
}

// DirtyState records whether a task needs recomputation, and if so whether
// that need is scoped to the current session only (spec.md §3).
type DirtyState struct {
	CleanInSession *taskgraph.SessionId
}

// InProgressStateKind discriminates the two InProgress shapes.
type InProgressStateKind uint8

const (
	InProgressScheduled InProgressStateKind = iota
	InProgressRunning
)

// InProgressState is the Meta item recording that a task is queued or
// currently executing.
type InProgressState struct {
	Kind InProgressStateKind

	// Scheduled: DoneEvent fires when the task completes.
	// Running: Stale is set by any invalidation that arrives mid-execution;
	// SessionDependent mirrors MarkOwnTaskAsSessionDependent.
	DoneEventID      uint64
	Stale            bool
	OnceTaskID       *taskgraph.TaskId
	SessionDependent bool
}

// InProgressCellState tracks a reader blocked on a cell that has not been
// computed yet.
type InProgressCellState struct {
	EventID uint64
}

// RootState marks a task as an aggregation root whose descendants' dirty
// count is being watched.
type RootState struct {
	AllCleanEventID uint64
}

// CachedDataItem is the value half of one (ItemKey, CachedDataItem) pair in
// a TaskStorage. Exactly one field group is meaningful, selected by the key
// it is stored under — this mirrors the original's per-kind enum variant,
// re-expressed in Go as a flat struct to avoid an interface-per-item
// allocation on the hot insert/remove path.
type CachedDataItem struct {
	Output              taskgraph.OutputValue
	Error               *taskgraph.SharedError
	CellData            []byte
	CellTypeMaxIndex    uint32
	Dirty               DirtyState
	AggregationNumber   AggregationNumberItem
	AggregatedDirty     map[taskgraph.SessionId]int32
	AggregatedCollect   int32
	Collectible         int32
	AggregateRoot       RootState
	InProgress          InProgressState
	InProgressCell      InProgressCellState
	OutdatedEdgePresent bool
}

// AggregationNumberItem is the Meta item positioning a task in the
// aggregation tree. It is declared here (rather than in package
// aggregation) to avoid an import cycle: storage is a leaf package that
// aggregation, operation, and backend all depend on.
type AggregationNumberItem struct {
	Base      uint32
	Distance  uint32
	Effective uint32
}

// RootEffective marks a task as a root node of the aggregation tree
// (spec.md §4.2: "a task is a root node when effective == u32::MAX").
const RootEffective = ^uint32(0)

// IsRoot reports whether this aggregation number places its task at the
// root of the tree.
func (a AggregationNumberItem) IsRoot() bool {
	return a.Effective == RootEffective
}

package backend

import (
	"github.com/codefang-labs/taskgraph/internal/operation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// ReadTaskCollectibles sums task's AggregatedCollectible entries of
// traitTypeID, which already include task's own emits as well as those
// propagated up from its descendants, recording a CollectiblesDependency
// from reader so a later Emit/Unemit anywhere in the subtree can find its
// way back here.
func (b *Backend) ReadTaskCollectibles(task taskgraph.TaskId, traitTypeID uint32, reader taskgraph.TaskId) map[taskgraph.CollectibleRef]int32 {
	h := b.task(task)

	result := map[taskgraph.CollectibleRef]int32{}

	h.Iter(storage.KindAggregatedCollectible, func(key storage.ItemKey, value storage.CachedDataItem) bool {
		if ref := storage.ParseCollectibleKey(key.Sub); ref.TraitTypeID == traitTypeID {
			result[ref] += value.AggregatedCollect
		}

		return true
	})

	h.Close()

	for ref, count := range result {
		if count == 0 {
			delete(result, ref)
		}
	}

	b.recordCollectiblesDependency(reader, task, traitTypeID)

	return result
}

// EmitCollectible records that task produced one instance of ref.
func (b *Backend) EmitCollectible(task taskgraph.TaskId, ref taskgraph.CollectibleRef) {
	b.runOperation(operation.NewUpdateCollectibleOperation(task, ref, 1))
}

// UnemitCollectible retracts one instance of ref previously emitted by task.
func (b *Backend) UnemitCollectible(task taskgraph.TaskId, ref taskgraph.CollectibleRef) {
	b.runOperation(operation.NewUpdateCollectibleOperation(task, ref, -1))
}

// UpdateTaskCell replaces cell's content for task.
func (b *Backend) UpdateTaskCell(task taskgraph.TaskId, cell taskgraph.CellId, content []byte) {
	b.runOperation(operation.NewUpdateCellOperation(task, cell, content, true))
}

// recordCollectiblesDependency records the symmetric
// CollectiblesDependency/CollectiblesDependent edge pair, scoped to
// (task, traitTypeID) rather than one specific CollectibleRef: a reader of
// "every collectible of this trait under task" must be invalidated by any
// Emit/Unemit of that trait anywhere in the subtree, not just a value it
// has already seen.
//
// Note: unlike UpdateOutputOperation/UpdateCellOperation, this backend does
// not itself consult CollectiblesDependent to eagerly dirty readers on
// Emit/Unemit — that invalidation path was never exercised by the operation
// this was grounded on (update_collectible.go only ever propagates the
// aggregated count, never walks CollectiblesDependent) and is left as a gap
// rather than invented from nothing.
func (b *Backend) recordCollectiblesDependency(reader, task taskgraph.TaskId, traitTypeID uint32) {
	rh := b.task(reader)
	rh.Add(storage.ItemKey{Kind: storage.KindCollectiblesDependency, Sub: storage.TraitKey(task, traitTypeID)}, storage.CachedDataItem{})
	rh.Close()

	th := b.task(task)
	th.Add(storage.ItemKey{Kind: storage.KindCollectiblesDependent, Sub: storage.TraitKey(reader, traitTypeID)}, storage.CachedDataItem{})
	th.Close()
}

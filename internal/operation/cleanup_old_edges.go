package operation

import (
	"bytes"
	"encoding/gob"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// outdatedKinds lists the Outdated* shadow kinds CleanupOldEdgesOperation
// sweeps through this list, mirroring mod.rs's OutdatedEdge enum
// (OutdatedChild, OutdatedOutputDependency, OutdatedCellDependency,
// OutdatedCollectiblesDependency). OutdatedCollectible is swept separately
// in sweep, because removing it also pushes an inverse collectible delta.
var outdatedKinds = []storage.ItemKind{
	storage.KindOutdatedChild,
	storage.KindOutdatedOutputDependency,
	storage.KindOutdatedCellDependency,
	storage.KindOutdatedCollectiblesDependency,
}

type cleanupOldEdgesState uint8

const (
	cleanupSweep cleanupOldEdgesState = iota
	cleanupAggregationUpdate
	cleanupDone
)

// CleanupOldEdgesOperation removes the Outdated* shadow edges a task's
// re-execution left behind (spec.md §4.3 "Re-execution protocol": edges
// re-established during execution are removed from the shadow set; the
// survivors are passed here). For each removed child it also removes the
// Upper/Follower pair between the task and that child, and for each removed
// OutdatedCollectible it pushes the inverse collectible delta. Aggregated
// dirty counts that a removed child contributed are not subtracted.
type CleanupOldEdgesOperation struct {
	state  cleanupOldEdgesState
	taskID taskgraph.TaskId
	queue  *aggregation.UpdateQueue
	swept  bool
}

// NewCleanupOldEdgesOperation prepares a sweep of task's surviving shadow
// edges.
func NewCleanupOldEdgesOperation(taskID taskgraph.TaskId) *CleanupOldEdgesOperation {
	return &CleanupOldEdgesOperation{taskID: taskID, queue: aggregation.NewUpdateQueue()}
}

// Execute runs CleanupOldEdgesOperation to completion.
func (op *CleanupOldEdgesOperation) Execute(ctx *ExecuteContext) {
	if op.queue == nil {
		op.queue = aggregation.NewUpdateQueue()
	}

	for {
		ctx.SuspendPoint(op)

		switch op.state {
		case cleanupSweep:
			if !op.swept {
				op.sweep(ctx)
				op.swept = true
			}

			op.state = cleanupAggregationUpdate
		case cleanupAggregationUpdate:
			if ctx.ProcessAggregationQueue(op.queue) {
				op.state = cleanupDone
			}
		case cleanupDone:
			return
		}
	}
}

func (op *CleanupOldEdgesOperation) sweep(ctx *ExecuteContext) {
	task := ctx.Task(op.taskID)

	var removedChildren []taskgraph.TaskId

	for _, kind := range outdatedKinds {
		var keys []storage.ItemKey

		task.Iter(kind, func(key storage.ItemKey, _ storage.CachedDataItem) bool {
			keys = append(keys, key)

			return true
		})

		for _, key := range keys {
			task.Remove(key)

			if kind == storage.KindOutdatedChild {
				removedChildren = append(removedChildren, storage.ParseTaskKey(key.Sub))
			}
		}
	}

	var removedCollectibles []struct {
		ref   taskgraph.CollectibleRef
		value int32
	}

	var collectibleKeys []storage.ItemKey

	task.Iter(storage.KindOutdatedCollectible, func(key storage.ItemKey, value storage.CachedDataItem) bool {
		collectibleKeys = append(collectibleKeys, key)

		removedCollectibles = append(removedCollectibles, struct {
			ref   taskgraph.CollectibleRef
			value int32
		}{ref: storage.ParseCollectibleKey(key.Sub), value: value.Collectible})

		return true
	})

	for _, key := range collectibleKeys {
		task.Remove(key)
	}

	task.Close()

	for _, child := range removedChildren {
		childTask := ctx.Task(child)
		aggregation.RemoveUpper(childTask.Storage(), op.taskID)
		childTask.Close()

		upperTask := ctx.Task(op.taskID)
		aggregation.RemoveFollower(upperTask.Storage(), child)
		upperTask.Close()
	}

	for _, c := range removedCollectibles {
		op.queue.Push(aggregation.JobDataUpdate{
			Task:   op.taskID,
			Update: aggregation.AggregatedDataUpdate{CollectibleCountDelta: map[taskgraph.CollectibleRef]int32{c.ref: -c.value}},
		})
	}
}

func (op *CleanupOldEdgesOperation) Kind() string { return "CleanupOldEdges" }

type cleanupOldEdgesWire struct {
	State  cleanupOldEdgesState
	TaskID taskgraph.TaskId
	Swept  bool
}

func (op *CleanupOldEdgesOperation) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	wire := cleanupOldEdgesWire{State: op.state, TaskID: op.taskID, Swept: op.swept}
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (op *CleanupOldEdgesOperation) UnmarshalBinary(data []byte) error {
	var wire cleanupOldEdgesWire

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}

	op.state = wire.State
	op.taskID = wire.TaskID
	op.swept = wire.Swept
	op.queue = aggregation.NewUpdateQueue()

	return nil
}

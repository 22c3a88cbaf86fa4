package operation

import (
	"bytes"
	"encoding/gob"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// updateCollectibleState mirrors the shape of the other queue-driven
// operations; this one has a single real step (ApplyDelta) since emitting
// or unemitting a collectible is a single-item mutation, grounded on
// mod.rs's direct Collectible/AggregatedCollectible item manipulation
// (read_task_collectibles, emit_collectible) rather than a dedicated
// multi-step operation in the original.
type updateCollectibleState uint8

const (
	updateCollectibleApplyDelta updateCollectibleState = iota
	updateCollectibleAggregationUpdate
	updateCollectibleDone
)

// UpdateCollectibleOperation adjusts a task's own Collectible count for a
// CollectibleRef by delta (+1 on EmitCollectible, -1 on UnemitCollectible
// per spec.md §6.1) and propagates the aggregated count change upward.
type UpdateCollectibleOperation struct {
	state  updateCollectibleState
	taskID taskgraph.TaskId
	ref    taskgraph.CollectibleRef
	delta  int32
	queue  *aggregation.UpdateQueue
}

// NewUpdateCollectibleOperation prepares a +1/-1 collectible adjustment.
func NewUpdateCollectibleOperation(taskID taskgraph.TaskId, ref taskgraph.CollectibleRef, delta int32) *UpdateCollectibleOperation {
	return &UpdateCollectibleOperation{taskID: taskID, ref: ref, delta: delta, queue: aggregation.NewUpdateQueue()}
}

// Execute runs UpdateCollectibleOperation to completion.
func (op *UpdateCollectibleOperation) Execute(ctx *ExecuteContext) {
	if op.queue == nil {
		op.queue = aggregation.NewUpdateQueue()
	}

	for {
		ctx.SuspendPoint(op)

		switch op.state {
		case updateCollectibleApplyDelta:
			op.applyDelta(ctx)
			op.state = updateCollectibleAggregationUpdate
		case updateCollectibleAggregationUpdate:
			if ctx.ProcessAggregationQueue(op.queue) {
				op.state = updateCollectibleDone
			}
		case updateCollectibleDone:
			return
		}
	}
}

func (op *UpdateCollectibleOperation) applyDelta(ctx *ExecuteContext) {
	task := ctx.Task(op.taskID)

	key := storage.ItemKey{Kind: storage.KindCollectible, Sub: storage.CollectibleKey(op.ref)}
	item, _ := task.Get(key)
	item.Collectible += op.delta

	if item.Collectible == 0 {
		task.Remove(key)
	} else {
		task.Insert(key, item)
	}

	task.Close()

	op.queue.Push(aggregation.JobDataUpdate{
		Task:   op.taskID,
		Update: aggregation.AggregatedDataUpdate{CollectibleCountDelta: map[taskgraph.CollectibleRef]int32{op.ref: op.delta}},
	})
}

func (op *UpdateCollectibleOperation) Kind() string { return "UpdateCollectible" }

type updateCollectibleWire struct {
	State  updateCollectibleState
	TaskID taskgraph.TaskId
	Ref    taskgraph.CollectibleRef
	Delta  int32
}

func (op *UpdateCollectibleOperation) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	wire := updateCollectibleWire{State: op.state, TaskID: op.taskID, Ref: op.ref, Delta: op.delta}
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (op *UpdateCollectibleOperation) UnmarshalBinary(data []byte) error {
	var wire updateCollectibleWire

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}

	op.state = wire.State
	op.taskID = wire.TaskID
	op.ref = wire.Ref
	op.delta = wire.Delta
	op.queue = aggregation.NewUpdateQueue()

	return nil
}

package operation

import (
	"bytes"
	"encoding/gob"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// invalidateState mirrors the original's InvalidateOperation enum
// (MakeDirty / AggregationUpdate / Done).
type invalidateState uint8

const (
	invalidateMakeDirty invalidateState = iota
	invalidateAggregationUpdate
	invalidateDone
)

// InvalidateOperation marks a set of tasks dirty and propagates the
// resulting aggregated deltas (spec.md §4.3 table,
// "InvalidateOperation(task_ids)").
type InvalidateOperation struct {
	state   invalidateState
	taskIDs []taskgraph.TaskId
	queue   *aggregation.UpdateQueue
}

// NewInvalidateOperation prepares an invalidation of the given tasks.
func NewInvalidateOperation(taskIDs []taskgraph.TaskId) *InvalidateOperation {
	return &InvalidateOperation{state: invalidateMakeDirty, taskIDs: taskIDs, queue: aggregation.NewUpdateQueue()}
}

// Execute runs InvalidateOperation to completion.
func (op *InvalidateOperation) Execute(ctx *ExecuteContext) {
	if op.queue == nil {
		op.queue = aggregation.NewUpdateQueue()
	}

	for {
		ctx.SuspendPoint(op)

		switch op.state {
		case invalidateMakeDirty:
			for _, id := range op.taskIDs {
				MakeTaskDirty(ctx, id, op.queue)
			}

			op.taskIDs = nil

			if op.queue.IsEmpty() {
				op.state = invalidateDone
			} else {
				op.state = invalidateAggregationUpdate
			}
		case invalidateAggregationUpdate:
			if ctx.ProcessAggregationQueue(op.queue) {
				op.state = invalidateDone
			}
		case invalidateDone:
			return
		}
	}
}

// MakeTaskDirty installs the Dirty marker on id if absent and pushes the
// resulting DataUpdate job onto queue (spec.md §4.2 "Dirty propagation"),
// grounded on the original's free function `make_task_dirty`.
func MakeTaskDirty(ctx *ExecuteContext, id taskgraph.TaskId, queue *aggregation.UpdateQueue) {
	task := ctx.Task(id)
	added := task.Add(storage.ItemKey{Kind: storage.KindDirty}, storage.CachedDataItem{
		Dirty: storage.DirtyState{},
	})
	task.Close()

	if added {
		queue.Push(aggregation.JobDataUpdate{Task: id, Update: aggregation.DirtyTask(id, ctx.Session)})
	}
}

func (op *InvalidateOperation) Kind() string { return "Invalidate" }

type invalidateWire struct {
	State   invalidateState
	TaskIDs []taskgraph.TaskId
}

func (op *InvalidateOperation) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	err := gob.NewEncoder(&buf).Encode(invalidateWire{State: op.state, TaskIDs: op.taskIDs})
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (op *InvalidateOperation) UnmarshalBinary(data []byte) error {
	var wire invalidateWire

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}

	op.state = wire.State
	op.taskIDs = wire.TaskIDs
	op.queue = aggregation.NewUpdateQueue()

	return nil
}

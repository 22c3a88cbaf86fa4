package operation

import (
	"bytes"
	"encoding/gob"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// connectChildState is the tagged-variant state of ConnectChildOperation,
// grounded on the original's ConnectChildOperation enum
// (UpdateAggregation / ScheduleTask / Done).
type connectChildState uint8

const (
	connectChildUpdateAggregation connectChildState = iota
	connectChildScheduleTask
	connectChildDone
)

// ConnectChildOperation records a parent→child Child edge, integrates the
// child into the aggregation tree, and schedules it if newly connected
// (spec.md §4.3 table, "ConnectChildOperation(parent, child)").
type ConnectChildOperation struct {
	state  connectChildState
	taskID taskgraph.TaskId
	parent taskgraph.TaskId
	child  taskgraph.TaskId
	queue  *aggregation.UpdateQueue
}

// NewConnectChildOperation prepares the operation; call Execute to run it.
func NewConnectChildOperation(parent, child taskgraph.TaskId) *ConnectChildOperation {
	return &ConnectChildOperation{parent: parent, child: child, state: connectChildUpdateAggregation, taskID: child, queue: aggregation.NewUpdateQueue()}
}

// Execute runs ConnectChildOperation to completion.
func (op *ConnectChildOperation) Execute(ctx *ExecuteContext) {
	if op.queue == nil {
		op.queue = aggregation.NewUpdateQueue()
	}

	if op.state == connectChildUpdateAggregation && op.queue.IsEmpty() {
		op.seed(ctx)
	}

	for {
		ctx.SuspendPoint(op)

		switch op.state {
		case connectChildUpdateAggregation:
			if ctx.ProcessAggregationQueue(op.queue) {
				op.state = connectChildScheduleTask
			}
		case connectChildScheduleTask:
			task := ctx.Task(op.taskID)
			task.Add(storage.ItemKey{Kind: storage.KindInProgress}, storage.CachedDataItem{
				InProgress: storage.InProgressState{Kind: storage.InProgressScheduled},
			})
			task.Close()

			if ctx.Schedule != nil {
				ctx.Schedule(op.taskID)
			}

			op.state = connectChildDone
		case connectChildDone:
			return
		}
	}
}

// seed records the Child edge and, if newly added, seeds the aggregation
// queue the way the original's `run` constructor does before the first
// suspend point.
func (op *ConnectChildOperation) seed(ctx *ExecuteContext) {
	parent := ctx.Task(op.parent)
	added := parent.Add(storage.ItemKey{Kind: storage.KindChild, Sub: storage.TaskKey(op.child)}, storage.CachedDataItem{})

	if !added {
		parent.Close()
		op.state = connectChildDone

		return
	}

	var upperIDs []taskgraph.TaskId

	if aggregation.HasNumber(parent.Storage()) {
		upperIDs = []taskgraph.TaskId{op.parent}
	} else {
		aggregation.Uppers(parent.Storage(), func(u taskgraph.TaskId) {
			upperIDs = append(upperIDs, u)
		})
	}

	if len(upperIDs) == 0 {
		upperIDs = []taskgraph.TaskId{op.parent}
	}

	parent.Close()

	op.queue.Push(aggregation.JobInnerHasNewFollower{UpperIDs: upperIDs, NewFollower: op.child})
}

func (op *ConnectChildOperation) Kind() string { return "ConnectChild" }

type connectChildWire struct {
	State  connectChildState
	TaskID taskgraph.TaskId
	Parent taskgraph.TaskId
	Child  taskgraph.TaskId
}

func (op *ConnectChildOperation) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	err := gob.NewEncoder(&buf).Encode(connectChildWire{State: op.state, TaskID: op.taskID, Parent: op.parent, Child: op.child})
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (op *ConnectChildOperation) UnmarshalBinary(data []byte) error {
	var wire connectChildWire

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}

	op.state = wire.State
	op.taskID = wire.TaskID
	op.parent = wire.Parent
	op.child = wire.Child
	op.queue = aggregation.NewUpdateQueue()

	return nil
}

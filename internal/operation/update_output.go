package operation

import (
	"bytes"
	"encoding/gob"

	"github.com/codefang-labs/taskgraph/internal/aggregation"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// updateOutputState mirrors the original's UpdateOutputOperation enum
// (MakeDependentTasksDirty / EnsureUnfinishedChildrenDirty /
// AggregationUpdate / Done).
type updateOutputState uint8

const (
	updateOutputMakeDependentsDirty updateOutputState = iota
	updateOutputEnsureChildrenDirty
	updateOutputAggregationUpdate
	updateOutputDone
)

// UpdateOutputOperation installs a task's new Output (or Error/Panic),
// makes every dependent task and every still-running child dirty, and
// propagates the resulting aggregated deltas (spec.md §4.3 table,
// "UpdateOutputOperation(task, output)").
type UpdateOutputOperation struct {
	state          updateOutputState
	taskID         taskgraph.TaskId
	output         taskgraph.OutputValue
	sharedErr      *taskgraph.SharedError
	dependentTasks []taskgraph.TaskId
	children       []taskgraph.TaskId
	queue          *aggregation.UpdateQueue

	// changed is set by seed() when the output actually differs from what
	// was previously stored; if false Execute is a no-op past Done,
	// mirroring the original's early `return` on an unchanged output.
	changed bool
	seeded  bool
}

// NewUpdateOutputOperation prepares the operation. sharedErr is non-nil
// only when output.Kind is Error or Panic.
func NewUpdateOutputOperation(taskID taskgraph.TaskId, output taskgraph.OutputValue, sharedErr *taskgraph.SharedError) *UpdateOutputOperation {
	return &UpdateOutputOperation{taskID: taskID, output: output, sharedErr: sharedErr, queue: aggregation.NewUpdateQueue()}
}

// Execute runs UpdateOutputOperation to completion.
func (op *UpdateOutputOperation) Execute(ctx *ExecuteContext) {
	if op.queue == nil {
		op.queue = aggregation.NewUpdateQueue()
	}

	if !op.seeded {
		op.seed(ctx)
		op.seeded = true

		if !op.changed {
			op.state = updateOutputDone
		}
	}

	for {
		ctx.SuspendPoint(op)

		switch op.state {
		case updateOutputMakeDependentsDirty:
			if len(op.dependentTasks) > 0 {
				n := len(op.dependentTasks) - 1
				id := op.dependentTasks[n]
				op.dependentTasks = op.dependentTasks[:n]
				MakeTaskDirty(ctx, id, op.queue)
			}

			if len(op.dependentTasks) == 0 {
				op.state = updateOutputEnsureChildrenDirty
			}
		case updateOutputEnsureChildrenDirty:
			if len(op.children) > 0 {
				n := len(op.children) - 1
				id := op.children[n]
				op.children = op.children[:n]

				child := ctx.Task(id)
				hasOutput := child.HasKey(storage.ItemKey{Kind: storage.KindOutput})
				child.Close()

				if !hasOutput {
					MakeTaskDirty(ctx, id, op.queue)
				}
			}

			if len(op.children) == 0 {
				op.state = updateOutputAggregationUpdate
			}
		case updateOutputAggregationUpdate:
			if ctx.ProcessAggregationQueue(op.queue) {
				op.state = updateOutputDone
			}
		case updateOutputDone:
			return
		}
	}
}

// seed installs the new Output/Error item, reads the dependent/child edge
// sets, and marks the task itself dirty-then-clean (the original's
// `make_task_dirty_internal(..., false, ...)`, which records that the task
// just finished a session without leaving a stale Dirty marker behind).
func (op *UpdateOutputOperation) seed(ctx *ExecuteContext) {
	task := ctx.Task(op.taskID)

	if inProgress, ok := task.Get(storage.ItemKey{Kind: storage.KindInProgress}); ok &&
		inProgress.InProgress.Kind == storage.InProgressRunning && inProgress.InProgress.Stale {
		task.Close()

		return
	}

	task.Remove(storage.ItemKey{Kind: storage.KindError})

	current, hasCurrent := task.Get(storage.ItemKey{Kind: storage.KindOutput})
	if hasCurrent && current.Output.Equal(op.output) {
		task.Close()

		return
	}

	if op.sharedErr != nil {
		task.Insert(storage.ItemKey{Kind: storage.KindError}, storage.CachedDataItem{Error: op.sharedErr})
	}

	task.Insert(storage.ItemKey{Kind: storage.KindOutput}, storage.CachedDataItem{Output: op.output})

	task.Iter(storage.KindOutputDependent, func(key storage.ItemKey, _ storage.CachedDataItem) bool {
		op.dependentTasks = append(op.dependentTasks, storage.ParseTaskKey(key.Sub))

		return true
	})

	task.Iter(storage.KindChild, func(key storage.ItemKey, _ storage.CachedDataItem) bool {
		op.children = append(op.children, storage.ParseTaskKey(key.Sub))

		return true
	})

	_, wasDirty := task.Remove(storage.ItemKey{Kind: storage.KindDirty})
	task.Close()

	op.changed = true
	op.state = updateOutputMakeDependentsDirty

	if wasDirty {
		op.queue.Push(aggregation.JobDataUpdate{Task: op.taskID, Update: aggregation.CleanTask(ctx.Session)})
	}
}

func (op *UpdateOutputOperation) Kind() string { return "UpdateOutput" }

type updateOutputWire struct {
	State          updateOutputState
	TaskID         taskgraph.TaskId
	Output         taskgraph.OutputValue
	SharedErr      *taskgraph.SharedError
	DependentTasks []taskgraph.TaskId
	Children       []taskgraph.TaskId
	Changed        bool
	Seeded         bool
}

func (op *UpdateOutputOperation) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	wire := updateOutputWire{
		State: op.state, TaskID: op.taskID, Output: op.output, SharedErr: op.sharedErr,
		DependentTasks: op.dependentTasks, Children: op.children, Changed: op.changed, Seeded: op.seeded,
	}
	if err := gob.NewEncoder(&buf).Encode(wire); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (op *UpdateOutputOperation) UnmarshalBinary(data []byte) error {
	var wire updateOutputWire

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}

	op.state = wire.State
	op.taskID = wire.TaskID
	op.output = wire.Output
	op.sharedErr = wire.SharedErr
	op.dependentTasks = wire.DependentTasks
	op.children = wire.Children
	op.changed = wire.Changed
	op.seeded = wire.Seeded
	op.queue = aggregation.NewUpdateQueue()

	return nil
}

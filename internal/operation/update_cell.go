package operation

import (
	"github.com/codefang-labs/taskgraph/internal/event"
	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// UpdateCellOperation installs new content for one of a task's cells and
// invalidates every task that read the old value (spec.md §4.3 table,
// "UpdateCellOperation(task, cell, content)"). Unlike the other five
// operations it is not itself state-machine-shaped in the original: it
// runs to completion inline and, if anything needs invalidating, hands off
// to an InvalidateOperation (grounded on update_cell.rs's direct call to
// `InvalidateOperation::run` rather than a suspended self-transition).
type UpdateCellOperation struct {
	taskID  taskgraph.TaskId
	cell    taskgraph.CellId
	content []byte
	hasNew  bool

	done bool
}

// NewUpdateCellOperation prepares a cell write. hasNew distinguishes a
// real write from clearing a cell back to empty (CellContent(None) in the
// original).
func NewUpdateCellOperation(taskID taskgraph.TaskId, cell taskgraph.CellId, content []byte, hasNew bool) *UpdateCellOperation {
	return &UpdateCellOperation{taskID: taskID, cell: cell, content: content, hasNew: hasNew}
}

// Execute runs UpdateCellOperation to completion.
func (op *UpdateCellOperation) Execute(ctx *ExecuteContext) {
	if op.done {
		return
	}

	ctx.SuspendPoint(op)

	cellKey := storage.ItemKey{Kind: storage.KindCellData, Sub: storage.CellIDKey(op.cell)}

	task := ctx.Task(op.taskID)

	var hadOld bool

	if op.hasNew {
		_, hadOld = task.Insert(cellKey, storage.CachedDataItem{CellData: op.content})
	} else {
		_, hadOld = task.Remove(cellKey)
	}

	inProgressKey := storage.ItemKey{Kind: storage.KindInProgressCell, Sub: storage.CellIDKey(op.cell)}
	if waiter, ok := task.Remove(inProgressKey); ok {
		if ctx.Events != nil {
			if ev, ok := ctx.Events.Get(waiter.InProgressCell.EventID); ok {
				ev.Notify(event.NotifyAll)
			}
		}
	}

	recomputed := !hadOld && !task.HasKey(storage.ItemKey{Kind: storage.KindDirty})

	if recomputed {
		task.Close()
		op.done = true

		return
	}

	var dependents []taskgraph.TaskId

	task.Iter(storage.KindCellDependent, func(key storage.ItemKey, _ storage.CachedDataItem) bool {
		ref := storage.ParseCellKey(key.Sub)
		if ref.Cell == op.cell {
			dependents = append(dependents, ref.Task)
		}

		return true
	})

	task.Close()

	if len(dependents) > 0 {
		NewInvalidateOperation(dependents).Execute(ctx)
	}

	op.done = true
}

func (op *UpdateCellOperation) Kind() string { return "UpdateCell" }

func (op *UpdateCellOperation) MarshalBinary() ([]byte, error) {
	return nil, errNotSuspendable
}

func (op *UpdateCellOperation) UnmarshalBinary([]byte) error {
	return errNotSuspendable
}

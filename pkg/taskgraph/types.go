package taskgraph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// TaskTypeKind discriminates the three shapes a CachedTaskType can take.
type TaskTypeKind uint8

const (
	// TaskTypeNative is a direct call to a registered function.
	TaskTypeNative TaskTypeKind = iota
	// TaskTypeResolveNative resolves argument cell/task references before
	// dispatching to a native function.
	TaskTypeResolveNative
	// TaskTypeResolveTrait resolves a trait method call on a value.
	TaskTypeResolveTrait
)

// TaskType is the invocation identity the BiMap canonicalizes into a single
// TaskId: two invocations with an equal TaskType always share one task.
//
// Arg is the already-serialized argument tuple; the registry and argument
// codec that produce it are external collaborators (spec.md PURPOSE &
// SCOPE), not implemented here.
type TaskType struct {
	Kind     TaskTypeKind
	Function string
	This     *TaskId
	Arg      []byte
	Trait    string
	Method   string
}

// CacheKey returns a stable hash of all fields, used by the BiMap as the
// canonical lookup key. It is not meant to be human-readable.
func (t TaskType) CacheKey() string {
	h := sha256.New()
	h.Write([]byte{byte(t.Kind)})
	writeLenPrefixed(h, []byte(t.Function))
	writeLenPrefixed(h, []byte(t.Trait))
	writeLenPrefixed(h, []byte(t.Method))

	if t.This != nil {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(*t.This))
		h.Write([]byte{1})
		h.Write(buf[:])
	} else {
		h.Write([]byte{0})
	}

	writeLenPrefixed(h, t.Arg)

	return hex.EncodeToString(h.Sum(nil))
}

func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

// OutputKind discriminates the terminal shapes of a task's recorded result.
type OutputKind uint8

const (
	// OutputKindCell means the task's result is a reference to one of its
	// own (or a callee's) cells.
	OutputKindCell OutputKind = iota
	// OutputKindTask means the task's result is another task's output
	// (tail-call style delegation).
	OutputKindTask
	// OutputKindError means the task's body returned an error.
	OutputKindError
	// OutputKindPanic means the task's body panicked.
	OutputKindPanic
)

// SharedError is a cached, cloneable error payload: once produced it is
// handed to every reader without re-running the failing task.
type SharedError struct {
	Message string
	Chain   []string
}

func (e *SharedError) Error() string {
	return e.Message
}

// PanicInfo carries a recovered panic's message and stack trace.
type PanicInfo struct {
	Message string
	Stack   string
}

// OutputValue is the tagged union stored for a completed task: exactly one
// of Cell, Task, Err, Panic is meaningful, selected by Kind.
type OutputValue struct {
	Kind  OutputKind
	Cell  CellRef
	Task  TaskId
	Err   *SharedError
	Panic *PanicInfo
}

// Equal reports whether two OutputValues represent the same result, used by
// UpdateOutputOperation's stale-dedup short-circuit. Errors/panics are never
// considered equal to each other (a re-thrown error is still a new fact for
// dependents, since its message could differ).
func (o OutputValue) Equal(other OutputValue) bool {
	if o.Kind != other.Kind {
		return false
	}

	switch o.Kind {
	case OutputKindCell:
		return o.Cell == other.Cell
	case OutputKindTask:
		return o.Task == other.Task
	default:
		return false
	}
}

// Consistency selects how strongly a read path must observe quiescence
// before returning.
type Consistency uint8

const (
	// Eventual returns the task's current cached value (or schedules it if
	// absent), without waiting for descendants to settle.
	Eventual Consistency = iota
	// Strong waits until the task's entire aggregation subtree is clean.
	Strong
)

// TaskResult is what a completed task execution hands to
// UpdateOutputOperation: either a raw output value or a panic.
type TaskResult struct {
	Output OutputValue
	Panic  *PanicInfo
}

// ExecutionSpec describes a task ready to run: the embedding host is
// responsible for actually invoking Function on its thread pool.
type ExecutionSpec struct {
	Task TaskId
}

// TransientTaskTypeKind discriminates the two transient task shapes.
type TransientTaskTypeKind uint8

const (
	// TransientRoot re-executes on invalidation and is always considered
	// active (e.g. a long-lived UI root).
	TransientRoot TransientTaskTypeKind = iota
	// TransientOnce runs a single future to completion and never tracks
	// its own invalidation.
	TransientOnce
)

// TransientTaskType describes a transient task's entry point.
type TransientTaskType struct {
	Kind    TransientTaskTypeKind
	Factory string
}

package taskgraph

import "errors"

// ErrCellOutOfRange is the hard error raised when a reader asks for a cell
// index beyond CellTypeMaxIndex for that cell's type. Per spec.md §7 this is
// a caller bug, not a recoverable condition.
var ErrCellOutOfRange = errors.New("taskgraph: cell index out of range")

// ErrTransientFromPersistent is raised when a persistent task attempts to
// create or call a transient task. Persistent functions may only call other
// persistent functions (spec.md §4.5).
var ErrTransientFromPersistent = errors.New("taskgraph: persistent task may not create a transient task")

// ErrTransientIDsExhausted is returned when the 31-bit transient ID space
// for the current session is exhausted.
var ErrTransientIDsExhausted = errors.New("taskgraph: transient task id space exhausted for this session")

// ErrPersistentIDsExhausted is returned when the 31-bit persistent ID space
// has been fully allocated across the lifetime of the backing store.
var ErrPersistentIDsExhausted = errors.New("taskgraph: persistent task id space exhausted")

// ErrBackingStoreUnavailable wraps an error surfaced by a BackingStorage
// implementation during a snapshot attempt. The in-memory log is retained
// and another snapshot attempt is scheduled; data is never silently dropped.
var ErrBackingStoreUnavailable = errors.New("taskgraph: backing store unavailable")

// ErrTaskNotFound is returned by lookups against a TaskId that does not
// (or no longer) exists.
var ErrTaskNotFound = errors.New("taskgraph: task not found")

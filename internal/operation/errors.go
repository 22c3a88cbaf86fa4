package operation

import "errors"

// errNotSuspendable is returned by the operation that always runs to
// completion within a single Execute call and so has nothing meaningful
// to persist mid-flight (UpdateCellOperation in this port, grounded on an
// original that runs inline rather than as a tagged-variant state machine).
var errNotSuspendable = errors.New("operation: this operation type never suspends and cannot be serialized")

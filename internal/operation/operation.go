package operation

// Operation is a persistable state-machine value (spec.md §4.3). Execute
// runs it to completion against ctx, looping over SuspendPoint crossings;
// MarshalBinary/UnmarshalBinary let the snapshot coordinator persist a
// suspended operation into the pending-operations set and resume it after
// a crash (spec.md §6.2, property "Idempotent replay").
type Operation interface {
	// Execute runs the operation to its Done state.
	Execute(ctx *ExecuteContext)
	// Kind names the operation for the pending-operations log.
	Kind() string
	MarshalBinary() ([]byte, error)
	UnmarshalBinary([]byte) error
}

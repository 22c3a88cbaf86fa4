package operation

import "fmt"

// Decode reconstructs a suspended Operation from the Kind/Payload pair the
// snapshot coordinator persisted it under (spec.md §6.2 "uncompleted
// operations"). UpdateCellOperation never appears here: it marshals to
// errNotSuspendable, so the coordinator never persists one.
func Decode(kind string, payload []byte) (Operation, error) {
	var op Operation

	switch kind {
	case "ConnectChild":
		op = &ConnectChildOperation{}
	case "Invalidate":
		op = &InvalidateOperation{}
	case "UpdateOutput":
		op = &UpdateOutputOperation{}
	case "UpdateCollectible":
		op = &UpdateCollectibleOperation{}
	case "CleanupOldEdges":
		op = &CleanupOldEdgesOperation{}
	default:
		return nil, fmt.Errorf("operation: unknown suspended operation kind %q", kind)
	}

	if err := op.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("operation: decode %s: %w", kind, err)
	}

	return op, nil
}

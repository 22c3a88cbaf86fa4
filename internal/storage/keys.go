package storage

import (
	"strconv"
	"strings"

	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// TaskKey encodes a TaskId as an ItemKey.Sub component for edge kinds
// addressed by task alone (Child, OutdatedChild, OutputDependency,
// OutputDependent, Upper, Follower).
func TaskKey(id taskgraph.TaskId) string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTaskKey is the inverse of TaskKey. It panics on malformed input:
// edge keys in this codebase are always produced by TaskKey, so a parse
// failure indicates storage corruption rather than a recoverable case.
func ParseTaskKey(s string) taskgraph.TaskId {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		panic("storage: malformed task edge key: " + s)
	}

	return taskgraph.TaskId(v)
}

// CellKey encodes a CellRef as an ItemKey.Sub component for cell-addressed
// edge kinds (CellDependency, CellDependent).
func CellKey(ref taskgraph.CellRef) string {
	return strconv.FormatUint(uint64(ref.Task), 10) + ":" +
		strconv.FormatUint(uint64(ref.Cell.TypeID), 10) + ":" +
		strconv.FormatUint(uint64(ref.Cell.Index), 10)
}

// ParseCellKey is the inverse of CellKey.
func ParseCellKey(s string) taskgraph.CellRef {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		panic("storage: malformed cell edge key: " + s)
	}

	task, err1 := strconv.ParseUint(parts[0], 10, 32)
	typeID, err2 := strconv.ParseUint(parts[1], 10, 32)
	index, err3 := strconv.ParseUint(parts[2], 10, 32)

	if err1 != nil || err2 != nil || err3 != nil {
		panic("storage: malformed cell edge key: " + s)
	}

	return taskgraph.CellRef{
		Task: taskgraph.TaskId(task),
		Cell: taskgraph.CellId{TypeID: uint32(typeID), Index: uint32(index)},
	}
}

// CellIDKey encodes a bare CellId (no owning task) as an ItemKey.Sub
// component, for kinds that live inside the owning task's own storage
// (CellData, CellTypeMaxIndex's implicit type, InProgressCell).
func CellIDKey(c taskgraph.CellId) string {
	return strconv.FormatUint(uint64(c.TypeID), 10) + ":" + strconv.FormatUint(uint64(c.Index), 10)
}

// ParseCellIDKey is the inverse of CellIDKey.
func ParseCellIDKey(s string) taskgraph.CellId {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		panic("storage: malformed cell id key: " + s)
	}

	typeID, err1 := strconv.ParseUint(parts[0], 10, 32)
	index, err2 := strconv.ParseUint(parts[1], 10, 32)

	if err1 != nil || err2 != nil {
		panic("storage: malformed cell id key: " + s)
	}

	return taskgraph.CellId{TypeID: uint32(typeID), Index: uint32(index)}
}

// EncodeItemKey flattens an ItemKey to the []byte form the backing store's
// per-task item blob and the snapshot LogRecord wire shape use: one kind
// byte followed by the raw Sub string (spec.md §6.3 "per-task item blob").
func EncodeItemKey(key ItemKey) []byte {
	buf := make([]byte, 1+len(key.Sub))
	buf[0] = byte(key.Kind)
	copy(buf[1:], key.Sub)

	return buf
}

// DecodeItemKey is the inverse of EncodeItemKey. It panics on an empty
// buffer, which only a corrupt on-disk record could produce.
func DecodeItemKey(b []byte) ItemKey {
	if len(b) == 0 {
		panic("storage: empty encoded item key")
	}

	return ItemKey{Kind: ItemKind(b[0]), Sub: string(b[1:])}
}

// CellTypeKey encodes a bare cell-type id as an ItemKey.Sub component, for
// CellTypeMaxIndex's per-type high-water mark.
func CellTypeKey(typeID uint32) string {
	return strconv.FormatUint(uint64(typeID), 10)
}

// ParseCellTypeKey is the inverse of CellTypeKey.
func ParseCellTypeKey(s string) uint32 {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		panic("storage: malformed cell type key: " + s)
	}

	return uint32(v)
}

// TraitKey encodes a (task, trait type) pair as an ItemKey.Sub component for
// CollectiblesDependency/CollectiblesDependent edges: unlike CollectibleKey,
// a collectibles dependency is scoped to every value of a trait type
// reachable under a task, not one specific value.
func TraitKey(task taskgraph.TaskId, traitTypeID uint32) string {
	return strconv.FormatUint(uint64(task), 10) + ":" + strconv.FormatUint(uint64(traitTypeID), 10)
}

// ParseTraitKey is the inverse of TraitKey.
func ParseTraitKey(s string) (taskgraph.TaskId, uint32) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		panic("storage: malformed trait key: " + s)
	}

	task, err1 := strconv.ParseUint(parts[0], 10, 32)
	trait, err2 := strconv.ParseUint(parts[1], 10, 32)

	if err1 != nil || err2 != nil {
		panic("storage: malformed trait key: " + s)
	}

	return taskgraph.TaskId(task), uint32(trait)
}

// CollectibleKey encodes a CollectibleRef as an ItemKey.Sub component for
// Collectible/AggregatedCollectible/CollectiblesDependency kinds.
func CollectibleKey(ref taskgraph.CollectibleRef) string {
	return strconv.FormatUint(uint64(ref.TraitTypeID), 10) + ":" + ref.Value
}

// ParseCollectibleKey is the inverse of CollectibleKey.
func ParseCollectibleKey(s string) taskgraph.CollectibleRef {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		panic("storage: malformed collectible key: " + s)
	}

	traitTypeID, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		panic("storage: malformed collectible key: " + s)
	}

	return taskgraph.CollectibleRef{TraitTypeID: uint32(traitTypeID), Value: parts[1]}
}

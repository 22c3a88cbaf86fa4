package backingstore

import "encoding/binary"

// Bucket names for the keyspaces spec.md §6.3 enumerates, mirroring the
// one-bucket-per-keyspace convention already seen in the pack's own
// bbolt-backed stores (one bucket per logical table, never a single
// catch-all bucket keyed by a type prefix).
var (
	bucketForwardCache = []byte("forward_task_cache")
	bucketReverseCache = []byte("reverse_task_cache")
	bucketMetaItems    = []byte("meta_items")
	bucketDataItems    = []byte("data_items")
	bucketInfra        = []byte("infra")
)

var allBuckets = [][]byte{
	bucketForwardCache,
	bucketReverseCache,
	bucketMetaItems,
	bucketDataItems,
	bucketInfra,
}

// Infra keys: session id, next-free task id, pending operations blob
// (spec.md §6.3 "Infra keys").
var (
	infraKeySession      = []byte("next_session_id")
	infraKeyNextFreeTask = []byte("next_free_task_id")
	infraKeyPendingOps   = []byte("pending_operations")
)

// itemKey composes the bucketMetaItems/bucketDataItems key for one task's
// item: a 4-byte big-endian TaskId followed by the item's own encoded key
// (storage.EncodeItemKey), so a bucket range-scan over one task's items is
// a plain prefix scan.
func itemKey(task uint32, encodedItemKey []byte) []byte {
	buf := make([]byte, 4+len(encodedItemKey))
	binary.BigEndian.PutUint32(buf[:4], task)
	copy(buf[4:], encodedItemKey)

	return buf
}

// splitItemKey reverses itemKey, returning the TaskId prefix and the
// original encoded item key suffix.
func splitItemKey(key []byte) (uint32, []byte) {
	return binary.BigEndian.Uint32(key[:4]), key[4:]
}

func taskPrefix(task uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, task)

	return buf
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}

	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}

	return true
}

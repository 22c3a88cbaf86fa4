package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// EncodeItem serializes one CachedDataItem for a backing store's per-task
// item blob (spec.md §6.3). gob is used rather than a hand-rolled format
// since CachedDataItem's shape already changes as item kinds are added, and
// gob tolerates that without a bespoke versioning scheme.
func EncodeItem(item CachedDataItem) ([]byte, error) {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(item); err != nil {
		return nil, fmt.Errorf("storage: encode item: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeItem is the inverse of EncodeItem.
func DecodeItem(b []byte) (CachedDataItem, error) {
	var item CachedDataItem

	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&item); err != nil {
		return CachedDataItem{}, fmt.Errorf("storage: decode item: %w", err)
	}

	return item, nil
}

// CompressBlob LZ4-compresses data, prefixing the result with its
// uncompressed length so DecompressBlob never needs a caller-supplied size
// hint. Grounded on rbtree.CompressUInt32Slice's use of the same raw-block
// lz4 API, generalized from a fixed uint32 payload to an arbitrary blob (a
// per-task item vector or the startup-cache flat file).
func CompressBlob(data []byte) []byte {
	bound := lz4.CompressBlockBound(len(data))
	out := make([]byte, 4+bound)
	binary.LittleEndian.PutUint32(out[:4], uint32(len(data)))

	written, err := lz4.CompressBlock(data, out[4:], nil)
	if err != nil {
		// Incompressible or pathological input: store uncompressed, marked
		// by a zero length prefix so DecompressBlob can tell the two apart.
		return append([]byte{0, 0, 0, 0}, data...)
	}

	if written == 0 {
		return append([]byte{0, 0, 0, 0}, data...)
	}

	return out[:4+written]
}

// DecompressBlob is the inverse of CompressBlob.
func DecompressBlob(blob []byte) ([]byte, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("storage: compressed blob too short")
	}

	size := binary.LittleEndian.Uint32(blob[:4])
	if size == 0 {
		return blob[4:], nil
	}

	out := make([]byte, size)

	n, err := lz4.UncompressBlock(blob[4:], out)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress blob: %w", err)
	}

	return out[:n], nil
}

package backingstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/codefang-labs/taskgraph/internal/storage"
)

// Keyspace tags for the flat cache file, mirroring the original's
// KeySpace enum (spec.md §6.3's "Startup-cache overlay"). Only the two
// task-cache directions are actually produced by populateStartupCache
// today, but the tags are kept aligned with the original's five so the
// file format can grow into meta/data caching without a version bump.
const (
	keyspaceInfra byte = iota
	keyspaceMeta
	keyspaceData
	keyspaceForward
	keyspaceReverse
)

const pairHeaderSize = 1 + 4 + 4 // keyspace tag + big-endian key length + value length

// StartupCache is an in-memory key/value overlay, partitioned by keyspace,
// consulted ahead of the database on the hot ForwardLookupTaskCache /
// ReverseLookupTaskCache paths so a warm restart skips a bbolt read
// transaction entirely. It is bounded by a byte budget: once the budget is
// exhausted, further Put calls are dropped rather than growing unbounded,
// since the cache is an optimization and a miss just falls through to the
// database.
type StartupCache struct {
	mu     sync.Mutex
	tables map[byte]map[string][]byte
	size   int64
	budget int64
}

// NewStartupCache returns an empty overlay bounded by budget bytes. A
// non-positive budget disables the overlay: every Put is a no-op and every
// Get misses.
func NewStartupCache(budget int64) *StartupCache {
	return &StartupCache{
		tables: map[byte]map[string][]byte{
			keyspaceInfra:   make(map[string][]byte),
			keyspaceMeta:    make(map[string][]byte),
			keyspaceData:    make(map[string][]byte),
			keyspaceForward: make(map[string][]byte),
			keyspaceReverse: make(map[string][]byte),
		},
		budget: budget,
	}
}

// Get returns the cached value for (keyspace, key), if present.
func (c *StartupCache) Get(keyspace byte, key []byte) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.tables[keyspace][string(key)]

	return v, ok
}

// Put stores value under (keyspace, key), unless the budget has already
// been exhausted.
func (c *StartupCache) Put(keyspace byte, key, value []byte) {
	if c.budget <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	added := int64(len(key) + len(value) + pairHeaderSize)
	if c.size+added > c.budget {
		return
	}

	c.size += added
	c.tables[keyspace][string(key)] = append([]byte(nil), value...)
}

// LoadStartupCache reads a cache file previously written by SaveTo. A
// missing file is not an error: it returns a fresh, empty cache, matching
// a process's first-ever startup against an empty directory.
func LoadStartupCache(path string, budget int64) (*StartupCache, error) {
	c := NewStartupCache(budget)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}

		return nil, fmt.Errorf("backingstore: open startup cache: %w", err)
	}
	defer f.Close()

	compressed, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("backingstore: read startup cache: %w", err)
	}

	raw, err := storage.DecompressBlob(compressed)
	if err != nil {
		return nil, fmt.Errorf("backingstore: decompress startup cache: %w", err)
	}

	pos := 0
	for pos < len(raw) {
		if pos+pairHeaderSize > len(raw) {
			return nil, fmt.Errorf("backingstore: truncated startup cache pair header")
		}

		ks := raw[pos]
		keyLen := binary.BigEndian.Uint32(raw[pos+1 : pos+5])
		valueLen := binary.BigEndian.Uint32(raw[pos+5 : pos+9])
		pos += pairHeaderSize

		if pos+int(keyLen)+int(valueLen) > len(raw) {
			return nil, fmt.Errorf("backingstore: truncated startup cache pair body")
		}

		key := raw[pos : pos+int(keyLen)]
		pos += int(keyLen)
		value := raw[pos : pos+int(valueLen)]
		pos += int(valueLen)

		c.Put(ks, key, value)
	}

	return c, nil
}

// SaveTo persists the overlay to path as one LZ4-compressed flat file,
// writing through a temp file and renaming into place so a crash mid-write
// never leaves a corrupt cache behind (the original removes the old file
// before its write and relies on rename being the recovery boundary; this
// port keeps the previous file untouched until the rename succeeds, which
// is strictly safer and costs nothing extra).
func (c *StartupCache) SaveTo(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var raw []byte

	header := make([]byte, pairHeaderSize)

	for ks, table := range c.tables {
		for key, value := range table {
			header[0] = ks
			binary.BigEndian.PutUint32(header[1:5], uint32(len(key)))
			binary.BigEndian.PutUint32(header[5:9], uint32(len(value)))

			raw = append(raw, header...)
			raw = append(raw, key...)
			raw = append(raw, value...)
		}
	}

	tmp := path + ".tmp"

	if err := writeFileAtomic(tmp, storage.CompressBlob(raw)); err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("backingstore: rename startup cache into place: %w", err)
	}

	return nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("backingstore: create startup cache dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("backingstore: create startup cache temp file: %w", err)
	}

	w := bufio.NewWriter(f)

	if _, err := w.Write(data); err != nil {
		_ = f.Close()

		return fmt.Errorf("backingstore: write startup cache: %w", err)
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()

		return fmt.Errorf("backingstore: flush startup cache: %w", err)
	}

	return f.Close()
}

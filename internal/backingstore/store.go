// Package backingstore implements the reference taskgraph.BackingStorage
// (spec.md §6.2) over go.etcd.io/bbolt: one bucket per keyspace, one
// bbolt.Update transaction per SaveSnapshot call for atomicity, plus a
// StartupCache overlay (spec.md §6.3) consulted ahead of the database on
// hot lookup paths.
package backingstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/codefang-labs/taskgraph/internal/storage"
	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// Store is the bbolt-backed BackingStorage implementation.
type Store struct {
	db     *bbolt.DB
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	cache *StartupCache

	readOnly bool
}

var _ taskgraph.BackingStorage = (*Store)(nil)

// Options configures Open.
type Options struct {
	// Dir is the versioned database directory (see versioning.go); callers
	// typically obtain it from ResolveVersionedDir rather than hand-rolling
	// one.
	Dir string

	// StartupCacheBudget bounds the in-memory/on-disk startup-cache
	// overlay, in bytes. Zero disables the overlay.
	StartupCacheBudget int64

	// ReadOnly opens the database with bbolt's ReadOnly option and a
	// bounded lock-acquisition timeout instead of blocking indefinitely.
	// The read-only open takes a shared file lock, which conflicts with
	// the exclusive lock a read-write process holds, so while a live
	// daemon has the directory open the open fails once the timeout
	// expires. The startup-cache overlay is not loaded or written back in
	// this mode.
	ReadOnly bool

	Logger *slog.Logger
}

// Open opens (creating if absent) the bbolt database and its buckets under
// opts.Dir, and loads the startup-cache overlay file if one exists.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.ReadOnly {
		return openReadOnly(opts, logger)
	}

	db, err := bbolt.Open(opts.Dir+"/taskgraph.db", 0o600, &bbolt.Options{
		Timeout:      0,
		FreelistType: bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("backingstore: open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("backingstore: create bucket %s: %w", name, err)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	cache, err := LoadStartupCache(opts.Dir+"/startup.cache", opts.StartupCacheBudget)
	if err != nil {
		logger.Warn("backingstore: startup cache unreadable, starting cold", "error", err)

		cache = NewStartupCache(opts.StartupCacheBudget)
	}

	if err := ensureMetadata(opts.Dir); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Store{db: db, dir: opts.Dir, logger: logger, cache: cache}, nil
}

// readOnlyLockTimeout bounds how long openReadOnly waits for the database
// file lock, rather than blocking forever the way a read-write Open does;
// while a live daemon holds the lock, the wait ends in an error.
const readOnlyLockTimeout = 2 * time.Second

// openReadOnly opens dir's database for inspection only: no buckets are
// created, no startup-cache overlay is loaded, and Close is a no-op beyond
// closing the handle.
func openReadOnly(opts Options, logger *slog.Logger) (*Store, error) {
	db, err := bbolt.Open(opts.Dir+"/taskgraph.db", 0o600, &bbolt.Options{
		Timeout:  readOnlyLockTimeout,
		ReadOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("backingstore: open database read-only: %w", err)
	}

	return &Store{db: db, dir: opts.Dir, logger: logger, cache: NewStartupCache(0), readOnly: true}, nil
}

// ensureMetadata writes dir/metadata.json on first use of a versioned
// directory, or validates the existing one against this build's expected
// format version otherwise.
func ensureMetadata(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, "metadata.json")); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("backingstore: stat metadata: %w", err)
		}

		identity, _ := buildIdentity()

		return WriteMetadata(dir, identity)
	}

	_, err := ReadMetadata(dir)

	return err
}

// Close flushes the startup cache and closes the database. In a store
// opened read-only, no cache was loaded and none is written back.
func (s *Store) Close() error {
	if !s.readOnly {
		if err := s.cache.SaveTo(s.dir + "/startup.cache"); err != nil {
			s.logger.Warn("backingstore: failed to persist startup cache", "error", err)
		}
	}

	return s.db.Close()
}

// NextSessionID returns and persists session+1.
func (s *Store) NextSessionID() (taskgraph.SessionId, error) {
	var next taskgraph.SessionId

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInfra)

		current := decodeUint32(bucket.Get(infraKeySession))
		next = taskgraph.SessionId(current + 1)

		return bucket.Put(infraKeySession, encodeUint32(uint32(next)))
	})

	return next, err
}

// NextFreeTaskID returns one past the highest persistent TaskId ever
// allocated.
func (s *Store) NextFreeTaskID() (taskgraph.TaskId, error) {
	var id taskgraph.TaskId

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInfra)
		id = taskgraph.TaskId(decodeUint32(bucket.Get(infraKeyNextFreeTask)))

		return nil
	})

	return id, err
}

// UncompletedOperations returns the operations suspended at the barrier
// during the last snapshot.
func (s *Store) UncompletedOperations() ([]taskgraph.AnyOperation, error) {
	var ops []taskgraph.AnyOperation

	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketInfra).Get(infraKeyPendingOps)
		if len(raw) == 0 {
			return nil
		}

		return gob.NewDecoder(bytes.NewReader(raw)).Decode(&ops)
	})
	if err != nil {
		return nil, fmt.Errorf("backingstore: read uncompleted operations: %w", err)
	}

	return ops, nil
}

// boltReadTransaction wraps a read-only *bbolt.Tx as a taskgraph.ReadTransaction.
type boltReadTransaction struct {
	tx *bbolt.Tx
}

func (r *boltReadTransaction) Discard() {
	_ = r.tx.Rollback()
}

// StartReadTransaction opens a read-only bbolt transaction.
func (s *Store) StartReadTransaction() (taskgraph.ReadTransaction, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("backingstore: begin read transaction: %w", err)
	}

	return &boltReadTransaction{tx: tx}, nil
}

// EndReadTransaction releases tx.
func (s *Store) EndReadTransaction(tx taskgraph.ReadTransaction) {
	tx.Discard()
}

// ForwardLookupTaskCache resolves typ to its canonical TaskId, consulting
// the startup-cache overlay before the database (spec.md's "Supplemented
// Features: Startup-cache overlay precedence").
func (s *Store) ForwardLookupTaskCache(tx taskgraph.ReadTransaction, typ taskgraph.TaskType) (taskgraph.TaskId, bool, error) {
	key := []byte(typ.CacheKey())

	if v, ok := s.cache.Get(keyspaceForward, key); ok {
		return taskgraph.TaskId(decodeUint32(v)), true, nil
	}

	var id taskgraph.TaskId

	var found bool

	lookup := func(btx *bbolt.Tx) error {
		v := btx.Bucket(bucketForwardCache).Get(key)
		if v == nil {
			return nil
		}

		id = taskgraph.TaskId(decodeUint32(v))
		found = true

		return nil
	}

	if err := s.withReadTx(tx, lookup); err != nil {
		return 0, false, err
	}

	return id, found, nil
}

// ReverseLookupTaskCache resolves a persisted TaskId back to its TaskType.
func (s *Store) ReverseLookupTaskCache(tx taskgraph.ReadTransaction, id taskgraph.TaskId) (taskgraph.TaskType, bool, error) {
	key := encodeUint32(uint32(id))

	if v, ok := s.cache.Get(keyspaceReverse, key); ok {
		typ, err := decodeTaskType(v)

		return typ, err == nil, err
	}

	var typ taskgraph.TaskType

	var found bool

	lookup := func(btx *bbolt.Tx) error {
		v := btx.Bucket(bucketReverseCache).Get(key)
		if v == nil {
			return nil
		}

		decoded, err := decodeTaskType(v)
		if err != nil {
			return err
		}

		typ = decoded
		found = true

		return nil
	}

	if err := s.withReadTx(tx, lookup); err != nil {
		return taskgraph.TaskType{}, false, err
	}

	return typ, found, nil
}

// LookupData returns every persisted item for task in the given category,
// decompressing Data-category blobs (compressed on write, see
// writeLogRecords) transparently.
func (s *Store) LookupData(tx taskgraph.ReadTransaction, task taskgraph.TaskId, category int) ([]taskgraph.RawItem, error) {
	bucketName, compressed := bucketForCategory(category)

	var items []taskgraph.RawItem

	scan := func(btx *bbolt.Tx) error {
		cursor := btx.Bucket(bucketName).Cursor()
		prefix := taskPrefix(uint32(task))

		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			_, encodedKey := splitItemKey(k)

			value := v
			if compressed {
				decoded, err := storage.DecompressBlob(v)
				if err != nil {
					return fmt.Errorf("backingstore: decompress item for task %d: %w", task, err)
				}

				value = decoded
			}

			items = append(items, taskgraph.RawItem{Key: append([]byte(nil), encodedKey...), Value: append([]byte(nil), value...)})
		}

		return nil
	}

	if err := s.withReadTx(tx, scan); err != nil {
		return nil, err
	}

	return items, nil
}

func bucketForCategory(category int) (name []byte, compressed bool) {
	if storage.Category(category) == storage.CategoryData {
		return bucketDataItems, true
	}

	return bucketMetaItems, false
}

// withReadTx runs fn against tx's underlying *bbolt.Tx if one was supplied,
// otherwise opens and closes a fresh read-only transaction of its own.
func (s *Store) withReadTx(tx taskgraph.ReadTransaction, fn func(*bbolt.Tx) error) error {
	if tx != nil {
		rt, ok := tx.(*boltReadTransaction)
		if !ok {
			return fmt.Errorf("backingstore: foreign ReadTransaction type %T", tx)
		}

		return fn(rt.tx)
	}

	return s.db.View(fn)
}

// SaveSnapshot durably and atomically commits one snapshot: the session id,
// the suspended-operations set, and the drained task-cache/meta/data log
// shards, in a single bbolt.Update transaction (spec.md §6.2 "must make all
// writes atomic with respect to a single commit").
func (s *Store) SaveSnapshot(session taskgraph.SessionId, ops []taskgraph.AnyOperation, taskCacheLog, metaLog, dataLog []taskgraph.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var encodedOps bytes.Buffer
	if err := gob.NewEncoder(&encodedOps).Encode(ops); err != nil {
		return fmt.Errorf("backingstore: encode pending operations: %w", err)
	}

	highestTask := uint32(0)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		infra := tx.Bucket(bucketInfra)

		if err := infra.Put(infraKeySession, encodeUint32(uint32(session))); err != nil {
			return err
		}

		if err := infra.Put(infraKeyPendingOps, encodedOps.Bytes()); err != nil {
			return err
		}

		if err := writeTaskCacheLog(tx, taskCacheLog, &highestTask); err != nil {
			return err
		}

		if err := writeLogRecords(tx, bucketMetaItems, metaLog, false, &highestTask); err != nil {
			return err
		}

		if err := writeLogRecords(tx, bucketDataItems, dataLog, true, &highestTask); err != nil {
			return err
		}

		currentNextFree := decodeUint32(infra.Get(infraKeyNextFreeTask))
		if highestTask+1 > currentNextFree {
			if err := infra.Put(infraKeyNextFreeTask, encodeUint32(highestTask+1)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("backingstore: save snapshot: %w", err)
	}

	s.populateStartupCache(taskCacheLog)

	return nil
}

func writeTaskCacheLog(tx *bbolt.Tx, records []taskgraph.LogRecord, highestTask *uint32) error {
	if len(records) == 0 {
		return nil
	}

	forward := tx.Bucket(bucketForwardCache)
	reverse := tx.Bucket(bucketReverseCache)

	for _, rec := range records {
		if uint32(rec.Task) > *highestTask {
			*highestTask = uint32(rec.Task)
		}

		taskKey := encodeUint32(uint32(rec.Task))

		if err := forward.Put(rec.Key, taskKey); err != nil {
			return fmt.Errorf("backingstore: forward cache put: %w", err)
		}

		if err := reverse.Put(taskKey, rec.Value); err != nil {
			return fmt.Errorf("backingstore: reverse cache put: %w", err)
		}
	}

	return nil
}

// writeLogRecords applies one drained Log shard's records to bucketName.
// Data-category records are LZ4-compressed at rest (spec.md's supplemented
// "compress cold per-task item blobs"); Meta records, being small and hot,
// are stored as-is.
func writeLogRecords(tx *bbolt.Tx, bucketName []byte, records []taskgraph.LogRecord, compress bool, highestTask *uint32) error {
	if len(records) == 0 {
		return nil
	}

	bucket := tx.Bucket(bucketName)

	for _, rec := range records {
		if uint32(rec.Task) > *highestTask {
			*highestTask = uint32(rec.Task)
		}

		key := itemKey(uint32(rec.Task), rec.Key)

		if rec.Value == nil {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("backingstore: delete item: %w", err)
			}

			continue
		}

		value := rec.Value
		if compress {
			value = storage.CompressBlob(value)
		}

		if err := bucket.Put(key, value); err != nil {
			return fmt.Errorf("backingstore: put item: %w", err)
		}
	}

	return nil
}

// populateStartupCache mirrors a snapshot's freshly committed task-cache
// entries into the in-memory overlay, so the next process start resolves
// them without a read transaction.
func (s *Store) populateStartupCache(taskCacheLog []taskgraph.LogRecord) {
	for _, rec := range taskCacheLog {
		taskKey := encodeUint32(uint32(rec.Task))
		s.cache.Put(keyspaceForward, rec.Key, taskKey)
		s.cache.Put(keyspaceReverse, taskKey, rec.Value)
	}
}

func encodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)

	return buf
}

func decodeUint32(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}

	return binary.BigEndian.Uint32(b)
}

func decodeTaskType(b []byte) (taskgraph.TaskType, error) {
	var typ taskgraph.TaskType

	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&typ); err != nil {
		return taskgraph.TaskType{}, fmt.Errorf("backingstore: decode task type: %w", err)
	}

	return typ, nil
}

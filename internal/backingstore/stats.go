package backingstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"go.etcd.io/bbolt"

	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// BucketStats summarizes one bucket's key/value counts and total size, for
// an inspection tool that must not reach into the package's unexported
// bucket-name constants itself.
type BucketStats struct {
	Name      string
	KeyCount  int
	TotalSize int64
}

// Stats summarizes a backing-store directory without requiring the caller
// to know its internal bucket layout.
type Stats struct {
	SessionID             taskgraph.SessionId
	NextFreeTaskID        taskgraph.TaskId
	UncompletedOperations int
	DatabaseSizeBytes     int64
	Buckets               []BucketStats
}

// Stats walks every bucket and reports per-bucket counts/sizes alongside the
// infra keys NextSessionID/NextFreeTaskID/UncompletedOperations already
// expose individually. Safe to call on a store opened read-only.
func (s *Store) Stats() (Stats, error) {
	var stats Stats

	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			bucket := tx.Bucket(name)
			if bucket == nil {
				continue
			}

			bs := BucketStats{Name: string(name)}

			err := bucket.ForEach(func(k, v []byte) error {
				bs.KeyCount++
				bs.TotalSize += int64(len(k) + len(v))

				return nil
			})
			if err != nil {
				return fmt.Errorf("backingstore: walk bucket %s: %w", name, err)
			}

			stats.Buckets = append(stats.Buckets, bs)
		}

		infra := tx.Bucket(bucketInfra)
		if infra != nil {
			stats.SessionID = taskgraph.SessionId(decodeUint32(infra.Get(infraKeySession)))
			stats.NextFreeTaskID = taskgraph.TaskId(decodeUint32(infra.Get(infraKeyNextFreeTask)))

			if raw := infra.Get(infraKeyPendingOps); len(raw) > 0 {
				var ops []taskgraph.AnyOperation

				if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&ops); err != nil {
					return fmt.Errorf("backingstore: decode pending operations: %w", err)
				}

				stats.UncompletedOperations = len(ops)
			}
		}

		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	if info, statErr := os.Stat(s.dir + "/taskgraph.db"); statErr == nil {
		stats.DatabaseSizeBytes = info.Size()
	}

	return stats, nil
}

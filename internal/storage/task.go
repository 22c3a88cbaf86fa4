package storage

import "sync"

// TaskStorage is the per-task item container (spec.md §4.1): a map from
// ItemKey to CachedDataItem, plus a secondary index bucketing "fan-out"
// kinds (children, dependency/dependent edges, collectibles) so a task with
// thousands of dependents can still be scanned for just those without
// touching its Output/Dirty/AggregationNumber slots.
//
// Each task's storage is guarded by its own mutex (spec.md §5 "per-task
// lock"); callers access it only through a TaskHandle obtained from an
// ExecuteContext, which is responsible for acquiring/releasing this lock
// and never holding two at once across a suspension point.
type TaskStorage struct {
	mu sync.Mutex

	items map[ItemKey]CachedDataItem
	index map[ItemKind]map[string]struct{}

	// PendingLogRecords counts CachedDataUpdate records appended for this
	// task that have not yet been drained by a snapshot. The snapshot
	// coordinator uses this purely for diagnostics/backpressure signals;
	// it is not part of correctness.
	PendingLogRecords int32
}

// NewTaskStorage allocates an empty per-task container.
func NewTaskStorage() *TaskStorage {
	return &TaskStorage{
		items: make(map[ItemKey]CachedDataItem),
		index: make(map[ItemKind]map[string]struct{}),
	}
}

// Lock/Unlock expose the per-task mutex to ExecuteContext, which is the
// only caller allowed to hold it across multiple item operations.
func (s *TaskStorage) Lock()   { s.mu.Lock() }
func (s *TaskStorage) Unlock() { s.mu.Unlock() }

// Insert replaces the item at key and returns the previous value (the zero
// value and false if none existed). Caller must hold the lock.
func (s *TaskStorage) Insert(key ItemKey, value CachedDataItem) (CachedDataItem, bool) {
	old, existed := s.items[key]
	s.items[key] = value
	s.trackIndex(key)

	return old, existed
}

// Remove deletes the item at key and returns the removed value, if any.
// Caller must hold the lock.
func (s *TaskStorage) Remove(key ItemKey) (CachedDataItem, bool) {
	old, existed := s.items[key]
	if existed {
		delete(s.items, key)
		s.untrackIndex(key)
	}

	return old, existed
}

// Get returns the item at key, if present. Caller must hold the lock.
func (s *TaskStorage) Get(key ItemKey) (CachedDataItem, bool) {
	v, ok := s.items[key]

	return v, ok
}

// HasKey reports whether key is present. Caller must hold the lock.
func (s *TaskStorage) HasKey(key ItemKey) bool {
	_, ok := s.items[key]

	return ok
}

// Add inserts value at key only if absent, returning true if it changed the
// stored state (spec.md §4.1: "insert if absent, return true if the state
// changed"). Caller must hold the lock.
func (s *TaskStorage) Add(key ItemKey, value CachedDataItem) bool {
	if _, ok := s.items[key]; ok {
		return false
	}

	s.items[key] = value
	s.trackIndex(key)

	return true
}

// Iter calls fn for every item of the given kind, using the secondary index
// when the kind is indexed so callers never pay for a full-container scan
// to find fan-out edges. Caller must hold the lock.
func (s *TaskStorage) Iter(kind ItemKind, fn func(key ItemKey, value CachedDataItem) bool) {
	if kind.Indexed() {
		subs := s.index[kind]
		for sub := range subs {
			key := ItemKey{Kind: kind, Sub: sub}
			if v, ok := s.items[key]; ok {
				if !fn(key, v) {
					return
				}
			}
		}

		return
	}

	for key, v := range s.items {
		if key.Kind != kind {
			continue
		}

		if !fn(key, v) {
			return
		}
	}
}

// IterAll calls fn for every item in the task's storage, regardless of
// kind. Caller must hold the lock.
func (s *TaskStorage) IterAll(fn func(key ItemKey, value CachedDataItem) bool) {
	for key, v := range s.items {
		if !fn(key, v) {
			return
		}
	}
}

// Count returns the number of items of the given kind, preferring the
// secondary index when available. Caller must hold the lock.
func (s *TaskStorage) Count(kind ItemKind) int {
	if kind.Indexed() {
		return len(s.index[kind])
	}

	n := 0

	for key := range s.items {
		if key.Kind == kind {
			n++
		}
	}

	return n
}

func (s *TaskStorage) trackIndex(key ItemKey) {
	if !key.Kind.Indexed() {
		return
	}

	bucket, ok := s.index[key.Kind]
	if !ok {
		bucket = make(map[string]struct{})
		s.index[key.Kind] = bucket
	}

	bucket[key.Sub] = struct{}{}
}

func (s *TaskStorage) untrackIndex(key ItemKey) {
	if !key.Kind.Indexed() {
		return
	}

	if bucket, ok := s.index[key.Kind]; ok {
		delete(bucket, key.Sub)
	}
}

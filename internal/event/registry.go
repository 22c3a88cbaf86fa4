package event

import (
	"sync"
	"sync/atomic"
)

// Registry assigns numeric ids to live Events so that storage items, which
// must remain plain comparable values for the item container (spec.md §3),
// can reference "the event this task's completion will fire" without
// embedding a pointer that would complicate serialization of in-flight
// state. Registry entries are purely in-memory and process-lifetime.
// InProgress/AggregateRoot items are written to the snapshot log like any
// other item, but the backend does not load items back from the backing
// store on startup, so no stored id outlives the process that registered
// it.
type Registry struct {
	nextID atomic.Uint64
	// shards avoid a single global lock on the hot path of registering and
	// resolving events for every scheduled task.
	shards [numShards]shard
}

const numShards = 32

type shard struct {
	mu   sync.Mutex
	byID map[uint64]*Event
}

// NewRegistry creates an empty event registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].byID = make(map[uint64]*Event)
	}

	return r
}

// Create allocates a fresh Event, registers it, and returns its id.
func (r *Registry) Create(note string) (uint64, *Event) {
	id := r.nextID.Add(1)
	ev := New(note)

	s := &r.shards[id%numShards]
	s.mu.Lock()
	s.byID[id] = ev
	s.mu.Unlock()

	return id, ev
}

// Get resolves an id to its live Event, if still registered.
func (r *Registry) Get(id uint64) (*Event, bool) {
	s := &r.shards[id%numShards]
	s.mu.Lock()
	ev, ok := s.byID[id]
	s.mu.Unlock()

	return ev, ok
}

// Release drops an event from the registry once it can never be waited on
// again (its owning storage item was removed).
func (r *Registry) Release(id uint64) {
	s := &r.shards[id%numShards]
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

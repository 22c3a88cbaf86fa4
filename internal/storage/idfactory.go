package storage

import (
	"sync"
	"sync/atomic"

	"github.com/codefang-labs/taskgraph/pkg/taskgraph"
)

// transientBit mirrors taskgraph's private constant; duplicated here since
// the id factory must mask it directly when minting ids.
const transientBit = uint32(1) << 31

// IDFactory allocates fresh TaskIds. It is lock-free on the common path (an
// atomic counter) with a mutex-guarded freelist for ids released by
// DisposeRootTask or transient-session teardown, grounded on the gap-based
// free list in pkg/rbtree.Allocator.malloc/free (spec.md §5 "ID factories
// are lock-free with a reuse freelist").
type IDFactory struct {
	next      atomic.Uint32
	transient bool

	mu   sync.Mutex
	free []uint32
}

// NewPersistentIDFactory creates a factory minting persistent ids (top bit
// clear), starting from next (typically BackingStorage.NextFreeTaskID so a
// restarted process continues where the last run left off).
func NewPersistentIDFactory(next taskgraph.TaskId) *IDFactory {
	f := &IDFactory{}
	f.next.Store(uint32(next))

	return f
}

// NewTransientIDFactory creates a factory minting transient ids (top bit
// set), always starting from zero within the bit space since transient ids
// never survive a session.
func NewTransientIDFactory() *IDFactory {
	f := &IDFactory{transient: true}

	return f
}

// Alloc returns a fresh TaskId, preferring a released id from the freelist
// before advancing the counter. Returns ok=false if the transient 31-bit
// space is exhausted (spec.md §9 open question, resolved as a defined
// error rather than silent wraparound).
func (f *IDFactory) Alloc() (taskgraph.TaskId, bool) {
	f.mu.Lock()
	if n := len(f.free); n > 0 {
		id := f.free[n-1]
		f.free = f.free[:n-1]
		f.mu.Unlock()

		return f.tag(id), true
	}
	f.mu.Unlock()

	raw := f.next.Add(1) - 1
	if raw&transientBit != 0 {
		// Collided with the reserved top bit: the persistent space wrapped
		// past 2^31, or the transient space exhausted its own 2^31 range.
		return 0, false
	}

	return f.tag(raw), true
}

func (f *IDFactory) tag(raw uint32) taskgraph.TaskId {
	if f.transient {
		return taskgraph.TaskId(raw | transientBit)
	}

	return taskgraph.TaskId(raw)
}

// Release returns id to the freelist for reuse. Only safe to call once the
// caller has proven no reference to id survives (persistent: after garbage
// collection, out of scope per spec.md §3 Lifecycle; transient: at session
// teardown).
func (f *IDFactory) Release(id taskgraph.TaskId) {
	raw := uint32(id) &^ transientBit

	f.mu.Lock()
	f.free = append(f.free, raw)
	f.mu.Unlock()
}

package storage

// ChunkedVec is an append-only vector built from geometrically growing
// chunks rather than one contiguous backing array, so a long-lived log (see
// Log below) never needs to copy its already-written prefix on growth.
// Grounded on original_source's turbo-tasks-backend/src/utils/chunked_vec.rs,
// re-expressed with Go generics; the growth schedule (8, 16, 32, ...) is
// carried over unchanged.
type ChunkedVec[T any] struct {
	chunks [][]T
	len    int
}

// NewChunkedVec returns an empty ChunkedVec.
func NewChunkedVec[T any]() *ChunkedVec[T] {
	return &ChunkedVec[T]{}
}

// chunkCapacity returns the capacity of the chunk at chunkIndex.
func chunkCapacity(chunkIndex int) int {
	return 8 << chunkIndex
}

// Push appends item, growing a new chunk if the last one is full.
func (c *ChunkedVec[T]) Push(item T) {
	if n := len(c.chunks); n > 0 {
		last := c.chunks[n-1]
		if len(last) < cap(last) {
			c.chunks[n-1] = append(last, item)
			c.len++

			return
		}
	}

	chunk := make([]T, 0, chunkCapacity(len(c.chunks)))
	chunk = append(chunk, item)
	c.chunks = append(c.chunks, chunk)
	c.len++
}

// Len returns the total number of pushed items.
func (c *ChunkedVec[T]) Len() int {
	return c.len
}

// Drain returns every pushed item, in order, and resets the vector to
// empty. Used by the snapshot coordinator to hand a log shard's contents to
// the backing store.
func (c *ChunkedVec[T]) Drain() []T {
	if c.len == 0 {
		return nil
	}

	out := make([]T, 0, c.len)
	for _, chunk := range c.chunks {
		out = append(out, chunk...)
	}

	c.chunks = nil
	c.len = 0

	return out
}

// Each calls fn for every pushed item without draining.
func (c *ChunkedVec[T]) Each(fn func(T)) {
	for _, chunk := range c.chunks {
		for _, item := range chunk {
			fn(item)
		}
	}
}

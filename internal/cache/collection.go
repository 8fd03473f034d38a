package cache

import "sync"

// Collection stores the latest fetched rows of one remote table in memory.
// Rows are only ever swapped as a whole; there is no merging.
type Collection[T any] struct {
	items      []T
	generation uint64
	loaded     bool
	mu         sync.RWMutex
}

// NewCollection creates an empty collection
func NewCollection[T any]() *Collection[T] {
	return &Collection[T]{
		items: make([]T, 0),
	}
}

// Replace swaps the cached rows for items and returns the new generation
func (c *Collection[T]) Replace(items []T) uint64 {
	next := make([]T, len(items))
	copy(next, items)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = next
	c.loaded = true
	c.generation++
	return c.generation
}

// Snapshot returns a copy of the cached rows
func (c *Collection[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of cached rows
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Generation returns how many times the collection has been replaced
func (c *Collection[T]) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Loaded reports whether at least one fetch has completed
func (c *Collection[T]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Package cache holds query results shown to the user and applies
// optimistic changes to them with rollback.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// QueryCache stores keyed collections. Reads and writes copy the slices so
// callers never share backing arrays with the cache.
type QueryCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
	now     func() time.Time
}

type entry[T any] struct {
	items     []T
	updatedAt time.Time
}

// Snapshot is the captured state of one key, used to undo a speculative change.
type Snapshot[T any] struct {
	Key     string
	Items   []T
	Present bool
}

// New creates an empty cache.
func New[T any]() *QueryCache[T] {
	return &QueryCache[T]{
		entries: make(map[string]entry[T]),
		now:     time.Now,
	}
}

// Get returns a copy of the collection stored under key.
func (c *QueryCache[T]) Get(key string) ([]T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return clone(e.items), true
}

// UpdatedAt reports when key was last written.
func (c *QueryCache[T]) UpdatedAt(key string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return e.updatedAt, ok
}

// Set replaces the collection stored under key.
func (c *QueryCache[T]) Set(key string, items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{items: clone(items), updatedAt: c.now()}
}

// Update applies fn to the current collection under key and stores the
// result. A missing key is passed to fn as nil.
func (c *QueryCache[T]) Update(key string, fn func([]T) []T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := clone(c.entries[key].items)
	c.entries[key] = entry[T]{items: clone(fn(current)), updatedAt: c.now()}
}

// Snapshot captures the state of key.
func (c *QueryCache[T]) Snapshot(key string) Snapshot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return Snapshot[T]{Key: key, Items: clone(e.items), Present: ok}
}

// Restore puts the captured state back, removing the key if it was absent.
func (c *QueryCache[T]) Restore(s Snapshot[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !s.Present {
		delete(c.entries, s.Key)
		return
	}
	c.entries[s.Key] = entry[T]{items: clone(s.Items), updatedAt: c.now()}
}

// Invalidate drops key.
func (c *QueryCache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Keys lists the cached keys in sorted order.
func (c *QueryCache[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Mutate applies a speculative change to key and then runs dispatch. When
// dispatch fails the exact pre-change state is restored and the error is
// returned.
func Mutate[T any](ctx context.Context, c *QueryCache[T], key string, apply func([]T) []T, dispatch func(ctx context.Context) error) error {
	snap := c.Snapshot(key)
	c.Update(key, apply)

	if err := dispatch(ctx); err != nil {
		c.Restore(snap)
		return err
	}
	return nil
}

func clone[T any](items []T) []T {
	if items == nil {
		return nil
	}
	dup := make([]T, len(items))
	copy(dup, items)
	return dup
}

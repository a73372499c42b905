// Package cache provides a small bounded TTL cache with explicit invalidation.
//
// A Cache is created by its owner and handed to the components that read from
// it, so every writer that changes the underlying data can invalidate entries
// through the same handle.
package cache

import (
	"sync"
	"time"
)

// InvalidateFunc is called after an entry is removed by Delete or DeleteFunc.
// Expiry and capacity eviction do not trigger it.
type InvalidateFunc[K comparable] func(key K)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a concurrency-safe key/value cache with a fixed TTL and a maximum size
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]entry[V]
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	hooks      []InvalidateFunc[K]
}

// New creates a cache. A maxEntries of zero or less means unbounded.
func New[K comparable, V any](ttl time.Duration, maxEntries int) *Cache[K, V] {
	return &Cache[K, V]{
		items:      make(map[K]entry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// OnInvalidate registers a hook run on explicit invalidation
func (c *Cache[K, V]) OnInvalidate(fn InvalidateFunc[K]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Get returns the value for key if present and not expired
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check: another writer may have refreshed the entry
		if cur, still := c.items[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, evicting if the cache is full
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.items[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
}

// Delete removes key and runs invalidation hooks if it was present
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	_, ok := c.items[key]
	delete(c.items, key)
	hooks := c.hooks
	c.mu.Unlock()

	if ok {
		for _, fn := range hooks {
			fn(key)
		}
	}
	return ok
}

// DeleteFunc removes every entry whose key matches pred and returns the count
func (c *Cache[K, V]) DeleteFunc(pred func(K) bool) int {
	c.mu.Lock()
	var removed []K
	for k := range c.items {
		if pred(k) {
			delete(c.items, k)
			removed = append(removed, k)
		}
	}
	hooks := c.hooks
	c.mu.Unlock()

	for _, k := range removed {
		for _, fn := range hooks {
			fn(k)
		}
	}
	return len(removed)
}

// Len returns the number of stored entries, including ones not yet purged
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictLocked drops expired entries, then the entry closest to expiry if still full
func (c *Cache[K, V]) evictLocked(now time.Time) {
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
		}
	}
	if len(c.items) < c.maxEntries {
		return
	}

	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.items {
		if !found || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.expiresAt, true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}

// The store read cache keeps recently read backing-store entries in memory so repeated misses of the governance
// cache layers don't hit disk. This module provides an interface on caching, making single shard cache and multi
// shard caches have the same API.

package cache

import "time"

// Layer defines the interface for a generic key-value cache, so a single HyperClock, a Sharded set of them, or
// NoOp can sit in front of a store interchangeably.
type Layer[K comparable, V any] interface {
	// Get returns value from cache for given key and a boolean indicating whether key was found.
	Get(key K) (V, bool)
	// Add inserts a key-value pair into the cache with the given TTL. It returns true if an item was evicted.
	Add(key K, value V, ttl time.Duration) bool
	// Remove drops the key from the cache; returns true if the key was present.
	Remove(key K) bool
	Keys() []K // Returns a slice of all keys currently in the cache.
	Purge()    // Removes all items from the cache.
}

// NoOp is a cache layer that doesn't store any items.
// It is used when the read cache is disabled.
type NoOp[K comparable, V any] struct { // Implements Layer.
}

var _ Layer[int, int] = (*NoOp[int, int])(nil)

// NewNoOp returns a no-operation cache layer that does not store any items.
func NewNoOp[K comparable, V any]() *NoOp[K, V] {
	return &NoOp[K, V]{}
}

func (n *NoOp[K, V]) Get(key K) (V, bool) {
	var zero V
	return zero, false
}

func (n *NoOp[K, V]) Add(key K, value V, ttl time.Duration) bool {
	return false
}

func (n *NoOp[K, V]) Remove(key K) bool {
	return false
}

func (n *NoOp[K, V]) Keys() []K {
	return nil
}

func (n *NoOp[K, V]) Purge() {}

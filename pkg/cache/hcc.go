// This module implements an expirable CLOCK cache.
// Eviction Policy (CLOCK Algorithm):
// The cache uses a circular list of entries and a "hand" that sweeps over them. When the cache is full and a new item
// needs to be added, the hand checks the entry it's pointing to:
//   - If the entry's reference bit is 'true', it sets it to 'false' and moves to the next entry.
//     This gives the entry a "second chance".
//   - If the entry's reference bit is 'false' (or the entry expired), the entry is reused for the new item.
//
// Expiration Policy (TTL with Reaper):
// Entries are put in time-based buckets by their expiry. A background goroutine, the "reaper", periodically clears
// every bucket whose time has passed, so expired entries are dropped without scanning the entire cache.

package cache

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nobletooth/govcache/pkg/utils"
)

// clockEntry is a single cache slot: the key-value pair plus CLOCK and expiry metadata.
type clockEntry[K comparable, V any] struct {
	key   K
	value V
	// ref is the CLOCK reference bit. It's atomic since Get sets it while only holding the read lock.
	ref       atomic.Bool
	expiresAt time.Time
}

type clockNode[K comparable, V any] = linkedListNode[*clockEntry[K, V]]

// getTimeBucket rounds down the timestamp to the last timestamp that the reaper cleared given the tickInterval.
func getTimeBucket(timestamp time.Time, tickInterval time.Duration) time.Time {
	return time.Unix(0, (timestamp.UnixNano()/int64(tickInterval))*int64(tickInterval))
}

// HyperClock is a thread-safe, fixed-capacity, in-memory cache that combines the CLOCK (Second-Chance)
// eviction algorithm with a time-based expiration mechanism.
type HyperClock[K comparable, V any] struct {
	capacity int
	hand     *clockNode[K, V] // Next candidate for eviction.
	index    map[K]*clockNode[K, V]
	ring     *linkedList[*clockEntry[K, V]] // The hand sweeps over this list, wrapping around at the end.
	// expiryBuckets indexes entries by expiry bucket so the reaper can drop a batch of keys together.
	expiryBuckets map[time.Time]map[K]*clockNode[K, V]
	tickInterval  time.Duration
	reaperHand    time.Time // Next bucket to be cleared by the reaper goroutine.
	// evictionCallback runs under the cache lock on capacity evictions and purges; it must not call the cache.
	evictionCallback func(K, V)
	mux              sync.RWMutex
}

// NewHyperClock is the constructor for HyperClock. The reaper goroutine lives until `ctx` is done.
// NOTE: eviction callback function must not call any of the cache methods or else we'll be having a deadlock.
func NewHyperClock[K comparable, V any](ctx context.Context, capacity int, tickInterval time.Duration,
	evictionCallback func(K, V)) *HyperClock[K, V] {
	if capacity <= 0 {
		utils.RaiseInvariant("hcc", "negative_cache_capacity",
			"Invalid capacity has been given to clock cache.", "capacity", capacity)
		capacity = 1
	}
	if tickInterval <= 0 {
		utils.RaiseInvariant("hcc", "non_positive_tick_interval",
			"Invalid tick interval has been given to clock cache.", "tickInterval", tickInterval)
		tickInterval = time.Second
	}
	clockCache := &HyperClock[K, V]{
		capacity:         capacity,
		index:            make(map[K]*clockNode[K, V], capacity),
		ring:             new(linkedList[*clockEntry[K, V]]),
		expiryBuckets:    make(map[time.Time]map[K]*clockNode[K, V]),
		tickInterval:     tickInterval,
		reaperHand:       getTimeBucket(time.Now(), tickInterval),
		evictionCallback: evictionCallback,
	}
	go clockCache.reaper(ctx)
	return clockCache
}

// Get returns the value of a non-expired key and marks it as recently used.
func (c *HyperClock[K, V]) Get(key K) (V, bool /*found*/) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	node, keyExists := c.index[key]
	if !keyExists || time.Now().After(node.Value.expiresAt) {
		return *new(V), false
	}
	node.Value.ref.Store(true) // Second chance.
	return node.Value.value, true
}

// bucketOf returns the expiry bucket of the node. NOTE: Caller should acquire lock.
func (c *HyperClock[K, V]) bucketOf(node *clockNode[K, V]) time.Time {
	return getTimeBucket(node.Value.expiresAt, c.tickInterval)
}

// track indexes the node by key and by expiry bucket. NOTE: Caller should acquire lock.
func (c *HyperClock[K, V]) track(node *clockNode[K, V]) {
	bucket := c.bucketOf(node)
	if _, bucketExists := c.expiryBuckets[bucket]; !bucketExists {
		c.expiryBuckets[bucket] = make(map[K]*clockNode[K, V])
	}
	c.expiryBuckets[bucket][node.Value.key] = node
	c.index[node.Value.key] = node
}

// untrack drops the node from both indexes, keeping it in the ring. NOTE: Caller should acquire lock.
func (c *HyperClock[K, V]) untrack(node *clockNode[K, V]) {
	bucket := c.bucketOf(node)
	delete(c.expiryBuckets[bucket], node.Value.key)
	if len(c.expiryBuckets[bucket]) == 0 {
		delete(c.expiryBuckets, bucket)
	}
	delete(c.index, node.Value.key)
}

// advanceHand moves the hand one step, wrapping around. NOTE: Caller should acquire lock.
func (c *HyperClock[K, V]) advanceHand() {
	next := c.hand.Next()
	if next == nil {
		next = c.ring.Front()
	}
	c.hand = next
}

// unlink removes the node from the ring, moving the hand away from it first. NOTE: Caller should acquire lock.
func (c *HyperClock[K, V]) unlink(node *clockNode[K, V]) {
	if c.hand == node {
		c.advanceHand()
		if c.hand == node { // It was the only node.
			c.hand = nil
		}
	}
	c.untrack(node)
	c.ring.Remove(node)
}

// Add inserts or updates a key-value pair. When the cache is full, a victim is picked with the CLOCK algorithm;
// returns true if an eviction occurred.
func (c *HyperClock[K, V]) Add(key K, value V, ttl time.Duration) /*evictionOccurred*/ bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	if node, keyExists := c.index[key]; keyExists {
		c.untrack(node)
		node.Value.value = value
		node.Value.ref.Store(false)
		node.Value.expiresAt = time.Now().Add(ttl)
		c.track(node)
		return false
	}

	if c.ring.Len() < c.capacity {
		node := c.ring.PushBack(&clockEntry[K, V]{key: key, value: value, expiresAt: time.Now().Add(ttl)})
		c.track(node)
		if c.hand == nil {
			c.hand = node
		}
		return false
	}

	for {
		node := c.hand
		entry := node.Value
		if entry.ref.Load() && !time.Now().After(entry.expiresAt) {
			entry.ref.Store(false)
			c.advanceHand()
			continue
		}
		// Reuse the victim's node for the new entry.
		c.untrack(node)
		evictedKey, evictedValue := entry.key, entry.value
		entry.key = key
		entry.value = value
		entry.ref.Store(false)
		entry.expiresAt = time.Now().Add(ttl)
		c.track(node)
		c.advanceHand()
		if c.evictionCallback != nil {
			c.evictionCallback(evictedKey, evictedValue)
		}
		return true
	}
}

// Remove drops the key if present. The eviction callback is not called for explicit removals.
func (c *HyperClock[K, V]) Remove(key K) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	node, keyExists := c.index[key]
	if !keyExists {
		return false
	}
	c.unlink(node)
	return true
}

func (c *HyperClock[K, V]) Keys() []K {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return slices.Collect(maps.Keys(c.index))
}

func (c *HyperClock[K, V]) Purge() {
	c.mux.Lock()
	defer c.mux.Unlock()

	for node := c.ring.Front(); node != nil; node = c.ring.Front() {
		evictedKey, evictedValue := node.Value.key, node.Value.value
		c.ring.Remove(node)
		if c.evictionCallback != nil {
			c.evictionCallback(evictedKey, evictedValue)
		}
	}
	c.index = make(map[K]*clockNode[K, V], c.capacity)
	c.expiryBuckets = make(map[time.Time]map[K]*clockNode[K, V])
	c.hand = nil
}

// reaper wakes up every tick and clears every bucket whose time has passed. More than one bucket may be cleared
// per tick when the process was starved of CPU.
func (c *HyperClock[K, V]) reaper(ctx context.Context) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reapExpired(time.Now())
		}
	}
}

// reapExpired drops the buckets that expired before `now`.
func (c *HyperClock[K, V]) reapExpired(now time.Time) {
	c.mux.Lock()
	defer c.mux.Unlock()

	for c.reaperHand.Before(now) {
		for _, node := range c.expiryBuckets[c.reaperHand] {
			c.unlink(node)
		}
		c.reaperHand = c.reaperHand.Add(c.tickInterval)
	}
}

// This module implements cache sharding which distributes keys uniformly across cache shards. Since each
// HyperClock has a single mutex, sharding spreads lock contention when independent cache-layer stacks (for example,
// parallel block validations) read through the same store.

package cache

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/govcache/pkg/utils"
)

// Sharded distributes keys across multiple underlying cache layers (shards).
type Sharded[K comparable, V any] struct { // Implements Layer.
	shards []Layer[K, V]
	hash   func(key K) uint64 // Helps choose the shards index.
}

var _ Layer[string, int] = (*Sharded[string, int])(nil)

// keyHasher returns the xxhash-based hash function for keys of type K.
func keyHasher[K comparable]() func(key K) uint64 {
	switch any(*new(K)).(type) {
	case string:
		return func(key K) uint64 { return xxhash.Sum64String(any(key).(string)) }
	case int:
		return func(key K) uint64 {
			var b [8]byte
			// int's size is architecture-dependent, so it's widened to a fixed-size type before hashing.
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(int)))
			return xxhash.Sum64(b[:])
		}
	case uint64:
		return func(key K) uint64 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], any(key).(uint64))
			return xxhash.Sum64(b[:])
		}
	default:
		// Structs and other comparable types; slower but works for anything printable.
		return func(key K) uint64 { return xxhash.Sum64String(fmt.Sprintf("%#v", key)) }
	}
}

// NewSharded is the constructor for Sharded. `newShard` builds each of the `shardCount` shards.
func NewSharded[K comparable, V any](newShard func() Layer[K, V], shardCount int) *Sharded[K, V] {
	if shardCount <= 0 {
		utils.RaiseInvariant("shard", "negative_shard_count",
			"Invalid shard count has been given to sharded cache.", "shardCount", shardCount)
		shardCount = 1
	}
	sharded := &Sharded[K, V]{shards: make([]Layer[K, V], shardCount), hash: keyHasher[K]()}
	for i := range shardCount {
		sharded.shards[i] = newShard()
	}
	return sharded
}

// getShard maps the key hash to a shard index.
func (c *Sharded[K, V]) getShard(key K) Layer[K, V] {
	return c.shards[c.hash(key)%uint64(len(c.shards))]
}

func (c *Sharded[K, V]) Get(key K) (V, bool /*found*/) {
	return c.getShard(key).Get(key)
}

func (c *Sharded[K, V]) Add(key K, value V, ttl time.Duration) /*evictionOccurred*/ bool {
	return c.getShard(key).Add(key, value, ttl)
}

func (c *Sharded[K, V]) Remove(key K) bool {
	return c.getShard(key).Remove(key)
}

// Keys aggregates the keys from all shards; it visits every shard, so keep it off hot paths.
func (c *Sharded[K, V]) Keys() []K {
	keys := make([]K, 0)
	for _, shard := range c.shards {
		keys = append(keys, shard.Keys()...)
	}
	return keys
}

func (c *Sharded[K, V]) Purge() {
	for _, shard := range c.shards {
		shard.Purge()
	}
}

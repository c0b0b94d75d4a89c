// The store read cache keeps recently read entries of the backing store in memory, so a fresh cache-layer stack
// (for example, one per validated block) doesn't go to disk for state the previous stack just read.
// Both hits and misses are cached; writes go through to the store and replace the cached entry.

package storage

import (
	"context"
	"errors"
	"flag"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/govcache/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readCacheEnabled  = flag.Bool("enable_read_cache", true, "Enable the store read cache.")
	readCacheCapacity = flag.Int("read_cache_capacity", 4096,
		"The maximum number of entries per read cache shard; 0 or negative disables the cache.")
	readCacheShardCount = flag.Int("read_cache_shard_count", runtime.NumCPU(),
		"The number of shards to keep in the read cache; 0 or negative disables the cache.")
	readCacheTtl = flag.Duration("read_cache_ttl", 5*time.Minute,
		"The TTL for each entry in the store read cache.")
	readCacheTickInterval = flag.Duration("read_cache_tick_interval", time.Second,
		"The clock tick interval for the store read cache.")

	readCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_read_cache_lookups_total",
		Help: "Total number of store read cache lookups.",
	}, []string{"status" /* hit | miss */})
)

// cachedRead is a cached store answer; found is false for a cached miss.
type cachedRead struct {
	value []byte
	found bool
}

// keyLockStripes is the number of locks guarding read-cache fills against concurrent writes of the same key.
const keyLockStripes = 64

// CachedStore wraps a Store with an in-memory read cache.
type CachedStore struct { // Implements Store.
	store     Store
	reads     cache.Layer[string, cachedRead]
	stopReaps context.CancelFunc
	// keyLocks are held shared by a miss across the store read and the cache fill, and exclusively by writes across
	// the store write and the cache update, so a fill never overwrites a newer write.
	keyLocks [keyLockStripes]sync.RWMutex
}

var _ Store = (*CachedStore)(nil)

// newReadCacheLayer builds the cache layer according to the read cache flags.
func newReadCacheLayer(ctx context.Context) cache.Layer[string, cachedRead] {
	if !*readCacheEnabled || *readCacheCapacity <= 0 || *readCacheShardCount <= 0 {
		return cache.NewNoOp[string, cachedRead]()
	}
	newShard := func() cache.Layer[string, cachedRead] {
		return cache.NewHyperClock[string, cachedRead](ctx, *readCacheCapacity, *readCacheTickInterval, nil)
	}
	if *readCacheShardCount == 1 {
		return newShard()
	}
	return cache.NewSharded(newShard, *readCacheShardCount)
}

// NewCachedStore wraps `store` with a read cache configured by flags.
func NewCachedStore(store Store) *CachedStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &CachedStore{store: store, reads: newReadCacheLayer(ctx), stopReaps: cancel}
}

func (c *CachedStore) keyLock(composed string) *sync.RWMutex {
	return &c.keyLocks[xxhash.Sum64String(composed)%keyLockStripes]
}

func (c *CachedStore) Get(prefix Prefix, key []byte) ([]byte, error) {
	composed := string(prefix.Key(key))
	if read, found := c.reads.Get(composed); found {
		readCacheLookups.WithLabelValues("hit").Inc()
		if !read.found {
			return nil, ErrKeyNotFound
		}
		return slices.Clone(read.value), nil
	}
	readCacheLookups.WithLabelValues("miss").Inc()

	lock := c.keyLock(composed)
	lock.RLock()
	defer lock.RUnlock()
	value, err := c.store.Get(prefix, key)
	if errors.Is(err, ErrKeyNotFound) {
		c.reads.Add(composed, cachedRead{found: false}, *readCacheTtl)
		return nil, err
	}
	if err != nil { // Errors other than a miss are not cached.
		return nil, err
	}
	c.reads.Add(composed, cachedRead{value: slices.Clone(value), found: true}, *readCacheTtl)
	return value, nil
}

func (c *CachedStore) Put(prefix Prefix, key, value []byte) error {
	composed := string(prefix.Key(key))
	lock := c.keyLock(composed)
	lock.Lock()
	defer lock.Unlock()
	if err := c.store.Put(prefix, key, value); err != nil {
		c.reads.Remove(composed) // The store state is unknown now.
		return err
	}
	c.reads.Add(composed, cachedRead{value: slices.Clone(value), found: true}, *readCacheTtl)
	return nil
}

func (c *CachedStore) Delete(prefix Prefix, key []byte) error {
	composed := string(prefix.Key(key))
	lock := c.keyLock(composed)
	lock.Lock()
	defer lock.Unlock()
	if err := c.store.Delete(prefix, key); err != nil {
		c.reads.Remove(composed)
		return err
	}
	c.reads.Add(composed, cachedRead{found: false}, *readCacheTtl)
	return nil
}

// Close stops the cache reapers and closes the wrapped store.
func (c *CachedStore) Close() error {
	c.stopReaps()
	c.reads.Purge()
	return c.store.Close()
}

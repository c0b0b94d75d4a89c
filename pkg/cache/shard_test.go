package cache

import (
	"fmt"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeCache is a simple map-based implementation of the Layer interface for testing purposes. It is not thread-safe.
type fakeCache[K comparable, V any] struct {
	items map[K]V
}

// newFakeCache is the constructor for fakeCache.
func newFakeCache[K comparable, V any]() Layer[K, V] {
	return &fakeCache[K, V]{items: make(map[K]V)}
}

func (m *fakeCache[K, V]) Get(key K) (V, bool /*found*/) {
	val, found := m.items[key]
	return val, found
}

// Add always returns false as it doesn't support eviction.
func (m *fakeCache[K, V]) Add(key K, value V, _ time.Duration) bool {
	m.items[key] = value
	return false
}

func (m *fakeCache[K, V]) Remove(key K) bool {
	_, found := m.items[key]
	delete(m.items, key)
	return found
}

func (m *fakeCache[K, V]) Keys() []K {
	return slices.Collect(maps.Keys(m.items))
}

func (m *fakeCache[K, V]) Purge() {
	m.items = make(map[K]V)
}

func TestSharded_AddGetRemove(t *testing.T) {
	sc := NewSharded(newFakeCache[string, []byte], 10 /*shardCount*/)
	t.Run("add_and_get", func(t *testing.T) {
		sc.Add("pgvn/0001", []byte("proposal"), time.Second)
		got, found := sc.Get("pgvn/0001")
		assert.True(t, found)
		assert.Equal(t, []byte("proposal"), got)
	})
	t.Run("get_non_existent", func(t *testing.T) {
		_, found := sc.Get("pgvn/ffff")
		assert.False(t, found)
	})
	t.Run("remove", func(t *testing.T) {
		assert.True(t, sc.Remove("pgvn/0001"))
		assert.False(t, sc.Remove("pgvn/0001"))
		_, found := sc.Get("pgvn/0001")
		assert.False(t, found)
	})
}

// TestSharded_KeyTypes tests that different key types are hashed and handled correctly.
func TestSharded_KeyTypes(t *testing.T) {
	type regID struct {
		Height uint32
		Index  uint16
	}
	t.Run("string", func(t *testing.T) {
		sc := NewSharded(newFakeCache[string, string], 8)
		sc.Add("sgov", "governers", time.Second)
		got, found := sc.Get("sgov")
		assert.True(t, found)
		assert.Equal(t, "governers", got)
	})
	t.Run("int", func(t *testing.T) {
		sc := NewSharded(newFakeCache[int, int], 8)
		sc.Add(42, 999, time.Second)
		got, found := sc.Get(42)
		assert.True(t, found)
		assert.Equal(t, 999, got)
	})
	t.Run("uint64", func(t *testing.T) {
		sc := NewSharded(newFakeCache[uint64, bool], 8)
		sc.Add(uint64(7), true, time.Second)
		got, found := sc.Get(uint64(7))
		assert.True(t, found)
		assert.True(t, got)
	})
	t.Run("struct", func(t *testing.T) {
		sc := NewSharded(newFakeCache[regID, string], 8)
		sc.Add(regID{Height: 100, Index: 2}, "genesis", time.Second)
		got, found := sc.Get(regID{Height: 100, Index: 2})
		assert.True(t, found)
		assert.Equal(t, "genesis", got)
	})
}

func TestSharded_Keys(t *testing.T) {
	sc := NewSharded(newFakeCache[string, int], 4 /*shardCount*/)
	expectedKeys := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i, key := range expectedKeys {
		sc.Add(key, i, time.Second)
	}
	assert.ElementsMatch(t, expectedKeys, sc.Keys())
}

func TestSharded_Purge(t *testing.T) {
	sc := NewSharded(newFakeCache[int, string], 5)
	keysToAdd := []int{1, 10, 100, 1000}
	for _, key := range keysToAdd {
		sc.Add(key, "some value", time.Second)
	}
	assert.Len(t, sc.Keys(), len(keysToAdd), "Incorrect number of keys before purge")

	sc.Purge()
	assert.Empty(t, sc.Keys(), "Expected keys to be empty after purge")
	_, found := sc.Get(keysToAdd[0])
	assert.False(t, found, "Expected key to be gone after purge")
}

// TestSharded_Distribution verifies that keys are distributed across multiple shards.
func TestSharded_Distribution(t *testing.T) {
	shardCount := 10
	sc := NewSharded(newFakeCache[string, int], shardCount)
	// keyCount should be large enough compared to shardCount so it becomes virtually impossible to have a shard with
	// less than 50% of `keyCount/shardCount` keys.
	keyCount := 100_000
	for i := range keyCount {
		sc.Add(fmt.Sprintf("sgvn/%064x", i), i, time.Second)
	}
	for _, shard := range sc.shards {
		assert.Greater(t, len(shard.Keys()), keyCount/(2*shardCount),
			"Expected keys in each shard to be at least half the keys compared to the uniform distribution.")
	}
}

// TestSharded_StableMapping makes sure two instances route the same key to the same shard index.
func TestSharded_StableMapping(t *testing.T) {
	first := NewSharded(newFakeCache[string, int], 10 /*shardCount*/)
	second := NewSharded(newFakeCache[string, int], 10 /*shardCount*/)
	for i := range 100 {
		key := fmt.Sprintf("key-%d", i)
		assert.Equal(t, first.hash(key)%10, second.hash(key)%10)
	}
}

func TestNewSharded_InvalidShardCount(t *testing.T) {
	sc := NewSharded(newFakeCache[string, int], 0 /*shardCount*/)
	assert.Len(t, sc.shards, 1)
}

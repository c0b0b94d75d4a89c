package kvcache

import (
	"errors"
	"testing"

	"github.com/nobletooth/govcache/pkg/codec"
	"github.com/nobletooth/govcache/pkg/storage"
	"github.com/nobletooth/govcache/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	promclient "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails writes while `failWrites` is set and counts reads reaching the wrapped store.
type flakyStore struct {
	*storage.MemStore
	gets       int
	failWrites error
}

func (f *flakyStore) Get(prefix storage.Prefix, key []byte) ([]byte, error) {
	f.gets++
	return f.MemStore.Get(prefix, key)
}

func (f *flakyStore) Put(prefix storage.Prefix, key, value []byte) error {
	if f.failWrites != nil {
		return f.failWrites
	}
	return f.MemStore.Put(prefix, key, value)
}

func (f *flakyStore) Delete(prefix storage.Prefix, key []byte) error {
	if f.failWrites != nil {
		return f.failWrites
	}
	return f.MemStore.Delete(prefix, key)
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemStore: storage.NewMemStore()}
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &promclient.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func newStringTable(store storage.Store) *CompositeCache[string, string] {
	return NewCompositeCache[string, string](storage.GovernProposal, codec.RLP[string]{}, codec.RLP[string]{}, store)
}

func mustEncode(t *testing.T, value string) []byte {
	t.Helper()
	encoded, err := codec.RLP[string]{}.Encode(value)
	require.NoError(t, err)
	return encoded
}

func TestSimpleCache(t *testing.T) {
	store := newFlakyStore()
	root := NewSimpleCache[[]uint64](storage.SysGovern, codec.RLP[[]uint64]{}, store)

	_, found := root.GetData()
	assert.False(t, found)
	assert.False(t, root.HaveData())

	t.Run("last_set_wins", func(t *testing.T) {
		require.NoError(t, root.SetData([]uint64{1}))
		require.NoError(t, root.SetData([]uint64{2, 3}))
		value, found := root.GetData()
		require.True(t, found)
		assert.Equal(t, []uint64{2, 3}, value)

		require.NoError(t, root.Flush())
		assert.Zero(t, root.GetCacheSize())
		stored, err := store.MemStore.Get(storage.SysGovern, nil)
		require.NoError(t, err)
		decoded, err := codec.RLP[[]uint64]{}.Decode(stored)
		require.NoError(t, err)
		assert.Equal(t, []uint64{2, 3}, decoded)
	})
	t.Run("empty_value_is_still_data", func(t *testing.T) {
		child := NewSimpleCacheView(root)
		require.NoError(t, child.SetData([]uint64{}))
		assert.True(t, child.HaveData())
		value, found := child.GetData()
		assert.True(t, found)
		assert.Empty(t, value)
	})
	t.Run("erase_shadows_parent", func(t *testing.T) {
		child := NewSimpleCacheView(root)
		require.NoError(t, child.EraseData())
		assert.False(t, child.HaveData())
		assert.True(t, root.HaveData())

		require.NoError(t, child.Flush())
		assert.False(t, root.HaveData())
		require.NoError(t, root.Flush())
		_, err := store.MemStore.Get(storage.SysGovern, nil)
		assert.ErrorIs(t, err, storage.ErrKeyNotFound)
	})
}

func TestCompositeCache_ReadThrough(t *testing.T) {
	store := newFlakyStore()
	require.NoError(t, store.MemStore.Put(storage.GovernProposal, mustEncode(t, "k"), mustEncode(t, "v")))
	cache := newStringTable(store)

	for range 3 {
		value, found := cache.GetData("k")
		require.True(t, found)
		assert.Equal(t, "v", value)
	}
	assert.Equal(t, 1, store.gets)

	t.Run("misses_are_remembered", func(t *testing.T) {
		for range 3 {
			assert.False(t, cache.HaveData("absent"))
		}
		assert.Equal(t, 2, store.gets)
	})
	t.Run("clean_entries_are_not_flushed", func(t *testing.T) {
		store.failWrites = errors.New("read only")
		t.Cleanup(func() { store.failWrites = nil })
		assert.NoError(t, cache.Flush())
		assert.Zero(t, cache.GetCacheSize())
	})
}

func TestCompositeCache_TombstonePropagation(t *testing.T) {
	store := newFlakyStore()
	root := newStringTable(store)
	require.NoError(t, root.SetData("k", "v"))
	require.NoError(t, root.Flush())

	parent := NewCompositeCacheView(root)
	child := NewCompositeCacheView(parent)
	value, found := child.GetData("k")
	require.True(t, found)
	assert.Equal(t, "v", value)

	require.NoError(t, child.EraseData("k"))
	assert.False(t, child.HaveData("k"))
	assert.True(t, parent.HaveData("k"))

	require.NoError(t, child.Flush())
	assert.False(t, parent.HaveData("k"))
	assert.True(t, root.HaveData("k"))

	require.NoError(t, parent.Flush())
	require.NoError(t, root.Flush())
	_, err := store.MemStore.Get(storage.GovernProposal, mustEncode(t, "k"))
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	t.Run("set_after_erase_revives", func(t *testing.T) {
		view := NewCompositeCacheView(root)
		require.NoError(t, view.EraseData("k"))
		require.NoError(t, view.SetData("k", "again"))
		value, found := view.GetData("k")
		require.True(t, found)
		assert.Equal(t, "again", value)
	})
}

func TestCompositeCache_SetBase(t *testing.T) {
	oldRoot, newRoot := newStringTable(storage.NewMemStore()), newStringTable(storage.NewMemStore())
	require.NoError(t, newRoot.SetData("k", "from new root"))

	child := NewCompositeCacheView(oldRoot)
	require.NoError(t, child.SetData("local", "kept"))
	assert.False(t, child.HaveData("k"), "read through the old root before rebinding")
	child.SetBase(newRoot)

	value, found := child.GetData("k")
	require.True(t, found)
	assert.Equal(t, "from new root", value)
	assert.True(t, child.HaveData("local"))

	require.NoError(t, child.Flush())
	assert.True(t, newRoot.HaveData("local"))
	assert.False(t, oldRoot.HaveData("local"))

	t.Run("rebinding_drops_only_read_through_entries", func(t *testing.T) {
		require.NoError(t, oldRoot.SetData("shared", "old"))
		view := NewCompositeCacheView(oldRoot)
		value, _ := view.GetData("shared")
		require.Equal(t, "old", value)
		require.NoError(t, view.SetData("pending", "write"))
		sizeBefore := view.GetCacheSize()

		view.SetBase(newRoot)
		assert.Less(t, view.GetCacheSize(), sizeBefore)
		assert.False(t, view.HaveData("shared"))
		assert.True(t, view.HaveData("pending"))
	})
	t.Run("nil_parent_raises_invariant", func(t *testing.T) {
		prevTestMode := utils.IsTestMode
		utils.IsTestMode = true
		t.Cleanup(func() { utils.IsTestMode = prevTestMode })

		view := NewCompositeCacheView(newRoot)
		assert.PanicsWithValue(t, "invariant violated: nil_base", func() { view.SetBase(nil) })
		assert.True(t, view.HaveData("k"))
	})
}

func TestCompositeCache_Size(t *testing.T) {
	cache := newStringTable(storage.NewMemStore())
	assert.Zero(t, cache.GetCacheSize())

	prev := 0
	for _, key := range []string{"a", "bb", "ccc", "dddd"} {
		require.NoError(t, cache.SetData(key, "value"))
		size := cache.GetCacheSize()
		assert.Greater(t, size, prev)
		prev = size
	}
	t.Run("overwrites_replace_accounting", func(t *testing.T) {
		require.NoError(t, cache.SetData("a", "value"))
		assert.Equal(t, prev, cache.GetCacheSize())
	})
	require.NoError(t, cache.Flush())
	assert.Zero(t, cache.GetCacheSize())
}

func TestCompositeCache_FlushFailureKeepsDirtyEntries(t *testing.T) {
	store := newFlakyStore()
	cache := newStringTable(store)
	require.NoError(t, cache.SetData("a", "1"))
	require.NoError(t, cache.SetData("b", "2"))

	store.failWrites = errors.New("disk full")
	err := cache.Flush()
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.Positive(t, cache.GetCacheSize())
	assert.Zero(t, store.Len())

	store.failWrites = nil
	require.NoError(t, cache.Flush())
	assert.Zero(t, cache.GetCacheSize())
	assert.Equal(t, 2, store.Len())
}

// A stored value that doesn't decode is indistinguishable from an absent one for GetData callers. It's a store
// condition, not a bug here, so it holds in test mode too.
func TestCompositeCache_UndecodableValueReadsAsAbsent(t *testing.T) {
	prevTestMode := utils.IsTestMode
	utils.IsTestMode = true
	t.Cleanup(func() { utils.IsTestMode = prevTestMode })

	store := storage.NewMemStore()
	require.NoError(t, store.Put(storage.GovernProposal, mustEncode(t, "k"), []byte{0xC0} /*rlp empty list*/))
	cache := newStringTable(store)

	failures := decodeFailuresMetric.WithLabelValues(string(storage.GovernProposal))
	prev := counterValue(t, failures)
	value, found := cache.GetData("k")
	assert.False(t, found)
	assert.Empty(t, value)
	assert.False(t, cache.HaveData("k"))
	assert.Equal(t, prev+2, counterValue(t, failures))
}

package kvcache

import (
	"errors"
	"testing"

	"github.com/nobletooth/govcache/pkg/codec"
	"github.com/nobletooth/govcache/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpLog(t *testing.T) {
	log := NewOpLog()
	assert.Zero(t, log.Len())
	assert.Empty(t, log.Prefixes())

	log.Record(Op{Prefix: storage.GovernSecond, Key: []byte("a")})
	log.Record(Op{Prefix: storage.SysGovern})
	log.Record(Op{Prefix: storage.GovernSecond, Key: []byte("b")})
	assert.Equal(t, 3, log.Len())
	assert.Equal(t, []storage.Prefix{storage.GovernSecond, storage.SysGovern}, log.Prefixes())

	ops := log.Ops()
	ops[0].Key = []byte("mutated")
	assert.Equal(t, []byte("a"), log.Ops()[0].Key)

	log.Reset()
	assert.Zero(t, log.Len())
}

func TestUndoRegistry_Rollback(t *testing.T) {
	store := storage.NewMemStore()
	require.NoError(t, store.Put(storage.GovernProposal, mustEncode(t, "k"), mustEncode(t, "v0")))
	proposals := newStringTable(store)
	governers := NewSimpleCache[[]uint64](storage.SysGovern, codec.RLP[[]uint64]{}, store)

	log := NewOpLog()
	proposals.SetOpLog(log)
	governers.SetOpLog(log)
	registry := NewUndoRegistry()
	proposals.RegisterUndoFunc(registry)
	governers.RegisterUndoFunc(registry)

	require.NoError(t, proposals.SetData("k", "v1"))
	require.NoError(t, proposals.SetData("k", "v2"))
	require.NoError(t, proposals.SetData("new", "x"))
	require.NoError(t, governers.SetData([]uint64{7}))
	require.NoError(t, proposals.EraseData("k"))
	require.Equal(t, 5, log.Len())

	// The first write records the state it found: v0 from the store.
	first := log.Ops()[0]
	assert.Equal(t, storage.GovernProposal, first.Prefix)
	assert.Equal(t, Prior{Value: mustEncode(t, "v0"), Existed: true}, first.Prior)

	require.NoError(t, registry.Rollback(log))
	assert.Zero(t, log.Len())

	value, found := proposals.GetData("k")
	require.True(t, found)
	assert.Equal(t, "v0", value)
	assert.False(t, proposals.HaveData("new"))
	assert.False(t, governers.HaveData())

	t.Run("undo_writes_are_not_logged", func(t *testing.T) {
		assert.Zero(t, log.Len())
	})
	t.Run("flush_after_rollback_restores_store", func(t *testing.T) {
		require.NoError(t, proposals.Flush())
		require.NoError(t, governers.Flush())
		stored, err := store.Get(storage.GovernProposal, mustEncode(t, "k"))
		require.NoError(t, err)
		assert.Equal(t, mustEncode(t, "v0"), stored)
		_, err = store.Get(storage.GovernProposal, mustEncode(t, "new"))
		assert.ErrorIs(t, err, storage.ErrKeyNotFound)
		assert.Equal(t, 1, store.Len())
	})
}

func TestUndoRegistry_MissingRegistration(t *testing.T) {
	proposals := newStringTable(storage.NewMemStore())
	log := NewOpLog()
	proposals.SetOpLog(log)
	require.NoError(t, proposals.SetData("k", "v"))

	registry := NewUndoRegistry()
	assert.ErrorIs(t, registry.Verify(storage.KnownPrefixes()...), ErrMissingUndoFunc)

	err := registry.Rollback(log)
	assert.ErrorIs(t, err, ErrMissingUndoFunc)
	assert.Equal(t, 1, log.Len())
	assert.True(t, proposals.HaveData("k"), "nothing is undone when a prefix has no undo func")
}

func TestUndoRegistry_RegisterOverwrites(t *testing.T) {
	registry := NewUndoRegistry()
	var calls []string
	registry.Register(storage.GovernSecond, func([]byte, Prior) error { calls = append(calls, "first"); return nil })
	registry.Register(storage.GovernSecond, func([]byte, Prior) error { calls = append(calls, "second"); return nil })
	assert.NoError(t, registry.Verify(storage.GovernSecond))

	log := NewOpLog()
	log.Record(Op{Prefix: storage.GovernSecond})
	require.NoError(t, registry.Rollback(log))
	assert.Equal(t, []string{"second"}, calls)

	t.Run("failing_undo_keeps_log", func(t *testing.T) {
		registry.Register(storage.GovernSecond, func([]byte, Prior) error { return errors.New("boom") })
		log.Record(Op{Prefix: storage.GovernSecond})
		assert.ErrorContains(t, registry.Rollback(log), "boom")
		assert.Equal(t, 1, log.Len())
	})
}

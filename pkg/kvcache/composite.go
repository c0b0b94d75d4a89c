package kvcache

import (
	"fmt"

	"github.com/nobletooth/govcache/pkg/codec"
	"github.com/nobletooth/govcache/pkg/storage"
	"github.com/nobletooth/govcache/pkg/utils"
)

// CompositeCache is a cache layer over a keyed table. Keys and values are encoded with their codecs; the overlay
// holds encoded bytes so layers of the same table can be stacked regardless of key type.
type CompositeCache[K any, V any] struct {
	layer
	keyCodec   codec.Codec[K]
	valueCodec codec.Codec[V]
}

// NewCompositeCache returns a root CompositeCache reading through to, and flushing into, `store`.
func NewCompositeCache[K any, V any](
	prefix storage.Prefix, keyCodec codec.Codec[K], valueCodec codec.Codec[V], store storage.Store,
) *CompositeCache[K, V] {
	if store == nil {
		utils.RaiseInvariant("kvcache", "nil_store", "Root cache created without a store.", "prefix", prefix)
	}
	return &CompositeCache[K, V]{
		layer:      newLayer(prefix, storeBase{store: store, prefix: prefix}),
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
	}
}

// NewCompositeCacheView returns a CompositeCache layered over `parent`.
func NewCompositeCacheView[K any, V any](parent *CompositeCache[K, V]) *CompositeCache[K, V] {
	return &CompositeCache[K, V]{
		layer:      newLayer(parent.prefix, parent),
		keyCodec:   parent.keyCodec,
		valueCodec: parent.valueCodec,
	}
}

func (c *CompositeCache[K, V]) encodeKey(key K) ([]byte, error) {
	encoded, err := c.keyCodec.Encode(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s key: %w", c.prefix, err)
	}
	return encoded, nil
}

// GetData returns the value of `key` and whether it exists. A key or value that fails to encode / decode is
// reported as absent.
func (c *CompositeCache[K, V]) GetData(key K) (V, bool) {
	encodedKey, err := c.encodeKey(key)
	if err != nil {
		utils.RaiseInvariant("kvcache", "unencodable_key", "Failed to encode lookup key.", "error", err)
		return *new(V), false
	}
	return decodeLoaded(&c.layer, encodedKey, c.valueCodec)
}

// HaveData reports whether `key` exists.
func (c *CompositeCache[K, V]) HaveData(key K) bool {
	_, found := c.GetData(key)
	return found
}

// SetData stores `value` under `key`. Returns an error, leaving the cache unchanged, if either can't be encoded.
func (c *CompositeCache[K, V]) SetData(key K, value V) error {
	encodedKey, err := c.encodeKey(key)
	if err != nil {
		return err
	}
	encodedValue, err := c.valueCodec.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s value: %w", c.prefix, err)
	}
	return c.write(encodedKey, encodedValue, false /*deleted*/)
}

// EraseData deletes `key`, leaving a tombstone that shadows the base until flushed.
func (c *CompositeCache[K, V]) EraseData(key K) error {
	encodedKey, err := c.encodeKey(key)
	if err != nil {
		return err
	}
	return c.write(encodedKey, nil, true /*deleted*/)
}

// Flush writes dirty entries into the base and clears this layer.
func (c *CompositeCache[K, V]) Flush() error {
	return c.flush()
}

// SetBase rebinds this layer to `parent`; pending writes are kept, read-through entries are dropped.
func (c *CompositeCache[K, V]) SetBase(parent *CompositeCache[K, V]) {
	if parent == nil {
		utils.RaiseInvariant("kvcache", "nil_base", "Rebinding a cache layer to a nil parent.", "prefix", c.prefix)
		return
	}
	if parent.prefix != c.prefix {
		utils.RaiseInvariant("kvcache", "prefix_mismatch", "Rebinding a cache to a parent of another table.",
			"prefix", c.prefix, "parent_prefix", parent.prefix)
		return
	}
	c.setBase(parent)
}

// SetOpLog attaches the op log that records the prior state of every write; nil detaches it.
func (c *CompositeCache[K, V]) SetOpLog(log *OpLog) {
	c.opLog = log
}

// RegisterUndoFunc installs this layer as the reverse function of its prefix.
func (c *CompositeCache[K, V]) RegisterUndoFunc(registry *UndoRegistry) {
	registry.Register(c.prefix, c.undo)
}

// GetCacheSize returns the approximate number of bytes held by this layer.
func (c *CompositeCache[K, V]) GetCacheSize() int {
	return c.bytes
}

// Prefix returns the table this cache covers.
func (c *CompositeCache[K, V]) Prefix() storage.Prefix {
	return c.prefix
}

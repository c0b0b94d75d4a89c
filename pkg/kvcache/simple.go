package kvcache

import (
	"fmt"
	"log/slog"

	"github.com/nobletooth/govcache/pkg/codec"
	"github.com/nobletooth/govcache/pkg/storage"
	"github.com/nobletooth/govcache/pkg/utils"
)

// singleKey is the table key of single-value tables; the stored key is just the prefix.
var singleKey = []byte{}

// SimpleCache is a cache layer over a table that holds one value under its prefix.
type SimpleCache[V any] struct {
	layer
	codec codec.Codec[V]
}

// NewSimpleCache returns a root SimpleCache reading through to, and flushing into, `store`.
func NewSimpleCache[V any](prefix storage.Prefix, valueCodec codec.Codec[V], store storage.Store) *SimpleCache[V] {
	if store == nil {
		utils.RaiseInvariant("kvcache", "nil_store", "Root cache created without a store.", "prefix", prefix)
	}
	return &SimpleCache[V]{layer: newLayer(prefix, storeBase{store: store, prefix: prefix}), codec: valueCodec}
}

// NewSimpleCacheView returns a SimpleCache layered over `parent`.
func NewSimpleCacheView[V any](parent *SimpleCache[V]) *SimpleCache[V] {
	return &SimpleCache[V]{layer: newLayer(parent.prefix, parent), codec: parent.codec}
}

// GetData returns the value and whether it exists. A value that fails to decode is reported as absent.
func (c *SimpleCache[V]) GetData() (V, bool) {
	return decodeLoaded(&c.layer, singleKey, c.codec)
}

// HaveData reports whether the value exists.
func (c *SimpleCache[V]) HaveData() bool {
	_, found := c.GetData()
	return found
}

// SetData stores `value`. Returns an error, leaving the cache unchanged, if it can't be encoded.
func (c *SimpleCache[V]) SetData(value V) error {
	encoded, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s value: %w", c.prefix, err)
	}
	return c.write(singleKey, encoded, false /*deleted*/)
}

// EraseData deletes the value.
func (c *SimpleCache[V]) EraseData() error {
	return c.write(singleKey, nil, true /*deleted*/)
}

// Flush writes the dirty value into the base and clears this layer.
func (c *SimpleCache[V]) Flush() error {
	return c.flush()
}

// SetBase rebinds this layer to `parent`; pending writes are kept, read-through entries are dropped.
func (c *SimpleCache[V]) SetBase(parent *SimpleCache[V]) {
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
func (c *SimpleCache[V]) SetOpLog(log *OpLog) {
	c.opLog = log
}

// RegisterUndoFunc installs this layer as the reverse function of its prefix.
func (c *SimpleCache[V]) RegisterUndoFunc(registry *UndoRegistry) {
	registry.Register(c.prefix, c.undo)
}

// GetCacheSize returns the approximate number of bytes held by this layer.
func (c *SimpleCache[V]) GetCacheSize() int {
	return c.bytes
}

// Prefix returns the table this cache covers.
func (c *SimpleCache[V]) Prefix() storage.Prefix {
	return c.prefix
}

// decodeLoaded loads `key` through `l` and decodes it. Load and decode failures are logged and reported as absent;
// a corrupt store is an external condition, so it's counted rather than raised as an invariant.
func decodeLoaded[V any](l *layer, key []byte, valueCodec codec.Codec[V]) (V, bool) {
	encoded, found, err := l.load(key)
	if err != nil {
		slog.Error("Failed to load value.", "prefix", l.prefix, "key", fmt.Sprintf("%x", key), "error", err)
		return *new(V), false
	}
	if !found {
		return *new(V), false
	}
	value, err := valueCodec.Decode(encoded)
	if err != nil {
		decodeFailuresMetric.WithLabelValues(string(l.prefix)).Inc()
		slog.Error("Failed to decode stored value.", "prefix", l.prefix, "key", fmt.Sprintf("%x", key), "error", err)
		return *new(V), false
	}
	return value, true
}

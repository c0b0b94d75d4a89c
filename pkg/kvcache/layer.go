// Governance state is read and written through stacked, copy-on-write cache layers. A layer keeps an overlay of
// encoded entries in memory and falls back to its base on a miss: either a parent layer (speculative state such as
// one block or one transaction) or the backing store (committed state). Flushing a layer pushes its dirty entries
// one level down and clears the overlay.
//
// Overlay entries have three states: not in the map (unknown, ask the base), present, or deleted (a tombstone).
// Tombstones let a deletion in a child shadow a value that's still in the parent or the store without re-reading
// it. Entries read through from the base are kept clean; only writes mark an entry dirty.
//
// Layers are not safe for concurrent use. One layer stack belongs to one execution context at a time; parallel
// validations build independent stacks over the same store.

package kvcache

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/nobletooth/govcache/pkg/storage"
	"github.com/nobletooth/govcache/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_lookups_total",
		Help: "Total number of cache layer lookups by where they were answered.",
	}, []string{"prefix", "source" /* overlay | base */})
	flushedEntriesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_flushed_entries_total",
		Help: "Total number of dirty entries flushed into a base.",
	}, []string{"prefix", "op" /* put | delete */})
	decodeFailuresMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kvcache_decode_failures_total",
		Help: "Total number of stored values that failed to decode and were reported as absent.",
	}, []string{"prefix"})
)

// base is what a layer reads through to and flushes into.
type base interface {
	// load returns the value of `key` as seen by this base; found is false if it's absent.
	load(key []byte) (value []byte, found bool, err error)
	// commit writes the entry into this base without recording undo ops.
	commit(key, value []byte, deleted bool) error
}

// storeBase adapts the backing store to a base of one prefix.
type storeBase struct {
	store  storage.Store
	prefix storage.Prefix
}

func (s storeBase) load(key []byte) ([]byte, bool, error) {
	value, err := s.store.Get(s.prefix, key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s%x from store: %w", s.prefix, key, err)
	}
	return value, true, nil
}

func (s storeBase) commit(key, value []byte, deleted bool) error {
	if deleted {
		return s.store.Delete(s.prefix, key)
	}
	return s.store.Put(s.prefix, key, value)
}

type entry struct {
	value   []byte // nil for tombstones.
	deleted bool
	dirty   bool // Written in this layer and not flushed yet.
}

func (e *entry) size(key string) int {
	return len(key) + len(e.value)
}

// layer is the untyped overlay shared by SimpleCache and CompositeCache.
type layer struct { // Implements base.
	prefix  storage.Prefix
	base    base
	entries map[string]*entry
	bytes   int     // Sum of key and value sizes held in entries.
	opLog   *OpLog // Optional; when set, writes record the prior state of their key.
}

var _ base = (*layer)(nil)

func newLayer(prefix storage.Prefix, b base) layer {
	if err := prefix.Validate(); err != nil {
		utils.RaiseInvariant("kvcache", "unknown_prefix", "Cache layer created with an unknown prefix.",
			"prefix", prefix, "error", err)
	}
	return layer{prefix: prefix, base: b, entries: make(map[string]*entry)}
}

// put replaces the overlay entry of `key`, keeping the size accounting right.
func (l *layer) put(key string, e *entry) {
	if prev, exists := l.entries[key]; exists {
		l.bytes -= prev.size(key)
	}
	l.entries[key] = e
	l.bytes += e.size(key)
}

func (l *layer) load(key []byte) ([]byte, bool, error) {
	if e, exists := l.entries[string(key)]; exists {
		lookupsMetric.WithLabelValues(string(l.prefix), "overlay").Inc()
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	if l.base == nil {
		return nil, false, utils.InvariantError("kvcache", "nil_base", "Cache layer has no base to read from.",
			"prefix", l.prefix)
	}
	lookupsMetric.WithLabelValues(string(l.prefix), "base").Inc()
	value, found, err := l.base.load(key)
	if err != nil {
		return nil, false, err
	}
	// Read-through: remember the answer, clean, so the next lookup stays in this layer.
	l.put(string(key), &entry{value: value, deleted: !found})
	return value, found, nil
}

func (l *layer) commit(key, value []byte, deleted bool) error {
	if deleted {
		value = nil
	}
	l.put(string(key), &entry{value: slices.Clone(value), deleted: deleted, dirty: true})
	return nil
}

// write is a user write: it records the prior state of the key when an op log is attached, then commits.
func (l *layer) write(key, value []byte, deleted bool) error {
	if l.opLog != nil {
		prior, existed, err := l.load(key)
		if err != nil {
			return fmt.Errorf("failed to read prior state of %s%x: %w", l.prefix, key, err)
		}
		l.opLog.Record(Op{
			Prefix: l.prefix,
			Key:    slices.Clone(key),
			Prior:  Prior{Value: slices.Clone(prior), Existed: existed},
		})
	}
	return l.commit(key, value, deleted)
}

// undo restores `key` to its recorded prior state; restoring doesn't record new ops.
func (l *layer) undo(key []byte, prior Prior) error {
	return l.commit(key, prior.Value, !prior.Existed)
}

// flush commits dirty entries into the base in key order and clears the overlay. Entries that fail to commit stay
// dirty so a later flush can retry them.
func (l *layer) flush() error {
	if l.base == nil {
		return utils.InvariantError("kvcache", "nil_base", "Cache layer has no base to flush into.",
			"prefix", l.prefix)
	}
	keys := slices.Sorted(maps.Keys(l.entries))
	var errs error
	for _, key := range keys {
		e := l.entries[key]
		if e.dirty {
			if err := l.base.commit([]byte(key), e.value, e.deleted); err != nil {
				errs = errors.Join(errs, fmt.Errorf("failed to flush %s%x: %w", l.prefix, key, err))
				continue
			}
			op := "put"
			if e.deleted {
				op = "delete"
			}
			flushedEntriesMetric.WithLabelValues(string(l.prefix), op).Inc()
		}
		l.bytes -= e.size(key)
		delete(l.entries, key)
	}
	return errs
}

// setBase rebinds the layer to `b`. Pending writes are kept; entries read through from the old base are dropped so
// the next lookup resolves through the new one.
func (l *layer) setBase(b base) {
	if b == nil {
		utils.RaiseInvariant("kvcache", "nil_base", "Rebinding a cache layer to a nil base.", "prefix", l.prefix)
		return
	}
	for key, e := range l.entries {
		if !e.dirty {
			l.bytes -= e.size(key)
			delete(l.entries, key)
		}
	}
	l.base = b
}

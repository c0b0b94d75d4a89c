// LevelStore is the default durable backing store. Governance lookups miss often (a proposal nobody assented to
// yet, a governer list that was never configured), so a bloom filter of present keys answers most misses without
// touching disk. The filter is rebuilt from a full key scan on open; deletes can't be removed from a bloom filter
// and only cost a false positive.

package storage

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nobletooth/govcache/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/syndtr/goleveldb/leveldb"
)

var (
	bloomExpectedKeys = flag.Uint("store_bloom_expected_keys", 100_000,
		"Expected number of keys in the leveldb store; sizes the negative lookup bloom filter.")
	bloomFalsePositiveRate = flag.Float64("store_bloom_false_positive_rate", 0.01,
		"Target false positive rate of the leveldb negative lookup bloom filter.")

	bloomSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_bloom_skips_total",
		Help: "Total number of leveldb reads answered as absent by the bloom filter.",
	})
)

// LevelStore is a persistent Store on top of LevelDB.
type LevelStore struct { // Implements Store.
	db     *leveldb.DB
	mux    sync.RWMutex // Protects filter.
	filter *bloom.BloomFilter
}

var _ Store = (*LevelStore)(nil)

// NewLevelStore creates or opens a LevelDB database at `path` and loads its keys into the bloom filter.
func NewLevelStore(path string) (*LevelStore, error) {
	if *bloomExpectedKeys == 0 || *bloomFalsePositiveRate <= 0 || *bloomFalsePositiveRate >= 1 {
		return nil, fmt.Errorf("invalid bloom settings: expected_keys=%d false_positive_rate=%f",
			*bloomExpectedKeys, *bloomFalsePositiveRate)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	store := &LevelStore{db: db, filter: bloom.NewWithEstimates(*bloomExpectedKeys, *bloomFalsePositiveRate)}
	if err := store.loadFilter(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// loadFilter adds every existing key to the bloom filter.
func (l *LevelStore) loadFilter() error {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	keys := 0
	for iter.Next() {
		l.filter.Add(iter.Key())
		keys++
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to scan leveldb keys: %w", err)
	}
	if uint(keys) > *bloomExpectedKeys {
		slog.Warn("LevelDB holds more keys than the bloom filter was sized for.",
			"keys", keys, "expectedKeys", *bloomExpectedKeys)
	}
	slog.Debug("Loaded leveldb bloom filter.", "keys", keys)
	return nil
}

func (l *LevelStore) mayContain(composed []byte) bool {
	l.mux.RLock()
	defer l.mux.RUnlock()
	return l.filter.Test(composed)
}

func (l *LevelStore) Get(prefix Prefix, key []byte) ([]byte, error) {
	composed := prefix.Key(key)
	if !l.mayContain(composed) {
		bloomSkips.Inc()
		return nil, fmt.Errorf("%w: %s%x", ErrKeyNotFound, prefix, key)
	}
	value, err := l.db.Get(composed, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s%x", ErrKeyNotFound, prefix, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s%x from leveldb: %w", prefix, key, err)
	}
	return value, nil
}

func (l *LevelStore) Put(prefix Prefix, key, value []byte) error {
	if err := prefix.Validate(); err != nil {
		return err
	}
	composed := prefix.Key(key)
	// The key enters the filter before the write lands, so a concurrent reader never skips a present key.
	l.mux.Lock()
	l.filter.Add(composed)
	l.mux.Unlock()
	if err := l.db.Put(composed, value, nil); err != nil {
		return fmt.Errorf("failed to write %s%x to leveldb: %w", prefix, key, err)
	}
	return nil
}

func (l *LevelStore) Delete(prefix Prefix, key []byte) error {
	if err := prefix.Validate(); err != nil {
		return err
	}
	if err := l.db.Delete(prefix.Key(key), nil); err != nil {
		return fmt.Errorf("failed to delete %s%x from leveldb: %w", prefix, key, err)
	}
	return nil
}

func (l *LevelStore) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	if err := l.db.Close(); err != nil {
		utils.RaiseInvariant("leveldb", "close_failed", "Failed to close leveldb.", "error", err)
		return err
	}
	return nil
}

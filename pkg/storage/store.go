// The backing store is the durable key-value store under the root cache layer. It only knows about prefixes and
// raw bytes; encoding domain values is the cache layers' job.

package storage

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"
)

var ErrKeyNotFound = errors.New("key was not found")

var (
	dataDir      = flag.String("data_dir", "./data", "Directory to store the governance state files.")
	storeBackend = flag.String("store_backend", string(BackendLevelDB), "Backing store: leveldb/bolt/memory.")
)

// Backend names a Store implementation selectable by the --store_backend flag.
type Backend string

const (
	BackendLevelDB Backend = "leveldb"
	BackendBolt    Backend = "bolt"
	BackendMemory  Backend = "memory"
)

// Store is the backing store contract consumed by the root cache layers. Get returns ErrKeyNotFound (possibly
// wrapped) when the key is absent. Implementations must be safe for concurrent use; independent cache-layer
// stacks may share one store.
type Store interface {
	Get(prefix Prefix, key []byte) ([]byte, error)
	Put(prefix Prefix, key, value []byte) error
	Delete(prefix Prefix, key []byte) error
	Close() error
}

// Open opens the store configured by --store_backend and --data_dir, wrapped in the read cache if enabled.
func Open() (Store, error) {
	var (
		store Store
		err   error
	)
	switch Backend(*storeBackend) {
	case BackendLevelDB:
		if *dataDir == "" {
			return nil, errors.New("--data_dir flag is required")
		}
		store, err = NewLevelStore(filepath.Join(*dataDir, "leveldb"))
	case BackendBolt:
		if *dataDir == "" {
			return nil, errors.New("--data_dir flag is required")
		}
		store, err = NewBoltStore(filepath.Join(*dataDir, "govern.bolt"))
	case BackendMemory:
		store = NewMemStore()
	default:
		return nil, fmt.Errorf("unsupported --store_backend %q", *storeBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", *storeBackend, err)
	}
	slog.Info("Opened backing store.", "backend", *storeBackend, "dataDir", *dataDir)
	return NewCachedStore(store), nil
}

package storage

import (
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore is a persistent Store on top of bbolt with one bucket per prefix.
type BoltStore struct { // Implements Store.
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the bolt file at `path` and makes sure every known prefix has a bucket.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt file %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, prefix := range knownPrefixes {
			if _, err := tx.CreateBucketIfNotExists([]byte(prefix)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// emptyKey stands in for the empty key of single-value tables, since bolt rejects empty keys.
var emptyKey = []byte{0}

func boltKey(key []byte) []byte {
	if len(key) == 0 {
		return emptyKey
	}
	return key
}

// bucket returns the bucket of `prefix` or ErrUnknownPrefix.
func bucket(tx *bolt.Tx, prefix Prefix) (*bolt.Bucket, error) {
	if err := prefix.Validate(); err != nil {
		return nil, err
	}
	b := tx.Bucket([]byte(prefix))
	if b == nil {
		return nil, fmt.Errorf("%w: no bucket for %q", ErrUnknownPrefix, string(prefix))
	}
	return b, nil
}

func (b *BoltStore) Get(prefix Prefix, key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, prefix)
		if err != nil {
			return err
		}
		raw := bkt.Get(boltKey(key))
		if raw == nil {
			return fmt.Errorf("%w: %s%x", ErrKeyNotFound, prefix, key)
		}
		// Bolt values are only valid during the transaction.
		value = slices.Clone(raw)
		return nil
	})
	return value, err
}

func (b *BoltStore) Put(prefix Prefix, key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, prefix)
		if err != nil {
			return err
		}
		return bkt.Put(boltKey(key), value)
	})
}

func (b *BoltStore) Delete(prefix Prefix, key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, prefix)
		if err != nil {
			return err
		}
		return bkt.Delete(boltKey(key))
	})
}

func (b *BoltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

package localstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

// bucketWatchlist holds every key written by BoltKV.
var bucketWatchlist = []byte("watchlist")

// boltOpenTimeout bounds the wait for another process's file lock.
const boltOpenTimeout = time.Second

// filePerms restricts the database file to the owner.
const filePerms = 0o600

// BoltKV is a KV backed by a bbolt database with a single bucket.
type BoltKV struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenBolt opens (or creates) the bbolt database at path.
func OpenBolt(path string, logger *slog.Logger) (*BoltKV, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := bolt.Open(path, filePerms, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("localstore: opening bolt db %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWatchlist)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: creating bucket: %w", err)
	}

	logger.Debug("bolt store opened", slog.String("db_path", path))

	return &BoltKV{db: db, logger: logger}, nil
}

// Get returns a copy of the value stored under key. bbolt values are only
// valid inside the transaction.
func (b *BoltKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte

	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketWatchlist).Get([]byte(key)); v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}

		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("localstore: reading %q: %w", key, err)
	}

	return value, value != nil, nil
}

// Set stores value under key.
func (b *BoltKV) Set(_ context.Context, key string, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWatchlist).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("localstore: writing %q: %w", key, err)
	}

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *BoltKV) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWatchlist).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("localstore: deleting %q: %w", key, err)
	}

	return nil
}

// Close closes the database.
func (b *BoltKV) Close() error {
	return b.db.Close()
}

// Package localstore persists the guest watchlist on the device. A small
// key-value layer (SQLite or bbolt) holds one JSON blob under a fixed key.
package localstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// dirPerms is used when creating the directory that holds the database.
const dirPerms = 0o700

// KV is a device-local string-keyed byte store. Get reports ok=false when
// the key is absent.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// OpenKV opens the key-value backend named by backend at path.
func OpenKV(backend, path string, logger *slog.Logger) (KV, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return nil, fmt.Errorf("localstore: creating directory for %s: %w", path, err)
	}

	switch backend {
	case BackendSQLite, "":
		kv, err := OpenSQLite(path, logger)
		if err != nil {
			return nil, err
		}

		return kv, nil
	case BackendBolt:
		kv, err := OpenBolt(path, logger)
		if err != nil {
			return nil, err
		}

		return kv, nil
	default:
		return nil, fmt.Errorf("localstore: unknown backend %q", backend)
	}
}

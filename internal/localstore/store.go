package localstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// WatchlistKey is the key the serialized watchlist is stored under.
const WatchlistKey = "@watchlist"

// Store adapts a KV to watchlist.LocalStore. The whole snapshot is one JSON
// array under WatchlistKey.
type Store struct {
	kv     KV
	logger *slog.Logger
}

// NewStore wraps kv. The Store owns kv; Close closes it.
func NewStore(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{kv: kv, logger: logger}
}

// Open opens the named backend at path and wraps it in a Store.
func Open(backend, path string, logger *slog.Logger) (*Store, error) {
	kv, err := OpenKV(backend, path, logger)
	if err != nil {
		return nil, err
	}

	return NewStore(kv, logger), nil
}

// Load returns the stored snapshot. A missing key or an undecodable payload
// yields an empty snapshot; entries that fail validation are dropped.
func (s *Store) Load(ctx context.Context) ([]watchlist.Entry, error) {
	data, ok, err := s.kv.Get(ctx, WatchlistKey)
	if err != nil {
		return nil, err
	}

	if !ok || len(data) == 0 {
		return nil, nil
	}

	var decoded []watchlist.Entry
	if err := json.Unmarshal(data, &decoded); err != nil {
		s.logger.Warn("local watchlist is malformed, treating as empty",
			slog.Int("bytes", len(data)),
			slog.String("error", err.Error()),
		)

		return nil, nil
	}

	entries := make([]watchlist.Entry, 0, len(decoded))

	for _, e := range decoded {
		e.Normalize()

		if err := e.Validate(); err != nil {
			s.logger.Warn("dropping invalid local entry",
				slog.Int64("external_id", e.ExternalID),
				slog.String("error", err.Error()),
			)

			continue
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// SaveAll replaces the stored snapshot with entries.
func (s *Store) SaveAll(ctx context.Context, entries []watchlist.Entry) error {
	if entries == nil {
		entries = []watchlist.Entry{}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("localstore: encoding watchlist: %w", err)
	}

	if err := s.kv.Set(ctx, WatchlistKey, data); err != nil {
		return err
	}

	s.logger.Debug("saved local watchlist", slog.Int("entries", len(entries)))

	return nil
}

// Clear removes the stored snapshot.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, WatchlistKey); err != nil {
		return err
	}

	s.logger.Debug("cleared local watchlist")

	return nil
}

// Close closes the underlying KV.
func (s *Store) Close() error {
	return s.kv.Close()
}

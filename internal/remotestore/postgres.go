package remotestore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/tonimelisma/cinelist/internal/watchlist"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlLoadRows = `
		SELECT user_id, tmdb_id, media_type, title, poster_path, overview,
		       vote_average, release_date, added_at
		FROM watchlist
		WHERE user_id = $1
		ORDER BY added_at DESC, tmdb_id`

	sqlUpsertRow = `
		INSERT INTO watchlist (id, user_id, tmdb_id, media_type, title,
		                       poster_path, overview, vote_average, release_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, tmdb_id) DO UPDATE SET
		 media_type = excluded.media_type,
		 title = excluded.title,
		 poster_path = excluded.poster_path,
		 overview = excluded.overview,
		 vote_average = excluded.vote_average,
		 release_date = excluded.release_date`

	sqlDeleteRow = `DELETE FROM watchlist WHERE user_id = $1 AND tmdb_id = $2`
)

// dbtx is the subset of *pgxpool.Pool the store needs, so tests can pass
// a pgxmock pool.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres is a watchlist.RemoteStore that talks to the watchlist table
// directly. Used for self-hosted deployments without a PostgREST gateway.
type Postgres struct {
	db     dbtx
	logger *slog.Logger
}

// NewPostgres wraps a pool (or anything with the same query methods).
func NewPostgres(db dbtx, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}

	return &Postgres{db: db, logger: logger}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("remotestore: opening pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("remotestore: connecting to database: %w", err)
	}

	return pool, nil
}

// Migrate applies pending schema migrations through a database/sql view of
// the pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("remotestore: creating migration sub-filesystem: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, subFS)
	if err != nil {
		return fmt.Errorf("remotestore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("remotestore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Load returns userID's entries, newest first.
func (p *Postgres) Load(ctx context.Context, userID string) ([]watchlist.Entry, error) {
	rows, err := p.db.Query(ctx, sqlLoadRows, userID)
	if err != nil {
		return nil, fmt.Errorf("remotestore: loading watchlist: %w", err)
	}
	defer rows.Close()

	var out []row

	for rows.Next() {
		var r row
		if err := rows.Scan(
			&r.UserID, &r.TMDBID, &r.MediaType, &r.Title, &r.PosterPath,
			&r.Overview, &r.VoteAverage, &r.ReleaseDate, &r.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("remotestore: scanning watchlist row: %w", err)
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("remotestore: iterating watchlist rows: %w", err)
	}

	return entriesFromRows(out, p.logger), nil
}

// Upsert writes e for userID. An existing row keeps its id and added_at.
func (p *Postgres) Upsert(ctx context.Context, userID string, e watchlist.Entry) error {
	r := rowFromEntry(userID, e)

	if _, err := p.db.Exec(ctx, sqlUpsertRow,
		uuid.New(), r.UserID, r.TMDBID, r.MediaType, r.Title,
		r.PosterPath, r.Overview, r.VoteAverage, r.ReleaseDate,
	); err != nil {
		return fmt.Errorf("remotestore: upserting %d: %w", e.ExternalID, err)
	}

	return nil
}

// Delete removes userID's row for externalID. Deleting a missing row is not
// an error.
func (p *Postgres) Delete(ctx context.Context, userID string, externalID int64) error {
	tag, err := p.db.Exec(ctx, sqlDeleteRow, userID, externalID)
	if err != nil {
		return fmt.Errorf("remotestore: deleting %d: %w", externalID, err)
	}

	if tag.RowsAffected() == 0 {
		p.logger.Debug("delete matched no row",
			slog.String("user_id", userID),
			slog.Int64("tmdb_id", externalID),
		)
	}

	return nil
}

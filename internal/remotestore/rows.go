package remotestore

import (
	"log/slog"
	"time"

	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// DefaultTable is the watchlist table name in the account backend.
const DefaultTable = "watchlist"

// row mirrors one watchlist table row. Nullable columns are pointers.
// AddedAt is assigned by the server and never sent on upsert.
type row struct {
	UserID      string     `json:"user_id"`
	TMDBID      int64      `json:"tmdb_id"`
	MediaType   string     `json:"media_type"`
	Title       string     `json:"title"`
	PosterPath  *string    `json:"poster_path"`
	Overview    *string    `json:"overview"`
	VoteAverage *float64   `json:"vote_average"`
	ReleaseDate *string    `json:"release_date"`
	AddedAt     *time.Time `json:"added_at,omitempty"`
}

// rowFromEntry builds the row written for userID.
func rowFromEntry(userID string, e watchlist.Entry) row {
	e.Normalize()

	r := row{
		UserID:     userID,
		TMDBID:     e.ExternalID,
		MediaType:  string(e.Kind),
		Title:      e.Title,
		PosterPath: e.PosterPath,
	}

	if e.Overview != "" {
		r.Overview = &e.Overview
	}

	if e.Rating != 0 {
		r.VoteAverage = &e.Rating
	}

	if e.ReleaseDate != "" {
		r.ReleaseDate = &e.ReleaseDate
	}

	return r
}

// toEntry converts a row back to a watchlist entry. A missing media_type
// reads as movie.
func (r row) toEntry() watchlist.Entry {
	e := watchlist.Entry{
		ExternalID: r.TMDBID,
		Kind:       watchlist.MediaKind(r.MediaType),
		Title:      r.Title,
		PosterPath: r.PosterPath,
	}

	if r.Overview != nil {
		e.Overview = *r.Overview
	}

	if r.VoteAverage != nil {
		e.Rating = *r.VoteAverage
	}

	if r.ReleaseDate != nil {
		e.ReleaseDate = *r.ReleaseDate
	}

	e.Normalize()

	return e
}

// entriesFromRows converts rows in order, dropping rows that do not form a
// valid entry.
func entriesFromRows(rows []row, logger *slog.Logger) []watchlist.Entry {
	entries := make([]watchlist.Entry, 0, len(rows))

	for _, r := range rows {
		e := r.toEntry()
		if err := e.Validate(); err != nil {
			logger.Warn("dropping invalid remote row",
				slog.Int64("tmdb_id", r.TMDBID),
				slog.String("error", err.Error()),
			)

			continue
		}

		entries = append(entries, e)
	}

	return entries
}

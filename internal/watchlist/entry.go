// Package watchlist owns the in-memory watchlist and reconciles it with a
// device-local store and a per-user remote store as the signed-in identity
// changes.
package watchlist

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// MediaKind distinguishes movies from series. The string values match the
// catalog's media_type field.
type MediaKind string

const (
	MediaMovie  MediaKind = "movie"
	MediaSeries MediaKind = "tv"
)

// ParseMediaKind accepts the catalog spelling plus a few aliases.
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "movie", "movies", "film":
		return MediaMovie, nil
	case "tv", "series", "show":
		return MediaSeries, nil
	default:
		return "", fmt.Errorf("watchlist: unknown media kind %q", s)
	}
}

// Entry is one saved title. Two entries are the same watchlist item when
// their ExternalID matches, regardless of Kind.
type Entry struct {
	ExternalID  int64     `json:"id" validate:"gt=0"`
	Kind        MediaKind `json:"media_type,omitempty" validate:"oneof=movie tv"`
	Title       string    `json:"title" validate:"required"`
	Overview    string    `json:"overview"`
	PosterPath  *string   `json:"poster_path,omitempty"`
	Rating      float64   `json:"vote_average" validate:"gte=0"`
	ReleaseDate string    `json:"release_date"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize fills defaults in place: an absent kind becomes movie and the
// title is NFC-normalized and trimmed.
func (e *Entry) Normalize() {
	if e.Kind == "" {
		e.Kind = MediaMovie
	}

	e.Title = norm.NFC.String(strings.TrimSpace(e.Title))

	if e.PosterPath != nil && *e.PosterPath == "" {
		e.PosterPath = nil
	}
}

// Validate reports whether the entry is fit to be stored.
func (e Entry) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("watchlist: invalid entry %d: %w", e.ExternalID, err)
	}

	return nil
}

// Poster returns the poster path or "" when absent.
func (e Entry) Poster() string {
	if e.PosterPath == nil {
		return ""
	}

	return *e.PosterPath
}

// Stats summarizes a snapshot by media kind.
type Stats struct {
	Movies int `json:"movies"`
	Series int `json:"series"`
	Total  int `json:"total"`
}

// CountKinds tallies entries by kind. Entries with no kind count as movies.
func CountKinds(entries []Entry) Stats {
	var s Stats

	for _, e := range entries {
		if e.Kind == MediaSeries {
			s.Series++
		} else {
			s.Movies++
		}
	}

	s.Total = len(entries)

	return s
}

// indexOf returns the position of externalID in entries, or -1.
func indexOf(entries []Entry, externalID int64) int {
	for i := range entries {
		if entries[i].ExternalID == externalID {
			return i
		}
	}

	return -1
}

// dedupe drops later duplicates by ExternalID, keeping first occurrence order.
func dedupe(entries []Entry) []Entry {
	seen := make(map[int64]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))

	for _, e := range entries {
		if _, ok := seen[e.ExternalID]; ok {
			continue
		}

		seen[e.ExternalID] = struct{}{}
		out = append(out, e)
	}

	return out
}

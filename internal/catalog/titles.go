package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// Title is one catalog result. Movies carry title and release_date; series
// carry name and first_air_date.
type Title struct {
	ID           int64   `json:"id"`
	MediaType    string  `json:"media_type,omitempty"`
	Title        string  `json:"title,omitempty"`
	Name         string  `json:"name,omitempty"`
	Overview     string  `json:"overview"`
	PosterPath   *string `json:"poster_path"`
	VoteAverage  float64 `json:"vote_average"`
	ReleaseDate  string  `json:"release_date,omitempty"`
	FirstAirDate string  `json:"first_air_date,omitempty"`
}

// Page is one page of a paginated listing.
type Page struct {
	Page         int     `json:"page"`
	TotalPages   int     `json:"total_pages"`
	TotalResults int     `json:"total_results"`
	Results      []Title `json:"results"`
}

// Genre is one entry of a kind's genre list.
type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DisplayName returns the title or, for series, the name.
func (t Title) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}

	return t.Name
}

// Kind maps media_type onto a watchlist kind. Titles without a media_type
// are movies.
func (t Title) Kind() watchlist.MediaKind {
	if t.MediaType == string(watchlist.MediaSeries) {
		return watchlist.MediaSeries
	}

	return watchlist.MediaMovie
}

// ToEntry converts the result into a normalized watchlist entry.
func (t Title) ToEntry() watchlist.Entry {
	date := t.ReleaseDate
	if date == "" {
		date = t.FirstAirDate
	}

	e := watchlist.Entry{
		ExternalID:  t.ID,
		Kind:        t.Kind(),
		Title:       t.DisplayName(),
		Overview:    t.Overview,
		PosterPath:  t.PosterPath,
		Rating:      t.VoteAverage,
		ReleaseDate: date,
	}
	e.Normalize()

	return e
}

// Details fetches one title by id.
func (c *Client) Details(ctx context.Context, kind watchlist.MediaKind, id int64) (watchlist.Entry, error) {
	var t Title
	if err := c.getJSON(ctx, &t, nil, string(kind), strconv.FormatInt(id, 10)); err != nil {
		return watchlist.Entry{}, fmt.Errorf("catalog: %s %d: %w", kind, id, err)
	}

	// Detail responses omit media_type.
	t.MediaType = string(kind)

	return t.ToEntry(), nil
}

// Search runs a multi search. People are dropped from the results.
func (c *Client) Search(ctx context.Context, query string, page int) (*Page, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("include_adult", "false")

	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}

	var p Page
	if err := c.getJSON(ctx, &p, q, "search", "multi"); err != nil {
		return nil, fmt.Errorf("catalog: search %q: %w", query, err)
	}

	p.Results = withoutPeople(p.Results)

	return &p, nil
}

// Trending lists this week's trending titles of one kind.
func (c *Client) Trending(ctx context.Context, kind watchlist.MediaKind) (*Page, error) {
	var p Page
	if err := c.getJSON(ctx, &p, nil, "trending", string(kind), "week"); err != nil {
		return nil, fmt.Errorf("catalog: trending %s: %w", kind, err)
	}

	return &p, nil
}

// Popular lists popular titles of one kind.
func (c *Client) Popular(ctx context.Context, kind watchlist.MediaKind, page int) (*Page, error) {
	return c.listing(ctx, kind, nil, page, string(kind), "popular")
}

// TopRated lists the highest rated titles of one kind.
func (c *Client) TopRated(ctx context.Context, kind watchlist.MediaKind, page int) (*Page, error) {
	return c.listing(ctx, kind, nil, page, string(kind), "top_rated")
}

// Upcoming lists movies about to be released.
func (c *Client) Upcoming(ctx context.Context, page int) (*Page, error) {
	return c.listing(ctx, watchlist.MediaMovie, nil, page, "movie", "upcoming")
}

// OnAir lists series with an episode airing in the next week.
func (c *Client) OnAir(ctx context.Context, page int) (*Page, error) {
	return c.listing(ctx, watchlist.MediaSeries, nil, page, "tv", "on_the_air")
}

// Discover lists the most popular titles of one kind in a genre.
func (c *Client) Discover(ctx context.Context, kind watchlist.MediaKind, genreID int64, page int) (*Page, error) {
	q := url.Values{}
	q.Set("sort_by", "popularity.desc")
	q.Set("with_genres", strconv.FormatInt(genreID, 10))

	return c.listing(ctx, kind, q, page, "discover", string(kind))
}

// Genres returns the genre list for one kind.
func (c *Client) Genres(ctx context.Context, kind watchlist.MediaKind) ([]Genre, error) {
	var body struct {
		Genres []Genre `json:"genres"`
	}

	if err := c.getJSON(ctx, &body, nil, "genre", string(kind), "list"); err != nil {
		return nil, fmt.Errorf("catalog: %s genres: %w", kind, err)
	}

	return body.Genres, nil
}

// listing fetches one page of a single-kind listing. Such responses omit
// media_type, so the kind is stamped onto every result.
func (c *Client) listing(
	ctx context.Context, kind watchlist.MediaKind, q url.Values, page int, segments ...string,
) (*Page, error) {
	if page > 0 {
		if q == nil {
			q = url.Values{}
		}

		q.Set("page", strconv.Itoa(page))
	}

	var p Page
	if err := c.getJSON(ctx, &p, q, segments...); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", strings.Join(segments, "/"), err)
	}

	for i := range p.Results {
		p.Results[i].MediaType = string(kind)
	}

	return &p, nil
}

func withoutPeople(in []Title) []Title {
	out := in[:0]

	for _, t := range in {
		if t.MediaType == "person" {
			continue
		}

		out = append(out, t)
	}

	return out
}

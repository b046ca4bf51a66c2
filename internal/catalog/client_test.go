package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cinelist/internal/watchlist"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func noopSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		APIKey:     "k3y",
		Language:   "en-US",
		BaseURL:    srv.URL + "/3",
		HTTPClient: srv.Client(),
		Logger:     testLogger(t),
	})
	c.sleepFunc = noopSleep

	return c
}

func TestClient_NotConfigured(t *testing.T) {
	t.Parallel()

	c := New(Config{BaseURL: "http://127.0.0.1:1", Logger: testLogger(t)})
	assert.False(t, c.Configured())

	_, err := c.Details(t.Context(), watchlist.MediaMovie, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = c.Search(t.Context(), "dune", 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_DetailsMovie(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/movie/438631", r.URL.Path)
		assert.Equal(t, "k3y", r.URL.Query().Get("api_key"))
		assert.Equal(t, "en-US", r.URL.Query().Get("language"))

		_, _ = io.WriteString(w, `{"id":438631,"title":"  Dune ","overview":"Spice.",
			"poster_path":"/d.jpg","vote_average":7.8,"release_date":"2021-09-15"}`)
	})

	e, err := c.Details(t.Context(), watchlist.MediaMovie, 438631)
	require.NoError(t, err)

	assert.Equal(t, int64(438631), e.ExternalID)
	assert.Equal(t, watchlist.MediaMovie, e.Kind)
	assert.Equal(t, "Dune", e.Title)
	assert.Equal(t, "/d.jpg", e.Poster())
	assert.InDelta(t, 7.8, e.Rating, 0.001)
	assert.Equal(t, "2021-09-15", e.ReleaseDate)
	assert.NoError(t, e.Validate())
}

func TestClient_DetailsSeriesUsesNameAndAirDate(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/tv/1399", r.URL.Path)

		_, _ = io.WriteString(w, `{"id":1399,"name":"Game of Thrones","poster_path":null,
			"vote_average":8.4,"first_air_date":"2011-04-17"}`)
	})

	e, err := c.Details(t.Context(), watchlist.MediaSeries, 1399)
	require.NoError(t, err)

	assert.Equal(t, watchlist.MediaSeries, e.Kind)
	assert.Equal(t, "Game of Thrones", e.Title)
	assert.Nil(t, e.PosterPath)
	assert.Equal(t, "2011-04-17", e.ReleaseDate)
}

func TestClient_DetailsNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"status_code":34,"status_message":"The resource you requested could not be found."}`)
	})

	_, err := c.Details(t.Context(), watchlist.MediaMovie, 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Message, "could not be found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesThrottleAndServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = io.WriteString(w, `{"id":1,"title":"Third time"}`)
		}
	})

	e, err := c.Details(t.Context(), watchlist.MediaMovie, 1)
	require.NoError(t, err)
	assert.Equal(t, "Third time", e.Title)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Trending(t.Context(), watchlist.MediaMovie)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestClient_CanceledContextStopsRetries(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := c.Details(ctx, watchlist.MediaMovie, 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClient_SearchDropsPeople(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/search/multi", r.URL.Path)
		assert.Equal(t, "the office", r.URL.Query().Get("query"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "false", r.URL.Query().Get("include_adult"))

		_, _ = io.WriteString(w, `{"page":2,"total_pages":3,"total_results":41,"results":[
			{"id":2316,"media_type":"tv","name":"The Office"},
			{"id":17419,"media_type":"person","name":"Steve Carell"},
			{"id":58,"media_type":"movie","title":"Office Space"}]}`)
	})

	p, err := c.Search(t.Context(), "the office", 2)
	require.NoError(t, err)

	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 3, p.TotalPages)
	require.Len(t, p.Results, 2)
	assert.Equal(t, "The Office", p.Results[0].DisplayName())
	assert.Equal(t, watchlist.MediaSeries, p.Results[0].Kind())
	assert.Equal(t, watchlist.MediaMovie, p.Results[1].Kind())
}

func TestClient_TrendingPath(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/trending/tv/week", r.URL.Path)

		_, _ = io.WriteString(w, `{"page":1,"results":[{"id":5,"media_type":"tv","name":"Five"}]}`)
	})

	p, err := c.Trending(t.Context(), watchlist.MediaSeries)
	require.NoError(t, err)
	require.Len(t, p.Results, 1)
	assert.Equal(t, watchlist.MediaSeries, p.Results[0].ToEntry().Kind)
}

func TestClient_PopularStampsKind(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/tv/popular", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("page"))

		_, _ = io.WriteString(w, `{"page":1,"results":[{"id":7,"name":"Seven"}]}`)
	})

	p, err := c.Popular(t.Context(), watchlist.MediaSeries, 0)
	require.NoError(t, err)
	require.Len(t, p.Results, 1)
	assert.Equal(t, watchlist.MediaSeries, p.Results[0].Kind())
}

func TestTitle_ToEntryDefaultsToMovie(t *testing.T) {
	t.Parallel()

	empty := ""
	e := Title{ID: 3, Title: "x", PosterPath: &empty, FirstAirDate: "2020-01-01"}.ToEntry()

	assert.Equal(t, watchlist.MediaMovie, e.Kind)
	assert.Nil(t, e.PosterPath)
	assert.Equal(t, "2020-01-01", e.ReleaseDate)
}

func TestClient_ListingPaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		kind watchlist.MediaKind
		call func(ctx context.Context, c *Client) (*Page, error)
	}{
		{
			name: "top rated series", path: "/3/tv/top_rated", kind: watchlist.MediaSeries,
			call: func(ctx context.Context, c *Client) (*Page, error) {
				return c.TopRated(ctx, watchlist.MediaSeries, 2)
			},
		},
		{
			name: "upcoming", path: "/3/movie/upcoming", kind: watchlist.MediaMovie,
			call: func(ctx context.Context, c *Client) (*Page, error) { return c.Upcoming(ctx, 2) },
		},
		{
			name: "on air", path: "/3/tv/on_the_air", kind: watchlist.MediaSeries,
			call: func(ctx context.Context, c *Client) (*Page, error) { return c.OnAir(ctx, 2) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, "2", r.URL.Query().Get("page"))

				_, _ = io.WriteString(w, `{"page":2,"total_pages":9,"results":[{"id":11,"title":"Eleven","name":"Eleven"}]}`)
			})

			p, err := tt.call(t.Context(), c)
			require.NoError(t, err)
			assert.Equal(t, 9, p.TotalPages)
			require.Len(t, p.Results, 1)
			assert.Equal(t, tt.kind, p.Results[0].ToEntry().Kind)
		})
	}
}

func TestClient_DiscoverByGenre(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/discover/tv", r.URL.Path)
		assert.Equal(t, "18", r.URL.Query().Get("with_genres"))
		assert.Equal(t, "popularity.desc", r.URL.Query().Get("sort_by"))
		assert.Empty(t, r.URL.Query().Get("page"))

		_, _ = io.WriteString(w, `{"page":1,"results":[{"id":1396,"name":"Breaking Bad"}]}`)
	})

	p, err := c.Discover(t.Context(), watchlist.MediaSeries, 18, 0)
	require.NoError(t, err)
	require.Len(t, p.Results, 1)

	e := p.Results[0].ToEntry()
	assert.Equal(t, watchlist.MediaSeries, e.Kind)
	assert.Equal(t, "Breaking Bad", e.Title)
}

func TestClient_Genres(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/genre/movie/list", r.URL.Path)

		_, _ = io.WriteString(w, `{"genres":[{"id":28,"name":"Action"},{"id":878,"name":"Science Fiction"}]}`)
	})

	genres, err := c.Genres(t.Context(), watchlist.MediaMovie)
	require.NoError(t, err)
	assert.Equal(t, []Genre{{ID: 28, Name: "Action"}, {ID: 878, Name: "Science Fiction"}}, genres)
}

func TestClient_PacesRequests(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"genres":[]}`)
	})

	start := time.Now()

	for range 3 {
		_, err := c.Genres(t.Context(), watchlist.MediaMovie)
		require.NoError(t, err)
	}

	// The first request uses the burst; the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 2*minInterval-time.Millisecond)
}

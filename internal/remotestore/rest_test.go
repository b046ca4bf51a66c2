package remotestore

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

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) Token() (string, error) { return "", errors.New("not signed in") }

func noopSleep(_ context.Context, _ time.Duration) error { return nil }

func newTestREST(t *testing.T, url string) *REST {
	t.Helper()

	c, err := NewREST(&RESTConfig{
		BaseURL:    url,
		AnonKey:    "anon-key",
		HTTPClient: http.DefaultClient,
		Token:      staticToken("user-token"),
		Logger:     testLogger(t),
	})
	require.NoError(t, err)

	c.sleepFunc = noopSleep

	return c
}

func TestNewREST_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewREST(&RESTConfig{Token: staticToken("x")})
	assert.Error(t, err)

	_, err = NewREST(&RESTConfig{BaseURL: "https://example.test"})
	assert.Error(t, err)
}

func TestREST_LoadSendsFilterAndDecodesRows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/watchlist", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "added_at.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"user_id":"u1","tmdb_id":1399,"media_type":"tv","title":"Game of Thrones","poster_path":null,
			 "overview":null,"vote_average":8.4,"release_date":"2011-04-17","added_at":"2024-05-02T10:00:00+00:00"},
			{"user_id":"u1","tmdb_id":550,"media_type":null,"title":"Fight Club","poster_path":"/fc.jpg",
			 "overview":"Mischief.","vote_average":null,"release_date":null,"added_at":"2024-05-01T10:00:00+00:00"},
			{"user_id":"u1","tmdb_id":0,"media_type":"movie","title":"broken"}
		]`)
	}))
	defer srv.Close()

	entries, err := newTestREST(t, srv.URL).Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, int64(1399), entries[0].ExternalID)
	assert.Equal(t, watchlist.MediaSeries, entries[0].Kind)
	assert.InDelta(t, 8.4, entries[0].Rating, 0.001)
	assert.Nil(t, entries[0].PosterPath)

	assert.Equal(t, int64(550), entries[1].ExternalID)
	assert.Equal(t, watchlist.MediaMovie, entries[1].Kind)
	assert.Equal(t, "/fc.jpg", entries[1].Poster())
	assert.Equal(t, "Mischief.", entries[1].Overview)
}

func TestREST_UpsertMergesDuplicates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "user_id,tmdb_id", r.URL.Query().Get("on_conflict"))
		assert.Equal(t, preferUpsert, r.Header.Get("Prefer"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var rows []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "u1", rows[0]["user_id"])
		assert.EqualValues(t, 550, rows[0]["tmdb_id"])
		assert.Equal(t, "movie", rows[0]["media_type"])
		assert.NotContains(t, rows[0], "added_at")
		assert.NotContains(t, rows[0], "id")

		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := newTestREST(t, srv.URL).Upsert(context.Background(), "u1",
		watchlist.Entry{ExternalID: 550, Title: "Fight Club"})
	require.NoError(t, err)
}

func TestREST_DeleteMissingRowSucceeds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "eq.550", r.URL.Query().Get("tmdb_id"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestREST(t, srv.URL).Delete(context.Background(), "u1", 550))
}

func TestREST_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	entries, err := newTestREST(t, srv.URL).Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int32(2), calls.Load())
}

func TestREST_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("X-Request-Id", "req-42")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"JWT expired"}`)
	}))
	defer srv.Close()

	_, err := newTestREST(t, srv.URL).Load(context.Background(), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "req-42", apiErr.RequestID)
	assert.Contains(t, apiErr.Message, "JWT expired")
	assert.Equal(t, int32(1), calls.Load())
}

func TestREST_HonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestREST(t, srv.URL)

	var slept []time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, c.Delete(context.Background(), "u1", 1))
	assert.Equal(t, []time.Duration{7 * time.Second}, slept)
}

func TestREST_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestREST(t, srv.URL)
	ctx := context.Background()

	_, err := c.Load(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())

	_, err = c.Load(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(maxRetries+1), calls.Load(), "open circuit must not reach the server")
}

func TestREST_TokenFailureShortCircuits(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, err := NewREST(&RESTConfig{BaseURL: srv.URL, Token: failingToken{}, Logger: testLogger(t)})
	require.NoError(t, err)

	err = c.Upsert(context.Background(), "u1", watchlist.Entry{ExternalID: 1, Title: "A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "obtaining token")
	assert.Zero(t, calls.Load())
}

func TestREST_CanceledContextStopsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestREST(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Load(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalcBackoff_Bounds(t *testing.T) {
	t.Parallel()

	c := &REST{}

	for attempt := range 10 {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

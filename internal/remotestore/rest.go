package remotestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/tonimelisma/cinelist/internal/watchlist"
)

// Retry and backoff constants.
const (
	maxRetries     = 4
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "cinelist/0.1"
)

// Circuit breaker tuning: trip when at least half of the last
// breakerMinRequests attempts failed.
const (
	breakerMinRequests  = 5
	breakerFailureRatio = 0.5
	breakerInterval     = 60 * time.Second
	breakerOpenTimeout  = 30 * time.Second
)

// PostgREST preference headers.
const (
	preferMinimal = "return=minimal"
	preferUpsert  = "resolution=merge-duplicates,return=minimal"
)

// TokenSource provides bearer tokens for the signed-in user. Defined at the
// consumer; identity.FileProvider supplies the real implementation.
type TokenSource interface {
	Token() (string, error)
}

// RESTConfig configures NewREST.
type RESTConfig struct {
	BaseURL    string // project URL, e.g. https://abc.supabase.co
	AnonKey    string // public API key sent as the apikey header
	Table      string // empty uses DefaultTable
	HTTPClient *http.Client
	Token      TokenSource
	Logger     *slog.Logger
}

// REST is a watchlist.RemoteStore backed by the PostgREST API. Requests are
// retried with exponential backoff and guarded by a circuit breaker so a
// failing backend is not hammered by every background write.
type REST struct {
	endpoint   string
	anonKey    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker[*http.Response]

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewREST creates a PostgREST-backed remote store.
func NewREST(cfg *RESTConfig) (*REST, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remotestore: base URL is required")
	}

	if cfg.Token == nil {
		return nil, errors.New("remotestore: token source is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}

	settings := gobreaker.Settings{
		Name:        "remotestore",
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}

			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		// Client errors say nothing about backend health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !isRetryable(apiErr.StatusCode)
			}

			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &REST{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/rest/v1/" + url.PathEscape(table),
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
		token:      cfg.Token,
		logger:     logger,
		breaker:    gobreaker.NewCircuitBreaker[*http.Response](settings),
		sleepFunc:  timeSleep,
	}, nil
}

// Load returns userID's entries, newest first.
func (c *REST) Load(ctx context.Context, userID string) ([]watchlist.Entry, error) {
	q := url.Values{}
	q.Set("select", "user_id,tmdb_id,media_type,title,poster_path,overview,vote_average,release_date,added_at")
	q.Set("user_id", "eq."+userID)
	q.Set("order", "added_at.desc")

	resp, err := c.do(ctx, http.MethodGet, q, nil, "")
	if err != nil {
		return nil, fmt.Errorf("remotestore: loading watchlist: %w", err)
	}
	defer resp.Body.Close()

	var rows []row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("remotestore: decoding watchlist: %w", err)
	}

	c.logger.Debug("loaded remote watchlist",
		slog.String("user_id", userID),
		slog.Int("rows", len(rows)),
	)

	return entriesFromRows(rows, c.logger), nil
}

// Upsert writes e for userID, overwriting any row with the same tmdb_id.
func (c *REST) Upsert(ctx context.Context, userID string, e watchlist.Entry) error {
	body, err := json.Marshal([]row{rowFromEntry(userID, e)})
	if err != nil {
		return fmt.Errorf("remotestore: encoding row: %w", err)
	}

	q := url.Values{}
	q.Set("on_conflict", "user_id,tmdb_id")

	resp, err := c.do(ctx, http.MethodPost, q, body, preferUpsert)
	if err != nil {
		return fmt.Errorf("remotestore: upserting %d: %w", e.ExternalID, err)
	}

	resp.Body.Close()

	c.logger.Debug("upserted remote entry",
		slog.String("user_id", userID),
		slog.Int64("tmdb_id", e.ExternalID),
	)

	return nil
}

// Delete removes userID's row for externalID. PostgREST answers a filter
// that matches nothing with success, so a missing row is not an error.
func (c *REST) Delete(ctx context.Context, userID string, externalID int64) error {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("tmdb_id", "eq."+strconv.FormatInt(externalID, 10))

	resp, err := c.do(ctx, http.MethodDelete, q, nil, preferMinimal)
	if err != nil {
		return fmt.Errorf("remotestore: deleting %d: %w", externalID, err)
	}

	resp.Body.Close()

	c.logger.Debug("deleted remote entry",
		slog.String("user_id", userID),
		slog.Int64("tmdb_id", externalID),
	)

	return nil
}

// do executes a request against the table endpoint with retry. The caller
// closes the response body on success.
func (c *REST) do(
	ctx context.Context, method string, query url.Values, body []byte, prefer string,
) (*http.Response, error) {
	reqURL := c.endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	var attempt int
	for {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			return c.doOnce(ctx, method, reqURL, tok, body, prefer)
		})
		if err == nil {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("remotestore: request canceled: %w", ctx.Err())
		}

		backoff := c.calcBackoff(attempt)
		retryable := true

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			retryable = isRetryable(apiErr.StatusCode)
			if apiErr.retryAfter > 0 {
				backoff = apiErr.retryAfter
			}
		}

		if !retryable || attempt >= maxRetries {
			if attempt > 0 {
				c.logger.Error("request failed after retries",
					slog.String("method", method),
					slog.Int("attempts", attempt+1),
					slog.String("error", err.Error()),
				)
			}

			return nil, err
		}

		c.logger.Warn("retrying remote request",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, fmt.Errorf("remotestore: request canceled: %w", sleepErr)
		}

		attempt++
	}
}

// doOnce executes a single HTTP request. Non-2xx responses are drained,
// closed, and returned as *APIError.
func (c *REST) doOnce(
	ctx context.Context, method, reqURL, tok string, body []byte, prefer string,
) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
		retryAfter: parseRetryAfter(resp),
	}
}

// parseRetryAfter returns the Retry-After delay of a 429, or zero.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return 0
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *REST) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

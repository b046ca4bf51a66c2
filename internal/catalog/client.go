// Package catalog is a small client for the TMDB v3 title catalog. It
// supplies the entries the watchlist stores: details for add, plus search,
// genre and listing endpoints for browsing.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Request pacing and retry parameters.
const (
	maxAttempts    = 3
	initialBackoff = 300 * time.Millisecond
	minInterval    = 20 * time.Millisecond
	maxErrorBody   = 4 << 10
)

// ErrNotConfigured is returned by every call when no API key is set.
var ErrNotConfigured = errors.New("catalog: api key not configured")

// ErrNotFound is returned when the catalog has no title with the given id.
var ErrNotFound = errors.New("catalog: title not found")

// APIError is a non-2xx response from the catalog.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog: HTTP %d", e.StatusCode)
	}

	return fmt.Sprintf("catalog: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps 404 onto ErrNotFound so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	return nil
}

// Config holds the settings for New.
type Config struct {
	APIKey     string
	Language   string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the catalog API. Requests are paced to at most one per
// minInterval by a token bucket shared by every caller, and retried on
// throttling and server errors.
type Client struct {
	apiKey   string
	language string
	baseURL  string
	httpc    *http.Client
	logger   *slog.Logger

	limiter *rate.Limiter

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New returns a Client. A missing API key is not an error here; calls fail
// with ErrNotConfigured instead so the CLI can print a useful hint.
func New(cfg Config) *Client {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiKey:    cfg.APIKey,
		language:  cfg.Language,
		baseURL:   cfg.BaseURL,
		httpc:     httpc,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
		sleepFunc: timeSleep,
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// endpoint joins path segments onto the base URL and adds the key, the
// language and any extra query parameters.
func (c *Client) endpoint(query url.Values, segments ...string) (string, error) {
	raw, err := url.JoinPath(c.baseURL, segments...)
	if err != nil {
		return "", fmt.Errorf("catalog: building url: %w", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("catalog: building url: %w", err)
	}

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	q.Set("api_key", c.apiKey)

	if c.language != "" {
		q.Set("language", c.language)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

// getJSON performs a paced GET with retry and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, v any, query url.Values, segments ...string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	endpoint, err := c.endpoint(query, segments...)
	if err != nil {
		return err
	}

	var lastErr error

	backoff := initialBackoff

	for attempt := range maxAttempts {
		if attempt > 0 {
			if err := c.sleepFunc(ctx, backoff); err != nil {
				return err
			}

			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		retry, err := c.getOnce(ctx, endpoint, v)
		if err == nil {
			return nil
		}

		if !retry {
			return err
		}

		lastErr = err

		c.logger.Warn("catalog request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", maxAttempts),
			slog.String("error", err.Error()),
		)
	}

	return lastErr
}

// getOnce issues one request. The bool reports whether the failure is
// worth another attempt.
func (c *Client) getOnce(ctx context.Context, endpoint string, v any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("catalog: creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		return true, fmt.Errorf("catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return true, &APIError{StatusCode: resp.StatusCode, Message: readStatusMessage(resp.Body)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return false, &APIError{StatusCode: resp.StatusCode, Message: readStatusMessage(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("catalog: decoding response: %w", err)
	}

	return false, nil
}

// readStatusMessage pulls status_message out of a catalog error body.
func readStatusMessage(r io.Reader) string {
	var body struct {
		StatusMessage string `json:"status_message"`
	}

	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}

	if json.Unmarshal(data, &body) != nil {
		return ""
	}

	return body.StatusMessage
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

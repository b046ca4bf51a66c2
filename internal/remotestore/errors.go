// Package remotestore reads and writes a user's watchlist in the account
// backend, either through the PostgREST API or directly in PostgreSQL.
package remotestore

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, remotestore.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("remotestore: bad request")
	ErrUnauthorized = errors.New("remotestore: unauthorized")
	ErrForbidden    = errors.New("remotestore: forbidden")
	ErrNotFound     = errors.New("remotestore: not found")
	ErrConflict     = errors.New("remotestore: conflict")
	ErrThrottled    = errors.New("remotestore: throttled")
	ErrServerError  = errors.New("remotestore: server error")
	ErrCircuitOpen  = errors.New("remotestore: circuit open")
)

// APIError wraps a sentinel error with the HTTP status, the request id the
// gateway assigned, and the response body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remotestore: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remotestore: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Package openlist provides an HTTP client for the OpenList (AList-compatible)
// file API with bounded retry, backoff, and error classification.
package openlist

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for status classification.
// Use errors.Is(err, openlist.ErrConflict) to check.
var (
	ErrBadRequest   = errors.New("openlist: bad request")
	ErrUnauthorized = errors.New("openlist: unauthorized")
	ErrForbidden    = errors.New("openlist: forbidden")
	ErrNotFound     = errors.New("openlist: not found")
	ErrConflict     = errors.New("openlist: target already exists")
	ErrThrottled    = errors.New("openlist: throttled")
	ErrServerError  = errors.New("openlist: server error")
	ErrBadResponse  = errors.New("openlist: malformed response")
)

// APIError wraps a sentinel error with the HTTP status, the API envelope code,
// and the server message. OpenList reports most failures inside a 200
// response, so Code and StatusCode can disagree.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Code != 0 && e.Code != e.StatusCode {
		return fmt.Sprintf("openlist: HTTP %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("openlist: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyCode maps an HTTP status or envelope code plus message to a
// sentinel error. Returns nil for success codes.
func classifyCode(code int, message string) error {
	lower := strings.ToLower(message)

	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusForbidden && strings.Contains(lower, "exists"):
		// The move endpoint reports an existing target as 403 "... exists".
		return ErrConflict
	case code == http.StatusConflict:
		return ErrConflict
	case code == http.StatusBadRequest:
		return ErrBadRequest
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound, isNotExistMessage(lower):
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code >= http.StatusInternalServerError:
		if isNotExistMessage(lower) {
			return ErrNotFound
		}

		return ErrServerError
	default:
		return ErrBadResponse
	}
}

// isNotExistMessage recognizes the storage drivers' wording for a missing
// object, which OpenList surfaces as a 500 envelope code.
func isNotExistMessage(lower string) bool {
	return strings.Contains(lower, "not exist") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "no such file")
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

package openlist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client pointing at the given httptest server
// with instant retry sleeps for fast tests.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, "test-token", http.DefaultClient, slog.Default(), "test-agent")
	c.sleepFunc = noopSleep

	return c
}

// writeEnvelope writes an OpenList {code, message, data} response.
func writeEnvelope(t *testing.T, w http.ResponseWriter, code int, message string, data any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"data":    data,
	}))
}

func TestPost_SendsTokenAndUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeEnvelope(t, w, 200, "success", nil)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.post(context.Background(), "/api/fs/list", map[string]any{"path": "/"}, nil, true))
}

func TestPost_EnvelopeErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		message  string
		sentinel error
	}{
		{"exists is conflict", 403, "file [a.mkv] exists", ErrConflict},
		{"plain forbidden", 403, "permission denied", ErrForbidden},
		{"unauthorized", 401, "token is expired", ErrUnauthorized},
		{"not exist", 500, "object not found", ErrNotFound},
		{"server error", 500, "failed to move", ErrServerError},
		{"bad request", 400, "invalid path", ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeEnvelope(t, w, tt.code, tt.message, nil)
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			err := client.post(context.Background(), "/api/fs/move", nil, nil, false)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, http.StatusOK, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestDo_HTTPErrorBodyClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":403,"message":"file exists"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.post(context.Background(), "/api/fs/move", nil, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDo_RetriesIdempotentCalls(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		writeEnvelope(t, w, 200, "success", nil)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.post(context.Background(), "/api/fs/list", nil, nil, true))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_DoesNotRetryNonIdempotentCalls(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.post(context.Background(), "/api/fs/move", nil, nil, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.post(context.Background(), "/api/fs/get", nil, nil, true)
	require.Error(t, err)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestDo_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	client.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	err := client.post(context.Background(), "/api/fs/list", nil, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPost_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>proxy error</html>"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.post(context.Background(), "/api/fs/list", nil, nil, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestRetryBackoff_RetryAfter(t *testing.T) {
	client := NewClient("http://x", "t", nil, nil, "")
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")

	assert.Equal(t, 7*time.Second, client.retryBackoff(resp, 0))
}

func TestCalcBackoff_Bounded(t *testing.T) {
	client := NewClient("http://x", "t", nil, nil, "")

	for attempt := range 10 {
		d := client.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestNewClient_TrimsBaseURL(t *testing.T) {
	client := NewClient("http://nas:5244/", "t", nil, nil, "")
	assert.Equal(t, "http://nas:5244", client.baseURL)
	assert.Equal(t, defaultUserAgent, client.userAgent)
}

package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_NoopWhenTopicMissing(t *testing.T) {
	svc := NewService(Options{Topic: "   "})

	_, ok := svc.(noopService)
	assert.True(t, ok)
	assert.NoError(t, svc.Notify(context.Background(), Message{Title: "x"}))
}

func TestNtfy_SendsHeadersAndBody(t *testing.T) {
	var (
		gotTitle, gotTags, gotPriority, gotUA, gotBody string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotPriority = r.Header.Get("Priority")
		gotUA = r.Header.Get("User-Agent")

		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewService(Options{Topic: srv.URL + "/mover", UserAgent: "mover-test"})

	err := svc.Notify(context.Background(), Message{
		Title:    "Move failed",
		Body:     "movie.mkv: conflict",
		Tags:     []string{"mover", "failed"},
		Priority: PriorityHigh,
	})
	require.NoError(t, err)

	assert.Equal(t, "Move failed", gotTitle)
	assert.Equal(t, "mover,failed", gotTags)
	assert.Equal(t, PriorityHigh, gotPriority)
	assert.Equal(t, "mover-test", gotUA)
	assert.Equal(t, "movie.mkv: conflict", gotBody)
}

func TestNtfy_DefaultPriorityOmitted(t *testing.T) {
	var sawPriority bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawPriority = r.Header["Priority"]
	}))
	defer srv.Close()

	svc := NewService(Options{Topic: srv.URL})
	require.NoError(t, svc.Notify(context.Background(), Message{Body: "b", Priority: PriorityDefault}))
	assert.False(t, sawPriority)
}

func TestNtfy_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	svc := NewService(Options{Topic: srv.URL})

	err := svc.Notify(context.Background(), Message{Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "topic forbidden")
}

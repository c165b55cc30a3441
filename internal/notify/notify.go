// Package notify delivers operator notifications. An ntfy topic is used when
// configured; otherwise every message is dropped.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "openlist-mover/0.1"
	maxErrorBody     = 2048
)

// Priorities understood by ntfy.
const (
	PriorityLow     = "low"
	PriorityDefault = "default"
	PriorityHigh    = "high"
)

// Message is a single notification.
type Message struct {
	Title    string
	Body     string
	Tags     []string
	Priority string
}

// Service sends notifications.
type Service interface {
	Notify(ctx context.Context, msg Message) error
}

// Options configures NewService.
type Options struct {
	Topic     string // full ntfy topic URL; empty disables notifications
	Timeout   time.Duration
	UserAgent string
	Client    *http.Client // optional; built from Timeout when nil
}

// NewService returns an ntfy-backed service when a topic is configured and
// a noop service otherwise.
func NewService(opts Options) Service {
	topic := strings.TrimSpace(opts.Topic)
	if topic == "" {
		return noopService{}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &ntfyService{
		endpoint:  topic,
		client:    client,
		userAgent: ua,
	}
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	userAgent string
}

func (n *ntfyService) Notify(ctx context.Context, msg Message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("notify: build ntfy request: %w", err)
	}

	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}

	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}

	if msg.Priority != "" && msg.Priority != PriorityDefault {
		req.Header.Set("Priority", msg.Priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("notify: ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

type noopService struct{}

func (noopService) Notify(context.Context, Message) error { return nil }

// Package hostbus subscribes to the host application's event bus over a
// websocket and forwards each signal to a handler.
//
// Messages are JSON objects of the form {"kind": "...", "payload": {...}}.
// The connection is re-established with exponential backoff until the
// context is canceled.
package hostbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Reconnect backoff bounds.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffMult    = 2

	readLimit = 1 << 20
)

// Message is a single event-bus signal.
type Message struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler processes one signal. Errors are logged and do not close the
// connection.
type Handler func(ctx context.Context, kind string, payload json.RawMessage) error

// Options configures a Subscriber.
type Options struct {
	URL     string
	Token   string // sent as a bearer token when set
	Handler Handler
	Logger  *slog.Logger
}

// Subscriber maintains the websocket connection to the event bus.
type Subscriber struct {
	url     string
	header  http.Header
	handler Handler
	logger  *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewSubscriber returns a Subscriber for opts.
func NewSubscriber(opts Options) *Subscriber {
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Subscriber{
		url:       opts.URL,
		header:    header,
		handler:   opts.Handler,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// Run connects and dispatches messages until ctx is canceled. Connection
// failures are retried forever; only ctx ends the loop.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		received, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if received {
			backoff = initialBackoff
		}

		s.logger.Warn("event bus connection lost",
			slog.String("url", s.url),
			slog.String("error", errString(err)),
			slog.Duration("retry_in", backoff),
		)

		if err := s.sleepFunc(ctx, backoff); err != nil {
			return nil
		}

		backoff = min(backoff*backoffMult, maxBackoff)
	}
}

// session runs one connection until it fails. It reports whether any
// message was received, which resets the reconnect backoff.
func (s *Subscriber) session(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: s.header})
	if err != nil {
		return false, fmt.Errorf("hostbus: dialing %s: %w", s.url, err)
	}
	defer conn.CloseNow()

	conn.SetReadLimit(readLimit)

	s.logger.Info("event bus connected", slog.String("url", s.url))

	received := false

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return received, errors.New("hostbus: server closed the connection")
			}

			return received, fmt.Errorf("hostbus: reading message: %w", err)
		}

		if typ != websocket.MessageText {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("event bus sent malformed message", slog.String("error", err.Error()))
			continue
		}

		received = true

		s.dispatch(ctx, msg)
	}
}

func (s *Subscriber) dispatch(ctx context.Context, msg Message) {
	if msg.Kind == "" {
		s.logger.Debug("event bus message without kind ignored")
		return
	}

	logger := s.logger.With(slog.String("kind", msg.Kind))
	logger.Debug("event bus signal received")

	if err := s.handler(ctx, msg.Kind, msg.Payload); err != nil {
		logger.Warn("event bus signal failed", slog.String("error", err.Error()))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

// timeSleep waits for d or until ctx is canceled.
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

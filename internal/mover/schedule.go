package mover

import (
	"context"
	"log/slog"
	"time"
)

// nextDaily returns the first instant strictly after now whose wall clock
// reads hour:minute in now's location.
func nextDaily(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}

	return next
}

// runDaily calls fn every day at hour:minute local time until ctx is
// canceled.
func runDaily(ctx context.Context, hour, minute int, nowFunc func() time.Time, logger *slog.Logger, fn func(context.Context)) {
	for {
		next := nextDaily(nowFunc(), hour, minute)
		wait := next.Sub(nowFunc())

		logger.Debug("next scheduled scan", slog.Time("at", next), slog.Duration("in", wait))

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(ctx)
		}
	}
}

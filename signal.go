package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonimelisma/openlist-mover/internal/mover"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second, so a hung drain can still be interrupted.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, waiting for in-flight tasks",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// controlSignals maps process signals to engine signal kinds.
var controlSignals = map[os.Signal]string{
	syscall.SIGUSR1: mover.SignalScan,
	syscall.SIGUSR2: mover.SignalRetention,
}

// forwardControlSignals delivers SIGUSR1/SIGUSR2 to handle until ctx is
// canceled. Signals are handled one at a time.
func forwardControlSignals(ctx context.Context, logger *slog.Logger, handle func(ctx context.Context, kind string) error) {
	sigCh := make(chan os.Signal, 1)
	for sig := range controlSignals {
		signal.Notify(sigCh, sig)
	}

	go func() {
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				kind := controlSignals[sig]
				logger.Info("control signal received",
					slog.String("signal", sig.String()), slog.String("kind", kind))

				if err := handle(ctx, kind); err != nil && ctx.Err() == nil {
					logger.Warn("control signal failed",
						slog.String("kind", kind), slog.String("error", err.Error()))
				}
			}
		}
	}()
}

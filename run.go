package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/openlist-mover/internal/hostbus"
)

// flagWash overrides wash_mode_enabled when set on the command line.
var flagWash bool

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the monitor paths and move finished files",
		Long: `Run the pipeline in the foreground until SIGINT/SIGTERM.

SIGUSR1 triggers a full scan and SIGUSR2 a retention check. When
hostbus_url is configured the daemon also follows the host event bus.`,
		RunE: runDaemon,
	}

	cmd.Flags().BoolVar(&flagWash, "wash", false, "overwrite existing files at the destination")

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(os.Stderr)

	lock, err := acquireInstanceLock(cfg.LockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	parent, stop := context.WithCancel(cmd.Context())
	defer stop()

	ctx := shutdownContext(parent, logger)

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	forwardControlSignals(ctx, logger, func(ctx context.Context, kind string) error {
		return a.engine.HandleSignal(ctx, kind, nil)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(gctx) })

	if cfg.HostbusURL != "" {
		sub := hostbus.NewSubscriber(hostbus.Options{
			URL:     cfg.HostbusURL,
			Token:   cfg.OpenlistToken,
			Handler: a.engine.HandleSignal,
			Logger:  logger.With(slog.String("component", "hostbus")),
		})

		g.Go(func() error { return sub.Run(gctx) })
	}

	logger.Info("openlist-mover started",
		slog.String("version", version),
		slog.String("server", cfg.OpenlistURL),
		slog.String("state", cfg.StatePath),
	)

	return g.Wait()
}

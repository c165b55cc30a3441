package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/openlist-mover/internal/mover"
	"github.com/tonimelisma/openlist-mover/internal/store"
)

var flagRetryAll bool

func newRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [path...]",
		Short: "Reset the retry budget of failed tasks",
		Long: `Reset failed or aborted tasks so the next scan picks them up again.
Tasks failed on a conflict or an exhausted budget become retryable.

The daemon must be stopped: it owns the task registry while running.`,
		RunE: runRetry,
	}

	cmd.Flags().BoolVar(&flagRetryAll, "all", false, "reset every failed or aborted task")

	return cmd
}

func runRetry(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !flagRetryAll {
		return errors.New("specify paths to retry or --all")
	}

	cfg := resolvedCfg
	logger := buildLogger(os.Stderr)
	ctx := cmd.Context()

	lock, err := acquireInstanceLock(cfg.LockPath)
	if err != nil {
		return fmt.Errorf("%w; stop it before resetting tasks", err)
	}
	defer lock.Release()

	kv, err := store.Open(ctx, cfg.StatePath, logger.With(slog.String("component", "store")))
	if err != nil {
		return err
	}
	defer kv.Close()

	registry := mover.NewRegistry(kv, logger.With(slog.String("component", "registry")))
	if _, err := registry.Load(ctx); err != nil {
		return err
	}

	paths := args
	if flagRetryAll {
		paths = retryablePaths(registry.Snapshot())
	}

	reset := 0

	var errs []error

	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}

		task, err := registry.ResetRetries(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}

		if task.State.Failed() || task.State == mover.StateAborted {
			reset++
		}
	}

	statusf("Reset %d task(s); they will be retried on the next scan.\n", reset)

	return errors.Join(errs...)
}

// retryablePaths lists the tasks a reset applies to.
func retryablePaths(tasks []mover.MoveTask) []string {
	var out []string

	for _, t := range tasks {
		if t.State.Failed() || t.State == mover.StateAborted {
			out = append(out, t.LocalPath)
		}
	}

	return out
}

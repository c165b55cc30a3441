package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/openlist-mover/internal/mover"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [path...]",
		Short: "Run one reconciliation pass and exit",
		Long: `Walk every monitor path once, retry unfinished tasks and wait for the
pipeline to drain. With path arguments only those files are submitted.

Refuses to run while the daemon holds the instance lock; use
"openlist-mover signal scan" to trigger a scan in a running daemon.`,
		RunE: runScan,
	}
}

func runScan(cmd *cobra.Command, args []string) error {
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

	if len(args) > 0 {
		for i, p := range args {
			if abs, err := filepath.Abs(p); err == nil {
				args[i] = abs
			}

			res := a.engine.Submit(ctx, args[i])
			statusf("%s: %s\n", args[i], res)
		}

		a.engine.Wait()

		return printTaskOutcomes(os.Stdout, a.engine, args)
	}

	stats, scanErr := a.engine.Scan(ctx)
	a.engine.Wait()

	if flagJSON {
		if err := printJSON(os.Stdout, a.engine.Status()); err != nil {
			return err
		}
	} else {
		printScanStats(os.Stdout, stats, a.engine.Status().Counts)
	}

	return scanErr
}

func printScanStats(w io.Writer, stats mover.ScanStats, counts mover.Counts) {
	rows := [][]string{
		{"files seen", strconv.Itoa(stats.FilesSeen)},
		{"submitted", strconv.Itoa(stats.Submitted)},
		{"retried", strconv.Itoa(stats.Retried)},
		{"descriptor retries", strconv.Itoa(stats.DescriptorRetries)},
		{"retries exhausted", strconv.Itoa(stats.Exhausted)},
		{"unmapped", strconv.Itoa(stats.Unmapped)},
		{"walk errors", strconv.Itoa(stats.WalkErrors)},
		{"tasks succeeded", strconv.Itoa(counts.Succeeded)},
		{"tasks failed", strconv.Itoa(counts.Failed)},
		{"tasks aborted", strconv.Itoa(counts.Aborted)},
	}

	renderTable(w, []string{"SCAN", stats.Duration.Round(time.Millisecond).String()}, rows,
		[]columnAlignment{alignLeft, alignRight})
}

// printTaskOutcomes reports the final state of each submitted path.
func printTaskOutcomes(w io.Writer, engine *mover.Engine, paths []string) error {
	tasks := make([]mover.MoveTask, 0, len(paths))

	for _, p := range paths {
		if task, ok := engine.Registry().Get(p); ok {
			tasks = append(tasks, task)
		}
	}

	if flagJSON {
		return printJSON(w, tasks)
	}

	printTasks(w, tasks, false)

	return nil
}

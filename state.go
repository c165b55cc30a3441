package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/openlist-mover/internal/store"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the persisted state store",
		Long: `List the keys held in the state database with their size and last write.
Reading is safe while the daemon runs.`,
		RunE: runStateList,
	}

	cmd.AddCommand(newStateResetCmd())

	return cmd
}

func newStateResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key>...",
		Short: "Delete stored keys",
		Long: `Delete keys from the state database. Removing move_tasks forgets every
tracked task, so the next scan treats all files as new.

The daemon must be stopped: it owns the state while running.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runStateReset,
	}
}

func runStateList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger(os.Stderr)

	if _, err := os.Stat(resolvedCfg.StatePath); os.IsNotExist(err) {
		if flagJSON {
			return printJSON(os.Stdout, []store.Entry{})
		}

		statusf("No state stored at %s.\n", resolvedCfg.StatePath)

		return nil
	}

	kv, err := store.Open(ctx, resolvedCfg.StatePath, logger.With(slog.String("component", "store")))
	if err != nil {
		return err
	}
	defer kv.Close()

	entries, err := kv.List(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		if entries == nil {
			entries = []store.Entry{}
		}

		return printJSON(os.Stdout, entries)
	}

	printStateEntries(os.Stdout, entries)

	return nil
}

func printStateEntries(w io.Writer, entries []store.Entry) {
	now := time.Now()
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		rows = append(rows, []string{e.Key, strconv.FormatInt(e.Size, 10), formatTime(e.UpdatedAt, now)})
	}

	renderTable(w, []string{"KEY", "BYTES", "UPDATED"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft})
}

func runStateReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := buildLogger(os.Stderr)

	lock, err := acquireInstanceLock(resolvedCfg.LockPath)
	if err != nil {
		return fmt.Errorf("%w; stop it before resetting state", err)
	}
	defer lock.Release()

	kv, err := store.Open(ctx, resolvedCfg.StatePath, logger.With(slog.String("component", "store")))
	if err != nil {
		return err
	}
	defer kv.Close()

	for _, key := range args {
		if err := kv.Delete(ctx, key); err != nil {
			return err
		}

		logger.Info("state key deleted", slog.String("key", key))
		statusf("Deleted %s\n", key)
	}

	return nil
}

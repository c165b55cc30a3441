package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/openlist-mover/internal/mover"
	"github.com/tonimelisma/openlist-mover/internal/store"
)

// Task filters accepted by --state.
const (
	filterAll       = "all"
	filterActive    = "active"
	filterSucceeded = "succeeded"
	filterFailed    = "failed"
	filterAborted   = "aborted"
)

var (
	flagTasksState string
	flagTasksLimit int
	flagTasksWide  bool
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tracked move tasks",
		Long: `List the task registry, most recent first. Reads the persisted state
directly, so it is safe to run while the daemon is active.`,
		RunE: runTasks,
	}

	cmd.Flags().StringVar(&flagTasksState, "state", filterAll, "filter: all, active, succeeded, failed, aborted")
	cmd.Flags().IntVar(&flagTasksLimit, "limit", 50, "maximum number of tasks to show (0 = no limit)")
	cmd.Flags().BoolVar(&flagTasksWide, "wide", false, "include remote paths and errors")

	return cmd
}

func runTasks(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(os.Stderr)

	tasks, err := loadPersistedTasks(cmd.Context(), resolvedCfg.StatePath, logger)
	if err != nil {
		return err
	}

	tasks, err = filterTasks(tasks, flagTasksState, flagTasksLimit)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, tasks)
	}

	if len(tasks) == 0 {
		statusf("No tasks.\n")
		return nil
	}

	printTasks(os.Stdout, tasks, flagTasksWide)

	return nil
}

// loadPersistedTasks decodes the task list without going through
// Registry.Load, which would mark a running daemon's active tasks as
// interrupted.
func loadPersistedTasks(ctx context.Context, statePath string, logger *slog.Logger) ([]mover.MoveTask, error) {
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		return nil, nil
	}

	kv, err := store.Open(ctx, statePath, logger.With(slog.String("component", "store")))
	if err != nil {
		return nil, err
	}
	defer kv.Close()

	data, err := kv.Load(ctx, mover.KeyMoveTasks)
	if err != nil {
		return nil, err
	}

	var tasks []mover.MoveTask
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tasks); err != nil {
			return nil, fmt.Errorf("decoding task registry: %w", err)
		}
	}

	slices.SortStableFunc(tasks, func(a, b mover.MoveTask) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	return tasks, nil
}

// filterTasks keeps the tasks matching state, truncated to limit.
func filterTasks(tasks []mover.MoveTask, state string, limit int) ([]mover.MoveTask, error) {
	var match func(mover.TaskState) bool

	switch state {
	case filterAll, "":
		match = func(mover.TaskState) bool { return true }
	case filterActive:
		match = mover.TaskState.Active
	case filterSucceeded:
		match = mover.TaskState.Succeeded
	case filterFailed:
		match = mover.TaskState.Failed
	case filterAborted:
		match = func(s mover.TaskState) bool { return s == mover.StateAborted }
	default:
		return nil, fmt.Errorf("unknown state filter %q", state)
	}

	out := make([]mover.MoveTask, 0, len(tasks))

	for _, t := range tasks {
		if !match(t.State) {
			continue
		}

		out = append(out, t)

		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

func printTasks(w io.Writer, tasks []mover.MoveTask, wide bool) {
	now := time.Now()

	headers := []string{"STATE", "FILE", "RETRIES", "UPDATED", "REASON"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}

	if wide {
		headers = append(headers, "DESTINATION", "ERROR")
	}

	rows := make([][]string, 0, len(tasks))

	for _, t := range tasks {
		row := []string{
			string(t.State),
			t.LocalPath,
			strconv.Itoa(t.RetryCount),
			formatAge(t.UpdatedAt, now) + " ago",
			string(t.FailureReason),
		}

		if wide {
			row = append(row, t.RemoteDestPath, t.Error)
		}

		rows = append(rows, row)
	}

	renderTable(w, headers, rows, aligns)
}

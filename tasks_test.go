package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/openlist-mover/internal/mover"
	"github.com/tonimelisma/openlist-mover/internal/store"
)

func sampleTasks() []mover.MoveTask {
	now := time.Now()

	return []mover.MoveTask{
		{LocalPath: "/w/a.mkv", State: mover.StateStrmSynced, UpdatedAt: now.Add(-3 * time.Minute)},
		{LocalPath: "/w/b.mkv", State: mover.StateMoveFailed, FailureReason: mover.ReasonConflict, UpdatedAt: now.Add(-2 * time.Minute)},
		{LocalPath: "/w/c.mkv", State: mover.StateMoving, UpdatedAt: now.Add(-time.Minute)},
		{LocalPath: "/w/d.mkv", State: mover.StateAborted, UpdatedAt: now},
		{LocalPath: "/w/e.mkv", State: mover.StateFailed, FailureReason: mover.ReasonRemoteAPIError, UpdatedAt: now},
	}
}

func paths(tasks []mover.MoveTask) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.LocalPath
	}

	return out
}

func TestFilterTasks(t *testing.T) {
	tasks := sampleTasks()

	tests := []struct {
		state string
		limit int
		want  []string
	}{
		{filterAll, 0, []string{"/w/a.mkv", "/w/b.mkv", "/w/c.mkv", "/w/d.mkv", "/w/e.mkv"}},
		{filterAll, 2, []string{"/w/a.mkv", "/w/b.mkv"}},
		{filterActive, 0, []string{"/w/c.mkv"}},
		{filterSucceeded, 0, []string{"/w/a.mkv"}},
		{filterFailed, 0, []string{"/w/b.mkv", "/w/e.mkv"}},
		{filterAborted, 0, []string{"/w/d.mkv"}},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			got, err := filterTasks(tasks, tt.state, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(got))
		})
	}

	_, err := filterTasks(tasks, "sleeping", 0)
	require.Error(t, err)
}

func TestLoadPersistedTasks(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	tasks, err := loadPersistedTasks(ctx, dbPath, quietLogger())
	require.NoError(t, err)
	assert.Empty(t, tasks, "no database yet")

	kv, err := store.Open(ctx, dbPath, quietLogger())
	require.NoError(t, err)

	data, err := json.Marshal(sampleTasks())
	require.NoError(t, err)
	require.NoError(t, kv.Save(ctx, mover.KeyMoveTasks, data))
	require.NoError(t, kv.Close())

	tasks, err = loadPersistedTasks(ctx, dbPath, quietLogger())
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	// Newest first; the active task is shown as-is, not as interrupted.
	assert.Equal(t, "/w/a.mkv", tasks[4].LocalPath)

	for _, task := range tasks {
		if task.LocalPath == "/w/c.mkv" {
			assert.Equal(t, mover.StateMoving, task.State)
		}
	}
}

func TestPrintTasks(t *testing.T) {
	var buf bytes.Buffer

	printTasks(&buf, sampleTasks()[:2], true)

	out := buf.String()
	assert.Contains(t, out, "/w/b.mkv")
	assert.Contains(t, out, "conflict")
	assert.Contains(t, out, "DESTINATION")
	assert.Contains(t, out, "ago")
}

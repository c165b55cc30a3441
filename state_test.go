package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/openlist-mover/internal/mover"
	"github.com/tonimelisma/openlist-mover/internal/store"
)

func seedState(t *testing.T, dbPath string, values map[string]string) {
	t.Helper()

	ctx := context.Background()

	kv, err := store.Open(ctx, dbPath, quietLogger())
	require.NoError(t, err)

	defer kv.Close()

	for k, v := range values {
		require.NoError(t, kv.Save(ctx, k, []byte(v)))
	}
}

func storedKeys(t *testing.T, dbPath string) []string {
	t.Helper()

	ctx := context.Background()

	kv, err := store.Open(ctx, dbPath, quietLogger())
	require.NoError(t, err)

	defer kv.Close()

	entries, err := kv.List(ctx)
	require.NoError(t, err)

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}

	return keys
}

func TestStateCmd_ListsKeys(t *testing.T) {
	resetGlobals(t)

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedState(t, filepath.Join(dir, "state.db"), map[string]string{mover.KeyMoveTasks: "[]"})

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--quiet", "state"})
	require.NoError(t, cmd.Execute())
}

func TestStateCmd_MissingDatabase(t *testing.T) {
	resetGlobals(t)

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--quiet", "state"})
	require.NoError(t, cmd.Execute())

	assert.NoFileExists(t, filepath.Join(dir, "state.db"))
}

func TestStateResetCmd_DeletesKeys(t *testing.T) {
	resetGlobals(t)

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	dbPath := filepath.Join(dir, "state.db")

	seedState(t, dbPath, map[string]string{
		mover.KeyMoveTasks:  "[]",
		mover.KeyMoverState: "{}",
	})

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--quiet", "state", "reset", mover.KeyMoveTasks, "absent"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, []string{mover.KeyMoverState}, storedKeys(t, dbPath))
}

func TestStateResetCmd_RequiresKey(t *testing.T) {
	resetGlobals(t)

	cfgPath := writeTestConfig(t, t.TempDir())

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--quiet", "state", "reset"})
	require.Error(t, cmd.Execute())
}

func TestStateResetCmd_RefusedWhileDaemonRuns(t *testing.T) {
	resetGlobals(t)

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	dbPath := filepath.Join(dir, "state.db")

	seedState(t, dbPath, map[string]string{mover.KeyMoveTasks: "[]"})

	lock, err := acquireInstanceLock(filepath.Join(dir, "openlist-mover.lock"))
	require.NoError(t, err)

	defer lock.Release()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--quiet", "state", "reset", mover.KeyMoveTasks})
	require.ErrorIs(t, cmd.Execute(), errDaemonRunning)

	assert.Equal(t, []string{mover.KeyMoveTasks}, storedKeys(t, dbPath))
}

func TestPrintStateEntries(t *testing.T) {
	now := time.Now()

	var buf bytes.Buffer
	printStateEntries(&buf, []store.Entry{
		{Key: mover.KeyMoveTasks, Size: 2048, UpdatedAt: now},
		{Key: mover.KeyMoverState, Size: 2, UpdatedAt: now},
	})

	out := buf.String()
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, mover.KeyMoveTasks)
	assert.Contains(t, out, "2048")
	assert.Contains(t, out, mover.KeyMoverState)
}

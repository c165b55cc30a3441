package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/openlist-mover/internal/mover"
)

func TestScanCmd_EmptyTree(t *testing.T) {
	resetGlobals(t)

	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "watch"), 0o755))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--quiet", "--json", "scan"})
	require.NoError(t, cmd.Execute())

	// The instance lock is released once the scan returns.
	lock, err := acquireInstanceLock(filepath.Join(dir, "openlist-mover.lock"))
	require.NoError(t, err)
	lock.Release()
}

func TestPrintScanStats(t *testing.T) {
	var buf bytes.Buffer

	printScanStats(&buf, mover.ScanStats{FilesSeen: 7, Submitted: 2, Retried: 1}, mover.Counts{Succeeded: 3})

	out := buf.String()
	assert.Contains(t, out, "files seen")
	assert.Contains(t, out, "7")
	assert.Contains(t, out, "tasks succeeded")
}

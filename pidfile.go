package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// errDaemonRunning is returned when another process holds the instance lock.
var errDaemonRunning = errors.New("another openlist-mover daemon is already running")

// instanceLock is the single-instance guard for commands that mutate the
// task registry. The PID file beside the lock lets `signal` find the daemon.
type instanceLock struct {
	lock    *flock.Flock
	pidPath string
}

// pidPathFor derives the PID file path from the lock path.
func pidPathFor(lockPath string) string {
	return strings.TrimSuffix(lockPath, filepath.Ext(lockPath)) + ".pid"
}

// acquireInstanceLock takes the exclusive lock without blocking and records
// the current PID.
func acquireInstanceLock(lockPath string) (*instanceLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty: cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(lockPath), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(lockPath)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", lockPath, err)
	}

	if !ok {
		return nil, fmt.Errorf("%w (could not lock %s)", errDaemonRunning, lockPath)
	}

	l := &instanceLock{lock: fl, pidPath: pidPathFor(lockPath)}

	if err := os.WriteFile(l.pidPath, fmt.Appendf(nil, "%d\n", os.Getpid()), pidFilePermissions); err != nil {
		fl.Unlock()

		return nil, fmt.Errorf("writing PID file: %w", err)
	}

	return l, nil
}

// Release removes the PID file and drops the lock.
func (l *instanceLock) Release() {
	os.Remove(l.pidPath)
	l.lock.Unlock()
}

// readPIDFile reads the PID from the given file path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// signalDaemon sends sig to the daemon named in the PID file. A PID file
// whose process is gone is removed.
func signalDaemon(pidPath string, sig syscall.Signal) error {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no running daemon found (no PID file at %s)", pidPath)
		}

		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 probes liveness.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return fmt.Errorf("daemon (PID %d) is not running (stale PID file removed)", pid)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("sending %s to daemon (PID %d): %w", sig, pid, err)
	}

	return nil
}

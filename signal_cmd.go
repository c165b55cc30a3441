package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/openlist-mover/internal/config"
	"github.com/tonimelisma/openlist-mover/internal/mover"
)

// signalKinds maps the signal command's argument to a process signal.
var signalKinds = map[string]syscall.Signal{
	mover.SignalScan:      syscall.SIGUSR1,
	mover.SignalRetention: syscall.SIGUSR2,
}

func newSignalCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "signal [scan|retention]",
		Short:     "Ask the running daemon to scan or run a retention check",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{mover.SignalScan, mover.SignalRetention},
		RunE:      runSignal,
	}
}

func runSignal(_ *cobra.Command, args []string) error {
	kind := mover.SignalScan
	if len(args) == 1 {
		kind = args[0]
	}

	sig, ok := signalKinds[kind]
	if !ok {
		return fmt.Errorf("unknown signal %q (want scan or retention)", kind)
	}

	lockPath := signalLockPath()

	if err := signalDaemon(pidPathFor(lockPath), sig); err != nil {
		return err
	}

	statusf("Sent %s to the daemon.\n", kind)

	return nil
}

// signalLockPath locates the daemon lock. The command skips the normal
// config load so it still works with a config the daemon would reject; a
// configured lock_path is honored when the file resolves.
func signalLockPath() string {
	cfg, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: flagConfigPath})
	if err == nil && cfg.LockPath != "" {
		return cfg.LockPath
	}

	return config.DefaultLockPath()
}

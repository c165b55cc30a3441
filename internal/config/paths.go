package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Application directory name used across all platforms.
const appName = "openlist-mover"

// File names inside the config and data directories.
const (
	configFileName = "config.toml"
	stateFileName  = "state.db"
	lockFileName   = "openlist-mover.lock"
)

// appDir resolves the per-user application directory. On Linux the XDG
// variable xdgEnv wins over linuxDefault (relative to $HOME); macOS always
// uses ~/Library/Application Support. Returns "" when $HOME is unknown.
func appDir(xdgEnv string, linuxDefault ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if runtime.GOOS == "linux" {
		if xdg := os.Getenv(xdgEnv); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, linuxDefault...), appName)...)
}

// DefaultConfigDir returns the directory holding config.toml
// (~/.config/openlist-mover on Linux).
func DefaultConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the directory for the state database and lock
// file (~/.local/share/openlist-mover on Linux).
func DefaultDataDir() string {
	return appDir("XDG_DATA_HOME", ".local", "share")
}

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	return inDir(DefaultConfigDir(), configFileName)
}

// DefaultStatePath returns the full path to the default state database.
func DefaultStatePath() string {
	return inDir(DefaultDataDir(), stateFileName)
}

// DefaultLockPath returns the full path to the daemon's instance lock.
func DefaultLockPath() string {
	return inDir(DefaultDataDir(), lockFileName)
}

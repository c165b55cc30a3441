package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "OPENLIST_MOVER_CONFIG"
	EnvURL    = "OPENLIST_MOVER_URL"
	EnvToken  = "OPENLIST_MOVER_TOKEN" //nolint:gosec // G101: variable name, not a credential
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // OPENLIST_MOVER_CONFIG: override config file path
	URL        string // OPENLIST_MOVER_URL: server root override
	Token      string // OPENLIST_MOVER_TOKEN: keeps the token out of the config file
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		URL:        os.Getenv(EnvURL),
		Token:      os.Getenv(EnvToken),
	}
}

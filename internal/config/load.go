package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is the fully parsed configuration handed to the engine: durations
// are time.Duration, mappings are parsed, extensions are lowercase, and
// paths are absolute.
type Resolved struct {
	ConfigPath string

	OpenlistURL      string
	OpenlistToken    string
	AwaitRemoteTasks bool
	TaskPollInterval time.Duration
	MaxTaskDuration  time.Duration
	MaxInflight      int

	MonitorPaths    []string
	VideoExtensions []string
	SettleInterval  time.Duration
	SettleTimeout   time.Duration

	PathMappings           []Triplet
	DescriptorPathMappings []Triplet

	DescriptorExtensions     []string
	DescriptorMirrorMode     string
	DescriptorGenerationWait time.Duration

	WashModeEnabled bool
	WashDelay       time.Duration

	ClearAPIThreshold   int
	ClearPanelThreshold int
	KeepSuccessfulTasks int
	KeepFailedTasks     int
	RetentionInterval   time.Duration
	MaxRetries          int

	GlobalScanEnabled bool
	GlobalScanHour    int
	GlobalScanMinute  int
	GlobalScanOnStart bool

	NotifyOnSuccess    bool
	NtfyTopic          string
	NtfyRequestTimeout time.Duration
	HostbusURL         string

	StatePath string
	LockPath  string

	LogLevel  string
	LogFormat string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns a fully resolved and validated configuration ready for use.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.URL != "" {
		cfg.OpenlistURL = env.URL
	}

	if env.Token != "" {
		cfg.OpenlistToken = env.Token
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.WashMode != nil {
		cfg.WashModeEnabled = *cli.WashMode
	}

	// Env values bypass Load's validation, so re-check the merged config.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved, err := ResolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	resolved.ConfigPath = cfgPath

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// ResolveConfig converts an already validated Config into its parsed form
// without applying overrides or the engine-readiness checks.
func ResolveConfig(cfg *Config) (*Resolved, error) {
	r := &Resolved{
		OpenlistURL:         strings.TrimRight(cfg.OpenlistURL, "/"),
		OpenlistToken:       cfg.OpenlistToken,
		AwaitRemoteTasks:    cfg.AwaitRemoteTasks,
		MaxInflight:         cfg.MaxInflight,
		VideoExtensions:     normalizeExtensions(cfg.VideoExtensions),
		WashModeEnabled:     cfg.WashModeEnabled,
		WashDelay:           time.Duration(cfg.WashDelaySeconds) * time.Second,
		ClearAPIThreshold:   cfg.ClearAPIThreshold,
		ClearPanelThreshold: cfg.ClearPanelThreshold,
		KeepSuccessfulTasks: cfg.KeepSuccessfulTasks,
		KeepFailedTasks:     cfg.KeepFailedTasks,
		MaxRetries:          cfg.MaxRetries,
		GlobalScanEnabled:   cfg.GlobalScanEnabled,
		GlobalScanOnStart:   cfg.GlobalScanOnStart,
		NotifyOnSuccess:     cfg.NotifyOnSuccess,
		NtfyTopic:           cfg.NtfyTopic,
		HostbusURL:          cfg.HostbusURL,
		LogLevel:            cfg.LogLevel,
		LogFormat:           cfg.LogFormat,
		UserAgent:           cfg.UserAgent,
	}

	r.DescriptorExtensions = normalizeExtensions(cfg.DescriptorExtensions)
	r.DescriptorMirrorMode = cfg.DescriptorMirrorMode

	durations := []struct {
		dst *time.Duration
		src string
	}{
		{&r.TaskPollInterval, cfg.TaskPollInterval},
		{&r.MaxTaskDuration, cfg.MaxTaskDuration},
		{&r.SettleInterval, cfg.SettleInterval},
		{&r.SettleTimeout, cfg.SettleTimeout},
		{&r.DescriptorGenerationWait, cfg.DescriptorGenerationWait},
		{&r.RetentionInterval, cfg.RetentionInterval},
		{&r.NtfyRequestTimeout, cfg.NtfyRequestTimeout},
		{&r.ConnectTimeout, cfg.ConnectTimeout},
		{&r.RequestTimeout, cfg.RequestTimeout},
	}

	for _, d := range durations {
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return nil, fmt.Errorf("parsing duration %q: %w", d.src, err)
		}

		*d.dst = parsed
	}

	hour, minute, err := ParseScheduleTime(cfg.GlobalScanTime)
	if err != nil {
		return nil, fmt.Errorf("global_scan_time: %w", err)
	}

	r.GlobalScanHour, r.GlobalScanMinute = hour, minute

	for _, p := range cfg.MonitorPaths {
		r.MonitorPaths = append(r.MonitorPaths, filepath.Clean(expandTilde(p)))
	}

	var parseErrs []error

	var errs []error

	r.PathMappings, errs = ParseTriplets(cfg.PathMappings)
	parseErrs = append(parseErrs, errs...)

	r.DescriptorPathMappings, errs = ParseTriplets(cfg.DescriptorPathMappings)
	parseErrs = append(parseErrs, errs...)

	if len(parseErrs) > 0 {
		return nil, errors.Join(parseErrs...)
	}

	for i := range r.PathMappings {
		r.PathMappings[i].Key = expandTilde(r.PathMappings[i].Key)
	}

	for i := range r.DescriptorPathMappings {
		r.DescriptorPathMappings[i].Target = expandTilde(r.DescriptorPathMappings[i].Target)
	}

	r.StatePath = expandTilde(cfg.StatePath)
	if r.StatePath == "" {
		r.StatePath = DefaultStatePath()
	}

	r.LockPath = expandTilde(cfg.LockPath)
	if r.LockPath == "" {
		r.LockPath = DefaultLockPath()
	}

	return r, nil
}

// normalizeExtensions lowercases extensions and drops duplicates, keeping
// first-seen order.
func normalizeExtensions(exts []string) []string {
	seen := make(map[string]bool, len(exts))
	out := make([]string, 0, len(exts))

	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || seen[ext] {
			continue
		}

		seen[ext] = true
		out = append(out, ext)
	}

	return out
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

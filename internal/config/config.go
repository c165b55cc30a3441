// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for openlist-mover. It supports a
// three-layer override chain (defaults -> config file -> environment) with CLI
// flags applied last by the caller.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// All keys are flat at the top level; the embedded sections only group
// related fields in Go.
type Config struct {
	RemoteConfig
	WatchConfig
	MappingConfig
	DescriptorConfig
	WashConfig
	RetentionConfig
	ScanConfig
	NotifyConfig
	StateConfig
	LoggingConfig
	NetworkConfig
}

// RemoteConfig locates the OpenList server.
type RemoteConfig struct {
	OpenlistURL      string `toml:"openlist_url"`
	OpenlistToken    string `toml:"openlist_token"`
	AwaitRemoteTasks bool   `toml:"await_remote_tasks"`
	TaskPollInterval string `toml:"task_poll_interval"`
	MaxTaskDuration  string `toml:"max_task_duration"`
	MaxInflight      int    `toml:"max_inflight"`
}

// WatchConfig controls which local files are picked up and when a file is
// considered fully written.
type WatchConfig struct {
	MonitorPaths    []string `toml:"monitor_paths"`
	VideoExtensions []string `toml:"video_extensions"`
	SettleInterval  string   `toml:"settle_interval"`
	SettleTimeout   string   `toml:"settle_timeout"`
}

// MappingConfig holds the path-translation rules. Each entry is a
// "local:remote_source:remote_dest" triplet (or the descriptor equivalent).
type MappingConfig struct {
	PathMappings           []string `toml:"path_mappings"`
	DescriptorPathMappings []string `toml:"descriptor_path_mappings"`
}

// DescriptorConfig controls how generated .strm files reach the local tree.
type DescriptorConfig struct {
	DescriptorExtensions     []string `toml:"descriptor_extensions"`
	DescriptorMirrorMode     string   `toml:"descriptor_mirror_mode"`
	DescriptorGenerationWait string   `toml:"descriptor_generation_wait"`
}

// WashConfig controls overwrite-on-conflict behavior.
type WashConfig struct {
	WashModeEnabled  bool `toml:"wash_mode_enabled"`
	WashDelaySeconds int  `toml:"wash_delay_seconds"`
}

// RetentionConfig bounds task history on the server and in the registry.
type RetentionConfig struct {
	ClearAPIThreshold   int    `toml:"clear_api_threshold"`
	ClearPanelThreshold int    `toml:"clear_panel_threshold"`
	KeepSuccessfulTasks int    `toml:"keep_successful_tasks"`
	KeepFailedTasks     int    `toml:"keep_failed_tasks"`
	RetentionInterval   string `toml:"retention_interval"`
	MaxRetries          int    `toml:"max_retries"`
}

// ScanConfig controls the periodic full scan.
type ScanConfig struct {
	GlobalScanEnabled bool   `toml:"global_scan_enabled"`
	GlobalScanTime    string `toml:"global_scan_time"`
	GlobalScanOnStart bool   `toml:"global_scan_on_start"`
}

// NotifyConfig controls operator notifications and the host event bus.
type NotifyConfig struct {
	NotifyOnSuccess    bool   `toml:"notify_on_success"`
	NtfyTopic          string `toml:"ntfy_topic"`
	NtfyRequestTimeout string `toml:"ntfy_request_timeout"`
	HostbusURL         string `toml:"hostbus_url"`
}

// StateConfig locates durable state.
type StateConfig struct {
	StatePath string `toml:"state_path"`
	LockPath  string `toml:"lock_path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	WashMode   *bool  // --wash flag
}

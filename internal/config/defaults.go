package config

// Default values for configuration options. These represent "layer 0" of the
// override chain.
const (
	defaultTaskPollInterval         = "10s"
	defaultMaxTaskDuration          = "60m"
	defaultMaxInflight              = 4
	defaultSettleInterval           = "3s"
	defaultSettleTimeout            = "60s"
	defaultDescriptorMirrorMode     = MirrorModeLocal
	defaultDescriptorGenerationWait = "5s"
	defaultWashDelaySeconds         = 60
	defaultClearAPIThreshold        = 10
	defaultClearPanelThreshold      = 30
	defaultKeepSuccessfulTasks      = 3
	defaultKeepFailedTasks          = 50
	defaultRetentionInterval        = "1m"
	defaultMaxRetries               = 3
	defaultGlobalScanTime           = "02:00"
	defaultNtfyRequestTimeout       = "10s"
	defaultLogLevel                 = "info"
	defaultLogFormat                = "auto"
	defaultConnectTimeout           = "10s"
	defaultRequestTimeout           = "30s"
	defaultUserAgent                = "openlist-mover/0.1"
)

// Descriptor mirror modes.
const (
	MirrorModeLocal  = "local"
	MirrorModeRemote = "remote"
)

// DefaultVideoExtensions is the allow-list used when video_extensions is not
// configured. Blu-ray container extensions are included.
var DefaultVideoExtensions = []string{
	".mkv", ".mp4", ".ts", ".avi", ".rmvb", ".wmv", ".mov", ".flv",
	".mpg", ".mpeg", ".iso", ".bdmv", ".m2ts",
}

// DefaultDescriptorExtensions lists the artifacts mirrored per moved file.
var DefaultDescriptorExtensions = []string{".strm"}

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		RemoteConfig: RemoteConfig{
			AwaitRemoteTasks: true,
			TaskPollInterval: defaultTaskPollInterval,
			MaxTaskDuration:  defaultMaxTaskDuration,
			MaxInflight:      defaultMaxInflight,
		},
		WatchConfig: WatchConfig{
			VideoExtensions: append([]string(nil), DefaultVideoExtensions...),
			SettleInterval:  defaultSettleInterval,
			SettleTimeout:   defaultSettleTimeout,
		},
		DescriptorConfig: DescriptorConfig{
			DescriptorExtensions:     append([]string(nil), DefaultDescriptorExtensions...),
			DescriptorMirrorMode:     defaultDescriptorMirrorMode,
			DescriptorGenerationWait: defaultDescriptorGenerationWait,
		},
		WashConfig: WashConfig{
			WashDelaySeconds: defaultWashDelaySeconds,
		},
		RetentionConfig: RetentionConfig{
			ClearAPIThreshold:   defaultClearAPIThreshold,
			ClearPanelThreshold: defaultClearPanelThreshold,
			KeepSuccessfulTasks: defaultKeepSuccessfulTasks,
			KeepFailedTasks:     defaultKeepFailedTasks,
			RetentionInterval:   defaultRetentionInterval,
			MaxRetries:          defaultMaxRetries,
		},
		ScanConfig: ScanConfig{
			GlobalScanTime: defaultGlobalScanTime,
		},
		NotifyConfig: NotifyConfig{
			NtfyRequestTimeout: defaultNtfyRequestTimeout,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
			UserAgent:      defaultUserAgent,
		},
	}
}

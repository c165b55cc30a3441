package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

const fullConfig = `
openlist_url = "http://nas.local:5244/"
openlist_token = "tok"
await_remote_tasks = false
task_poll_interval = "5s"
max_task_duration = "30m"
max_inflight = 2

monitor_paths = ["/watch"]
video_extensions = [".MKV", ".mp4", ".mkv"]
settle_interval = "1s"
settle_timeout = "20s"

path_mappings = ["/watch:/src:/dst", ""]
descriptor_path_mappings = ["/dst:/dsrc:/dlocal"]

descriptor_extensions = [".strm", ".nfo"]
descriptor_mirror_mode = "remote"
descriptor_generation_wait = "2s"

wash_mode_enabled = true
wash_delay_seconds = 15

clear_api_threshold = 5
clear_panel_threshold = 20
keep_successful_tasks = 2
keep_failed_tasks = 10
retention_interval = "30s"
max_retries = 5

global_scan_enabled = true
global_scan_time = "03:30"
global_scan_on_start = true

notify_on_success = true
ntfy_topic = "https://ntfy.sh/mover"
ntfy_request_timeout = "5s"
hostbus_url = "ws://localhost:3001/events"

state_path = "/var/lib/mover/state.db"
lock_path = "/run/mover.lock"

log_level = "debug"
log_format = "json"

connect_timeout = "5s"
request_timeout = "60s"
user_agent = "mover-test/1"
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, fullConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://nas.local:5244/", cfg.OpenlistURL)
	assert.False(t, cfg.AwaitRemoteTasks)
	assert.Equal(t, 2, cfg.MaxInflight)
	assert.Equal(t, []string{"/watch"}, cfg.MonitorPaths)
	assert.Equal(t, MirrorModeRemote, cfg.DescriptorMirrorMode)
	assert.True(t, cfg.WashModeEnabled)
	assert.Equal(t, 15, cfg.WashDelaySeconds)
	assert.Equal(t, "03:30", cfg.GlobalScanTime)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
monitor_paths = ["/watch"]
wash_mode_enabled = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.WashModeEnabled)
	assert.Equal(t, defaultWashDelaySeconds, cfg.WashDelaySeconds)
	assert.Equal(t, defaultClearPanelThreshold, cfg.ClearPanelThreshold)
	assert.Equal(t, DefaultVideoExtensions, cfg.VideoExtensions)
	assert.Equal(t, defaultGlobalScanTime, cfg.GlobalScanTime)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `monitor_paths = [`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
max_inflight = 0
descriptor_mirror_mode = "rsync"
global_scan_time = "25:00"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_inflight")
	assert.Contains(t, err.Error(), "descriptor_mirror_mode")
	assert.Contains(t, err.Error(), "global_scan_time")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolveConfig_ParsesEverything(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, fullConfig))
	require.NoError(t, err)

	r, err := ResolveConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "http://nas.local:5244", r.OpenlistURL)
	assert.Equal(t, 5*time.Second, r.TaskPollInterval)
	assert.Equal(t, 30*time.Minute, r.MaxTaskDuration)
	assert.Equal(t, []string{".mkv", ".mp4"}, r.VideoExtensions)
	assert.Equal(t, []string{".strm", ".nfo"}, r.DescriptorExtensions)
	assert.Equal(t, 15*time.Second, r.WashDelay)
	assert.Equal(t, 2*time.Second, r.DescriptorGenerationWait)
	assert.Equal(t, 3, r.GlobalScanHour)
	assert.Equal(t, 30, r.GlobalScanMinute)
	assert.Equal(t, []Triplet{{Key: "/watch", Source: "/src", Target: "/dst"}}, r.PathMappings)
	assert.Equal(t, []Triplet{{Key: "/dst", Source: "/dsrc", Target: "/dlocal"}}, r.DescriptorPathMappings)
	assert.Equal(t, "/var/lib/mover/state.db", r.StatePath)
	assert.Equal(t, "/run/mover.lock", r.LockPath)
}

func TestResolveConfig_DefaultStatePaths(t *testing.T) {
	r, err := ResolveConfig(DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, DefaultStatePath(), r.StatePath)
	assert.Equal(t, DefaultLockPath(), r.LockPath)
	assert.Equal(t, 60*time.Second, r.WashDelay)
	assert.Equal(t, 2, r.GlobalScanHour)
	assert.Equal(t, 0, r.GlobalScanMinute)
}

func TestResolveConfig_TildeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MonitorPaths = []string{"~/Downloads"}
	cfg.PathMappings = []string{"~/Downloads:/src:/dst"}
	cfg.DescriptorPathMappings = []string{"/dst:/dsrc:~/strm"}

	r, err := ResolveConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "Downloads"), r.MonitorPaths[0])
	assert.Equal(t, filepath.Join(home, "Downloads"), r.PathMappings[0].Key)
	assert.Equal(t, filepath.Join(home, "strm"), r.DescriptorPathMappings[0].Target)
}

func TestResolve_EnvAndCLIOverrides(t *testing.T) {
	path := writeTestConfig(t, `
openlist_url = "http://file.example:5244"
openlist_token = "from-file"
monitor_paths = ["/watch"]
path_mappings = ["/watch:/src:/dst"]
`)

	wash := true
	r, err := Resolve(
		EnvOverrides{URL: "http://env.example:5244", Token: "from-env"},
		CLIOverrides{ConfigPath: path, WashMode: &wash},
	)
	require.NoError(t, err)

	assert.Equal(t, path, r.ConfigPath)
	assert.Equal(t, "http://env.example:5244", r.OpenlistURL)
	assert.Equal(t, "from-env", r.OpenlistToken)
	assert.True(t, r.WashModeEnabled)
}

func TestResolve_CLIPathBeatsEnvPath(t *testing.T) {
	envPath := writeTestConfig(t, `max_inflight = 0`)
	cliPath := writeTestConfig(t, `
openlist_url = "http://nas:5244"
openlist_token = "t"
monitor_paths = ["/watch"]
path_mappings = ["/watch:/src:/dst"]
`)

	r, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath})
	require.NoError(t, err)
	assert.Equal(t, cliPath, r.ConfigPath)
}

func TestResolve_MissingEngineSettings(t *testing.T) {
	path := writeTestConfig(t, `log_level = "warn"`)

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openlist_url")
	assert.Contains(t, err.Error(), "openlist_token")
	assert.Contains(t, err.Error(), "monitor_paths")
	assert.Contains(t, err.Error(), "path_mappings")
}

func TestResolve_InvalidEnvURL(t *testing.T) {
	path := writeTestConfig(t, `
openlist_token = "t"
monitor_paths = ["/watch"]
path_mappings = ["/watch:/src:/dst"]
`)

	_, err := Resolve(EnvOverrides{URL: "ftp://nas"}, CLIOverrides{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openlist_url")
}

func TestNormalizeExtensions(t *testing.T) {
	got := normalizeExtensions([]string{" .MKV", ".mkv", "", ".Mp4"})
	assert.Equal(t, []string{".mkv", ".mp4"}, got)
}

func TestExpandTilde_LeavesOtherPathsAlone(t *testing.T) {
	assert.Equal(t, "/abs/path", expandTilde("/abs/path"))
	assert.Equal(t, "~user/x", expandTilde("~user/x"))
	assert.Empty(t, expandTilde(""))
}

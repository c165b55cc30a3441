package main

import (
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/openlist-mover/internal/config"
)

const redacted = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	})

	return cmd
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	shown := redactConfig(resolvedCfg)

	if flagJSON {
		return printJSON(os.Stdout, shown)
	}

	renderEffective(os.Stdout, shown)

	return nil
}

// redactConfig returns a copy with secrets masked.
func redactConfig(cfg *config.Resolved) *config.Resolved {
	out := *cfg
	if out.OpenlistToken != "" {
		out.OpenlistToken = redacted
	}

	return &out
}

// renderEffective prints the configuration as a key/value table using the
// TOML key names.
func renderEffective(w io.Writer, cfg *config.Resolved) {
	rows := [][]string{
		{"config file", cfg.ConfigPath},
		{"openlist_url", cfg.OpenlistURL},
		{"openlist_token", cfg.OpenlistToken},
		{"await_remote_tasks", strconv.FormatBool(cfg.AwaitRemoteTasks)},
		{"task_poll_interval", cfg.TaskPollInterval.String()},
		{"max_task_duration", cfg.MaxTaskDuration.String()},
		{"max_inflight", strconv.Itoa(cfg.MaxInflight)},
		{"monitor_paths", strings.Join(cfg.MonitorPaths, "\n")},
		{"video_extensions", strings.Join(cfg.VideoExtensions, " ")},
		{"settle_interval", cfg.SettleInterval.String()},
		{"settle_timeout", cfg.SettleTimeout.String()},
		{"path_mappings", joinTriplets(cfg.PathMappings)},
		{"descriptor_path_mappings", joinTriplets(cfg.DescriptorPathMappings)},
		{"descriptor_extensions", strings.Join(cfg.DescriptorExtensions, " ")},
		{"descriptor_mirror_mode", cfg.DescriptorMirrorMode},
		{"descriptor_generation_wait", cfg.DescriptorGenerationWait.String()},
		{"wash_mode_enabled", strconv.FormatBool(cfg.WashModeEnabled)},
		{"wash_delay", cfg.WashDelay.String()},
		{"clear_api_threshold", strconv.Itoa(cfg.ClearAPIThreshold)},
		{"clear_panel_threshold", strconv.Itoa(cfg.ClearPanelThreshold)},
		{"keep_successful_tasks", strconv.Itoa(cfg.KeepSuccessfulTasks)},
		{"keep_failed_tasks", strconv.Itoa(cfg.KeepFailedTasks)},
		{"retention_interval", cfg.RetentionInterval.String()},
		{"max_retries", strconv.Itoa(cfg.MaxRetries)},
		{"global_scan_enabled", strconv.FormatBool(cfg.GlobalScanEnabled)},
		{"global_scan_time", twoDigits(cfg.GlobalScanHour) + ":" + twoDigits(cfg.GlobalScanMinute)},
		{"global_scan_on_start", strconv.FormatBool(cfg.GlobalScanOnStart)},
		{"notify_on_success", strconv.FormatBool(cfg.NotifyOnSuccess)},
		{"ntfy_topic", cfg.NtfyTopic},
		{"hostbus_url", cfg.HostbusURL},
		{"state_path", cfg.StatePath},
		{"lock_path", cfg.LockPath},
		{"log_level", cfg.LogLevel},
		{"log_format", cfg.LogFormat},
		{"connect_timeout", cfg.ConnectTimeout.String()},
		{"request_timeout", cfg.RequestTimeout.String()},
		{"user_agent", cfg.UserAgent},
	}

	renderTable(w, []string{"KEY", "VALUE"}, rows, nil)
}

func joinTriplets(ts []config.Triplet) string {
	lines := make([]string, len(ts))
	for i, t := range ts {
		lines[i] = t.String()
	}

	return strings.Join(lines, "\n")
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}

	return strconv.Itoa(n)
}

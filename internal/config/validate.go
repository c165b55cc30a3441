package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Validation range constants.
const (
	minInflight          = 1
	maxInflight          = 64
	minTaskPollInterval  = 1 * time.Second
	minSettleInterval    = 100 * time.Millisecond
	minRetentionInterval = 1 * time.Second
	minConnectTimeout    = 1 * time.Second
	minRequestTimeout    = 5 * time.Second
	schedulePartCount    = 2
	maxScheduleHour      = 23
	maxScheduleMinute    = 59
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.RemoteConfig)...)
	errs = append(errs, validateWatch(&cfg.WatchConfig)...)
	errs = append(errs, validateMappings(&cfg.MappingConfig)...)
	errs = append(errs, validateDescriptor(&cfg.DescriptorConfig)...)
	errs = append(errs, validateWash(&cfg.WashConfig)...)
	errs = append(errs, validateRetention(&cfg.RetentionConfig)...)
	errs = append(errs, validateScan(&cfg.ScanConfig)...)
	errs = append(errs, validateNotify(&cfg.NotifyConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only apply to a configuration
// about to drive the engine: a server, at least one monitored path, and at
// least one move mapping must be present.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.OpenlistURL == "" {
		errs = append(errs, errors.New("openlist_url: must be set (or OPENLIST_MOVER_URL)"))
	}

	if r.OpenlistToken == "" {
		errs = append(errs, errors.New("openlist_token: must be set (or OPENLIST_MOVER_TOKEN)"))
	}

	if len(r.MonitorPaths) == 0 {
		errs = append(errs, errors.New("monitor_paths: at least one directory is required"))
	}

	if len(r.PathMappings) == 0 {
		errs = append(errs, errors.New("path_mappings: at least one mapping is required"))
	}

	return errors.Join(errs...)
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	if r.OpenlistURL != "" {
		u, err := url.Parse(r.OpenlistURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("openlist_url: must be an http(s) URL, got %q", r.OpenlistURL))
		}
	}

	errs = append(errs, validateDuration("task_poll_interval", r.TaskPollInterval, minTaskPollInterval)...)
	errs = append(errs, validateDuration("max_task_duration", r.MaxTaskDuration, minTaskPollInterval)...)

	if r.MaxInflight < minInflight || r.MaxInflight > maxInflight {
		errs = append(errs, fmt.Errorf("max_inflight: must be between %d and %d, got %d",
			minInflight, maxInflight, r.MaxInflight))
	}

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	for _, p := range w.MonitorPaths {
		if !filepath.IsAbs(expandTilde(p)) {
			errs = append(errs, fmt.Errorf("monitor_paths: %q must be absolute", p))
		}
	}

	if len(w.VideoExtensions) == 0 {
		errs = append(errs, errors.New("video_extensions: must not be empty"))
	}

	errs = append(errs, validateExtensions("video_extensions", w.VideoExtensions)...)
	errs = append(errs, validateDuration("settle_interval", w.SettleInterval, minSettleInterval)...)
	errs = append(errs, validateDuration("settle_timeout", w.SettleTimeout, 0)...)

	return errs
}

func validateMappings(m *MappingConfig) []error {
	var errs []error

	_, pathErrs := ParseTriplets(m.PathMappings)
	for _, err := range pathErrs {
		errs = append(errs, fmt.Errorf("path_mappings: %w", err))
	}

	_, descErrs := ParseTriplets(m.DescriptorPathMappings)
	for _, err := range descErrs {
		errs = append(errs, fmt.Errorf("descriptor_path_mappings: %w", err))
	}

	return errs
}

func validateDescriptor(d *DescriptorConfig) []error {
	var errs []error

	if len(d.DescriptorExtensions) == 0 {
		errs = append(errs, errors.New("descriptor_extensions: must not be empty"))
	}

	errs = append(errs, validateExtensions("descriptor_extensions", d.DescriptorExtensions)...)

	if d.DescriptorMirrorMode != MirrorModeLocal && d.DescriptorMirrorMode != MirrorModeRemote {
		errs = append(errs, fmt.Errorf("descriptor_mirror_mode: must be %q or %q, got %q",
			MirrorModeLocal, MirrorModeRemote, d.DescriptorMirrorMode))
	}

	errs = append(errs, validateDuration("descriptor_generation_wait", d.DescriptorGenerationWait, 0)...)

	return errs
}

func validateWash(w *WashConfig) []error {
	if w.WashDelaySeconds < 0 {
		return []error{fmt.Errorf("wash_delay_seconds: must be >= 0, got %d", w.WashDelaySeconds)}
	}

	return nil
}

func validateRetention(r *RetentionConfig) []error {
	var errs []error

	nonNegative := map[string]int{
		"clear_api_threshold":   r.ClearAPIThreshold,
		"clear_panel_threshold": r.ClearPanelThreshold,
		"keep_successful_tasks": r.KeepSuccessfulTasks,
		"keep_failed_tasks":     r.KeepFailedTasks,
		"max_retries":           r.MaxRetries,
	}

	for _, name := range []string{
		"clear_api_threshold", "clear_panel_threshold", "keep_successful_tasks", "keep_failed_tasks", "max_retries",
	} {
		if nonNegative[name] < 0 {
			errs = append(errs, fmt.Errorf("%s: must be >= 0, got %d", name, nonNegative[name]))
		}
	}

	if r.ClearPanelThreshold > 0 && r.KeepSuccessfulTasks >= r.ClearPanelThreshold {
		errs = append(errs, fmt.Errorf("keep_successful_tasks: must be below clear_panel_threshold (%d), got %d",
			r.ClearPanelThreshold, r.KeepSuccessfulTasks))
	}

	errs = append(errs, validateDuration("retention_interval", r.RetentionInterval, minRetentionInterval)...)

	return errs
}

func validateScan(s *ScanConfig) []error {
	if _, _, err := ParseScheduleTime(s.GlobalScanTime); err != nil {
		return []error{fmt.Errorf("global_scan_time: %w", err)}
	}

	return nil
}

func validateNotify(n *NotifyConfig) []error {
	var errs []error

	if n.NtfyTopic != "" {
		if u, err := url.Parse(n.NtfyTopic); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("ntfy_topic: must be a full topic URL, got %q", n.NtfyTopic))
		}
	}

	if n.HostbusURL != "" {
		u, err := url.Parse(n.HostbusURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("hostbus_url: must be a ws:// or wss:// URL, got %q", n.HostbusURL))
		}
	}

	errs = append(errs, validateDuration("ntfy_request_timeout", n.NtfyRequestTimeout, minConnectTimeout)...)

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDuration("request_timeout", n.RequestTimeout, minRequestTimeout)...)

	return errs
}

// validateDuration checks that s parses as a Go duration no shorter than
// minimum.
func validateDuration(field, s string, minimum time.Duration) []error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, s, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, s)}
	}

	return nil
}

func validateExtensions(field string, exts []string) []error {
	var errs []error

	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			errs = append(errs, fmt.Errorf("%s: %q must start with '.'", field, ext))
		}
	}

	return errs
}

// ParseScheduleTime parses "HH:MM" into hour and minute.
func ParseScheduleTime(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", schedulePartCount)
	if len(parts) != schedulePartCount {
		return 0, 0, fmt.Errorf("invalid time format %q: expected HH:MM", s)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > maxScheduleHour {
		return 0, 0, fmt.Errorf("invalid hour in %q: must be 00-23", s)
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > maxScheduleMinute {
		return 0, 0, fmt.Errorf("invalid minute in %q: must be 00-59", s)
	}

	return hour, minute, nil
}

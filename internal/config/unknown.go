package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid top-level keys in the config file.
var knownKeys = map[string]bool{
	// Remote
	"openlist_url": true, "openlist_token": true, "await_remote_tasks": true,
	"task_poll_interval": true, "max_task_duration": true, "max_inflight": true,
	// Watch
	"monitor_paths": true, "video_extensions": true, "settle_interval": true, "settle_timeout": true,
	// Mappings
	"path_mappings": true, "descriptor_path_mappings": true,
	// Descriptors
	"descriptor_extensions": true, "descriptor_mirror_mode": true, "descriptor_generation_wait": true,
	// Wash
	"wash_mode_enabled": true, "wash_delay_seconds": true,
	// Retention
	"clear_api_threshold": true, "clear_panel_threshold": true, "keep_successful_tasks": true,
	"keep_failed_tasks": true, "retention_interval": true, "max_retries": true,
	// Scan
	"global_scan_enabled": true, "global_scan_time": true, "global_scan_on_start": true,
	// Notify
	"notify_on_success": true, "ntfy_topic": true, "ntfy_request_timeout": true, "hostbus_url": true,
	// State
	"state_path": true, "lock_path": true,
	// Logging
	"log_level": true, "log_format": true,
	// Network
	"connect_timeout": true, "request_timeout": true, "user_agent": true,
}

// knownKeysList is the sorted slice form of knownKeys for Levenshtein
// matching. Sorted for deterministic suggestions when two candidates have
// the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		fieldName := strings.SplitN(key.String(), ".", 2)[0]

		suggestion := closestMatch(fieldName, knownKeysList)
		if suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q (did you mean %q?)", fieldName, suggestion))
			continue
		}

		errs = append(errs, fmt.Errorf("unknown config key %q", fieldName))
	}

	return errors.Join(errs...)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

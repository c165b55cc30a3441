// Package mover implements the move-and-mirror pipeline: it turns local file
// events into remote moves through an OpenList server, then regenerates and
// mirrors the server's stream descriptors (.strm files) into a local tree.
//
// Flow: Watcher/Scanner -> Orchestrator -> PathMapper -> remote move ->
// Registry -> DescriptorSync -> local descriptor tree. Retention bounds the
// registry and the server's task history independently.
package mover

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for mapping resolution.
var (
	ErrNoMappingFound      = errors.New("mover: no path mapping matches")
	ErrNoDescriptorMapping = errors.New("mover: no descriptor mapping matches")
	ErrUnknownSignal       = errors.New("mover: unknown signal kind")
	ErrTaskNotFound        = errors.New("mover: task not found")
)

// TaskState is a MoveTask's position in the pipeline.
type TaskState string

// Task states. Pending, Moving and StrmSyncing are non-terminal.
const (
	StatePending       TaskState = "pending"
	StateMoving        TaskState = "moving"
	StateMoveSucceeded TaskState = "move_succeeded"
	StateStrmSyncing   TaskState = "strm_syncing"
	StateStrmSynced    TaskState = "strm_synced"
	StateMoveFailed    TaskState = "move_failed"
	StateFailed        TaskState = "failed"
	StateAborted       TaskState = "aborted"
)

// Active reports whether a task in this state still owns its path.
// MoveSucceeded counts as active: descriptor sync follows immediately.
func (s TaskState) Active() bool {
	switch s {
	case StatePending, StateMoving, StateMoveSucceeded, StateStrmSyncing:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the task finished the whole pipeline.
func (s TaskState) Succeeded() bool {
	return s == StateStrmSynced
}

// Failed reports whether the task ended in a failure state.
func (s TaskState) Failed() bool {
	return s == StateMoveFailed || s == StateFailed
}

// FailureReason classifies why a task did not succeed.
type FailureReason string

// Failure reasons. NoMappingFound never reaches a task; it is reported only
// through logs and scan statistics.
const (
	ReasonNone                FailureReason = ""
	ReasonNoMappingFound      FailureReason = "no_mapping_found"
	ReasonConflict            FailureReason = "conflict"
	ReasonRemoteAPIError      FailureReason = "remote_api_error"
	ReasonFilesystemError     FailureReason = "filesystem_error"
	ReasonNoDescriptorMapping FailureReason = "no_descriptor_mapping"
	ReasonAborted             FailureReason = "aborted"
	ReasonUnsettled           FailureReason = "unsettled"
	ReasonInterrupted         FailureReason = "interrupted"
	ReasonRetryExhausted      FailureReason = "retry_exhausted"
)

// Retryable reports whether the scanner may resubmit a task that failed for
// this reason. Conflicts wait for an operator or wash mode.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonRemoteAPIError, ReasonFilesystemError, ReasonUnsettled, ReasonInterrupted:
		return true
	default:
		return false
	}
}

// MoveTask tracks one local file through the pipeline. Identity is the
// normalized local path.
type MoveTask struct {
	ID                  string        `json:"id"`
	LocalPath           string        `json:"local_path"`
	RemoteSourcePath    string        `json:"remote_source_path"`
	RemoteDestPath      string        `json:"remote_dest_path"`
	State               TaskState     `json:"state"`
	RetryCount          int           `json:"retry_count"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	CompletedAt         time.Time     `json:"completed_at,omitzero"`
	WashApplied         bool          `json:"wash_applied"`
	FailureReason       FailureReason `json:"failure_reason,omitempty"`
	Error               string        `json:"error,omitempty"`
	RemoteTaskID        string        `json:"remote_task_id,omitempty"`
	DescriptorLocalPath string        `json:"descriptor_local_path,omitempty"`
}

// MoveCompleted reports whether the remote move already happened, so only
// the descriptor phase remains.
func (t *MoveTask) MoveCompleted() bool {
	switch t.State {
	case StateMoveSucceeded, StateStrmSyncing, StateStrmSynced, StateFailed:
		return true
	default:
		return false
	}
}

// EventKind identifies where a Submit call came from.
type EventKind int

// Event kinds.
const (
	EventCreated EventKind = iota
	EventMovedIn
	EventSynthetic
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventMovedIn:
		return "moved_in"
	case EventSynthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a qualifying filesystem change for a single file.
type Event struct {
	Kind EventKind
	Path string
}

// TaskError carries the failure reason alongside the underlying cause.
type TaskError struct {
	Reason FailureReason
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

func taskErr(reason FailureReason, err error) *TaskError {
	return &TaskError{Reason: reason, Err: err}
}

// reasonOf extracts the FailureReason from err, defaulting to fallback.
func reasonOf(err error, fallback FailureReason) FailureReason {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Reason
	}

	return fallback
}

// Persistence stores opaque blobs by key. Load returns nil data for a key
// that was never saved.
type Persistence interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// Persistence keys.
const (
	KeyMoveTasks  = "move_tasks"
	KeyMoverState = "mover_state"
)

// Signal kinds accepted by Engine.HandleSignal.
const (
	SignalScan                 = "scan"
	SignalRemoteIndexRefreshed = "remote_index_refreshed"
	SignalRetention            = "retention"
)

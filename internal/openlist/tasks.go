package openlist

import (
	"context"
	"fmt"
	"net/url"
)

// TaskKind selects one of the server's background task queues.
type TaskKind string

// Task queues used by the mover.
const (
	TaskKindMove TaskKind = "move"
	TaskKindCopy TaskKind = "copy"
)

// TaskState mirrors the server's task state machine.
type TaskState int

// Server task states.
const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSucceeded
	TaskCanceling
	TaskCanceled
	TaskErrored
	TaskFailing
	TaskFailed
	TaskWaitingRetry
	TaskBeforeRetry
)

// Done reports whether the task reached a final state.
func (s TaskState) Done() bool {
	switch s {
	case TaskSucceeded, TaskCanceled, TaskErrored, TaskFailed:
		return true
	default:
		return false
	}
}

// TaskInfo is the status of a single background task.
type TaskInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	State    TaskState `json:"state"`
	Status   string    `json:"status"`
	Progress float64   `json:"progress"`
	Error    string    `json:"error"`
}

// TaskInfo fetches the state of a background task.
func (c *Client) TaskInfo(ctx context.Context, kind TaskKind, id string) (*TaskInfo, error) {
	path := fmt.Sprintf("/api/admin/task/%s/info?tid=%s", kind, url.QueryEscape(id))

	var info TaskInfo
	if err := c.post(ctx, path, nil, &info, true); err != nil {
		return nil, fmt.Errorf("openlist: task %s/%s info: %w", kind, id, err)
	}

	return &info, nil
}

// ClearSucceeded drops the server's record of succeeded tasks in a queue.
func (c *Client) ClearSucceeded(ctx context.Context, kind TaskKind) error {
	path := fmt.Sprintf("/api/admin/task/%s/clear_succeeded", kind)

	if err := c.post(ctx, path, nil, nil, true); err != nil {
		return fmt.Errorf("openlist: clearing succeeded %s tasks: %w", kind, err)
	}

	return nil
}

package mover

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Registry is the ordered in-memory set of MoveTasks, keyed by normalized
// local path. Every mutation is persisted through the injected Persistence.
// At most one active task exists per path.
type Registry struct {
	mu     sync.Mutex
	tasks  []*MoveTask
	byPath map[string]*MoveTask

	// saveMu orders snapshots so a slower save never overwrites a newer one.
	saveMu  sync.Mutex
	persist Persistence

	logger  *slog.Logger
	nowFunc func() time.Time
	idFunc  func() string
}

// NewRegistry returns an empty registry backed by persist.
func NewRegistry(persist Persistence, logger *slog.Logger) *Registry {
	return &Registry{
		byPath:  make(map[string]*MoveTask),
		persist: persist,
		logger:  logger,
		nowFunc: time.Now,
		idFunc:  func() string { return uuid.NewString() },
	}
}

// NormalizePath cleans p and converts it to Unicode NFC so that the same
// file reported by different sources maps to one registry key.
func NormalizePath(p string) string {
	return norm.NFC.String(filepath.Clean(p))
}

// Load replaces the registry contents with the persisted task list. Tasks
// that were still active when the previous process stopped are marked failed
// with ReasonInterrupted so the scanner retries them. Returns the number of
// recovered tasks.
func (r *Registry) Load(ctx context.Context) (int, error) {
	data, err := r.persist.Load(ctx, KeyMoveTasks)
	if err != nil {
		return 0, fmt.Errorf("mover: loading task registry: %w", err)
	}

	var tasks []*MoveTask
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tasks); err != nil {
			return 0, fmt.Errorf("mover: decoding task registry: %w", err)
		}
	}

	now := r.nowFunc()
	recovered := 0

	r.mu.Lock()
	r.tasks = r.tasks[:0]
	r.byPath = make(map[string]*MoveTask, len(tasks))

	for _, t := range tasks {
		if t == nil || t.LocalPath == "" {
			continue
		}

		t.LocalPath = NormalizePath(t.LocalPath)

		if t.State.Active() {
			if t.MoveCompleted() {
				t.State = StateFailed
			} else {
				t.State = StateMoveFailed
			}

			t.FailureReason = ReasonInterrupted
			t.Error = "process stopped while task was in progress"
			t.UpdatedAt = now
			t.CompletedAt = now
			recovered++
		}

		if prev, ok := r.byPath[t.LocalPath]; ok {
			r.removeLocked(prev)
		}

		r.tasks = append(r.tasks, t)
		r.byPath[t.LocalPath] = t
	}
	r.mu.Unlock()

	r.logger.Info("task registry loaded",
		slog.Int("tasks", len(tasks)),
		slog.Int("recovered", recovered),
	)

	if recovered > 0 {
		if err := r.save(ctx); err != nil {
			return recovered, err
		}
	}

	return recovered, nil
}

// Get returns a copy of the task for localPath.
func (r *Registry) Get(localPath string) (MoveTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byPath[NormalizePath(localPath)]
	if !ok {
		return MoveTask{}, false
	}

	return *t, true
}

// IsActive reports whether localPath has a non-terminal task.
func (r *Registry) IsActive(localPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byPath[NormalizePath(localPath)]

	return ok && t.State.Active()
}

// Admit creates a Pending task for localPath unless an active task already
// owns the path. A terminal task for the same path is replaced; when retry
// is true its retry count carries over incremented, otherwise it restarts at
// zero. The boolean result is false when the event was coalesced.
func (r *Registry) Admit(ctx context.Context, localPath, src, dst string, retry bool) (MoveTask, bool, error) {
	key := NormalizePath(localPath)
	now := r.nowFunc()

	r.mu.Lock()

	prev, exists := r.byPath[key]
	if exists && prev.State.Active() {
		r.mu.Unlock()
		return *prev, false, nil
	}

	t := &MoveTask{
		ID:               r.idFunc(),
		LocalPath:        key,
		RemoteSourcePath: src,
		RemoteDestPath:   dst,
		State:            StatePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if exists {
		if retry {
			t.RetryCount = prev.RetryCount + 1
		}

		r.removeLocked(prev)
	}

	r.tasks = append(r.tasks, t)
	r.byPath[key] = t
	snapshot := *t
	r.mu.Unlock()

	return snapshot, true, r.save(ctx)
}

// Reopen moves a descriptor-phase failure back to MoveSucceeded for another
// descriptor attempt, charging it against the retry budget. It returns false
// when the task is missing or not eligible.
func (r *Registry) Reopen(ctx context.Context, localPath string) (MoveTask, bool, error) {
	key := NormalizePath(localPath)

	r.mu.Lock()

	t, ok := r.byPath[key]
	if !ok || t.State != StateFailed {
		r.mu.Unlock()
		return MoveTask{}, false, nil
	}

	t.State = StateMoveSucceeded
	t.RetryCount++
	t.FailureReason = ReasonNone
	t.Error = ""
	t.CompletedAt = time.Time{}
	t.UpdatedAt = r.nowFunc()
	snapshot := *t
	r.mu.Unlock()

	return snapshot, true, r.save(ctx)
}

// Update applies fn to the task for localPath under the registry lock and
// persists the result. Transitions into a terminal state stamp CompletedAt.
func (r *Registry) Update(ctx context.Context, localPath string, fn func(*MoveTask)) (MoveTask, error) {
	key := NormalizePath(localPath)

	r.mu.Lock()

	t, ok := r.byPath[key]
	if !ok {
		r.mu.Unlock()
		return MoveTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, key)
	}

	wasActive := t.State.Active()
	fn(t)

	now := r.nowFunc()
	t.UpdatedAt = now

	if wasActive && !t.State.Active() {
		t.CompletedAt = now
	}

	snapshot := *t
	r.mu.Unlock()

	return snapshot, r.save(ctx)
}

// ResetRetries clears the retry budget of a failed task so the scanner
// considers it again. Conflict and exhausted tasks become retryable, and an
// aborted task is retried if its file is still present.
func (r *Registry) ResetRetries(ctx context.Context, localPath string) (MoveTask, error) {
	return r.Update(ctx, localPath, func(t *MoveTask) {
		if !t.State.Failed() && t.State != StateAborted {
			return
		}

		if t.State == StateAborted {
			t.State = StateMoveFailed
		}

		t.RetryCount = 0

		if !t.FailureReason.Retryable() {
			t.FailureReason = ReasonInterrupted
		}
	})
}

// Snapshot returns copies of all tasks, most recently completed first.
// Active tasks sort ahead of completed ones.
func (r *Registry) Snapshot() []MoveTask {
	r.mu.Lock()
	out := make([]MoveTask, 0, len(r.tasks))

	for _, t := range r.tasks {
		out = append(out, *t)
	}
	r.mu.Unlock()

	slices.SortStableFunc(out, func(a, b MoveTask) int {
		return compareRecency(&a, &b)
	})

	return out
}

// Counts tallies tasks by outcome.
type Counts struct {
	Active    int
	Succeeded int
	Failed    int
	Aborted   int
}

// Counts returns the number of tasks in each outcome bucket.
func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c Counts

	for _, t := range r.tasks {
		switch {
		case t.State.Active():
			c.Active++
		case t.State.Succeeded():
			c.Succeeded++
		case t.State.Failed():
			c.Failed++
		case t.State == StateAborted:
			c.Aborted++
		}
	}

	return c
}

// PruneSucceeded keeps the keep most recently completed successful tasks
// and drops the rest. Active and failed tasks are never touched.
func (r *Registry) PruneSucceeded(ctx context.Context, keep int) (int, error) {
	return r.prune(ctx, keep, func(t *MoveTask) bool { return t.State.Succeeded() })
}

// PruneFailed keeps the keep most recently completed failed or aborted tasks.
func (r *Registry) PruneFailed(ctx context.Context, keep int) (int, error) {
	return r.prune(ctx, keep, func(t *MoveTask) bool {
		return t.State.Failed() || t.State == StateAborted
	})
}

func (r *Registry) prune(ctx context.Context, keep int, match func(*MoveTask) bool) (int, error) {
	r.mu.Lock()

	var candidates []*MoveTask

	for _, t := range r.tasks {
		if !t.State.Active() && match(t) {
			candidates = append(candidates, t)
		}
	}

	if len(candidates) <= keep {
		r.mu.Unlock()
		return 0, nil
	}

	slices.SortStableFunc(candidates, compareRecency)

	for _, t := range candidates[max(keep, 0):] {
		r.removeLocked(t)
	}

	removed := len(candidates) - max(keep, 0)
	r.mu.Unlock()

	r.logger.Info("pruned task registry",
		slog.Int("removed", removed),
		slog.Int("kept", keep),
	)

	return removed, r.save(ctx)
}

// removeLocked drops t from both indexes. Caller holds r.mu.
func (r *Registry) removeLocked(t *MoveTask) {
	if r.byPath[t.LocalPath] == t {
		delete(r.byPath, t.LocalPath)
	}

	r.tasks = slices.DeleteFunc(r.tasks, func(x *MoveTask) bool { return x == t })
}

// save persists a consistent snapshot of the registry.
func (r *Registry) save(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	data, err := json.Marshal(r.tasks)
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("mover: encoding task registry: %w", err)
	}

	if err := r.persist.Save(ctx, KeyMoveTasks, data); err != nil {
		return fmt.Errorf("mover: saving task registry: %w", err)
	}

	return nil
}

// compareRecency orders active tasks first, then by completion time
// descending, then by creation time descending.
func compareRecency(a, b *MoveTask) int {
	aActive, bActive := a.State.Active(), b.State.Active()
	if aActive != bActive {
		if aActive {
			return -1
		}

		return 1
	}

	if c := b.CompletedAt.Compare(a.CompletedAt); c != 0 {
		return c
	}

	return b.CreatedAt.Compare(a.CreatedAt)
}

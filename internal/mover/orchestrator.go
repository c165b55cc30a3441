package mover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/openlist-mover/internal/notify"
	"github.com/tonimelisma/openlist-mover/internal/openlist"
)

// tempSuffixes mark files a downloader is still writing.
var tempSuffixes = []string{".!qb", ".part", ".mp", ".tmp", ".temp", ".download"}

var (
	errTaskCanceled = errors.New("mover: task canceled by filesystem event")
	errFileVanished = errors.New("mover: file disappeared before it settled")
)

// SubmitResult reports what Submit did with an event.
type SubmitResult int

// Submit outcomes.
const (
	SubmitAccepted SubmitResult = iota
	SubmitFiltered
	SubmitCoalesced
	SubmitUnmapped
)

func (r SubmitResult) String() string {
	switch r {
	case SubmitAccepted:
		return "accepted"
	case SubmitFiltered:
		return "filtered"
	case SubmitCoalesced:
		return "coalesced"
	case SubmitUnmapped:
		return "unmapped"
	default:
		return fmt.Sprintf("SubmitResult(%d)", int(r))
	}
}

// OrchestratorConfig controls the move phase.
type OrchestratorConfig struct {
	VideoExtensions  []string
	SettleInterval   time.Duration
	SettleTimeout    time.Duration
	WashEnabled      bool
	AwaitRemoteTasks bool
	TaskPollInterval time.Duration
	MaxTaskDuration  time.Duration
	NotifyOnSuccess  bool
}

// OrchestratorDeps are the collaborators of an Orchestrator. The hooks are
// optional.
type OrchestratorDeps struct {
	Mapper      *PathMapper
	Registry    *Registry
	Remote      RemoteFS
	Descriptors *DescriptorSync
	Notifier    Notifier
	Sem         *semaphore.Weighted
	Logger      *slog.Logger

	OnMoveSucceeded func(ctx context.Context)
	OnTaskSucceeded func(ctx context.Context)
}

// OrchestratorStats are cumulative counters since process start.
type OrchestratorStats struct {
	Accepted  int64
	Filtered  int64
	Coalesced int64
	Unmapped  int64
	Succeeded int64
	Failed    int64
	Aborted   int64
}

// inflightTask is the cancellation handle for a running task. cancelable
// goes false once the remote move is issued: from then on the local file
// disappearing is the expected outcome, not a reason to abort.
type inflightTask struct {
	cancel     context.CancelCauseFunc
	cancelable bool
}

// Orchestrator turns file events into MoveTasks and drives each task through
// the move and descriptor phases. Submit is the single entry point for the
// watcher, the scanner, and the CLI.
type Orchestrator struct {
	cfg  OrchestratorConfig
	exts map[string]bool
	deps OrchestratorDeps

	mu       sync.Mutex
	inflight map[string]*inflightTask
	wg       sync.WaitGroup

	accepted  atomic.Int64
	filtered  atomic.Int64
	coalesced atomic.Int64
	unmapped  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	aborted   atomic.Int64

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator returns an Orchestrator ready to accept events.
func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps) *Orchestrator {
	exts := make(map[string]bool, len(cfg.VideoExtensions))
	for _, e := range cfg.VideoExtensions {
		exts[strings.ToLower(e)] = true
	}

	if deps.Notifier == nil {
		deps.Notifier = notify.NewService(notify.Options{})
	}

	return &Orchestrator{
		cfg:       cfg,
		exts:      exts,
		deps:      deps,
		inflight:  make(map[string]*inflightTask),
		sleepFunc: timeSleep,
	}
}

// IsCandidate reports whether name passes the extension allow-list and is
// not a partial download.
func (o *Orchestrator) IsCandidate(name string) bool {
	lower := strings.ToLower(name)

	for _, s := range tempSuffixes {
		if strings.HasSuffix(lower, s) {
			return false
		}
	}

	return o.exts[path.Ext(lower)]
}

// Submit admits an event. Accepted events run asynchronously under ctx; use
// Wait to block until all of them finish. Synthetic events from the scanner
// count against the previous task's retry budget.
func (o *Orchestrator) Submit(ctx context.Context, ev Event) SubmitResult {
	localPath := NormalizePath(ev.Path)
	logger := o.deps.Logger.With(slog.String("path", localPath), slog.String("event", ev.Kind.String()))

	if !o.IsCandidate(filepath.Base(localPath)) {
		o.filtered.Add(1)
		return SubmitFiltered
	}

	if o.deps.Registry.IsActive(localPath) {
		o.coalesced.Add(1)
		logger.Debug("task already active, event coalesced")

		return SubmitCoalesced
	}

	src, dst, err := o.deps.Mapper.ResolveMove(localPath)
	if err != nil {
		o.unmapped.Add(1)
		logger.Warn("no path mapping for file, skipping")

		return SubmitUnmapped
	}

	task, created, err := o.deps.Registry.Admit(ctx, localPath, src, dst, ev.Kind == EventSynthetic)
	if !created {
		o.coalesced.Add(1)
		return SubmitCoalesced
	}

	if err != nil {
		// The task exists in memory; the next successful save persists it.
		logger.Warn("persisting new task failed", slog.String("error", err.Error()))
	}

	o.accepted.Add(1)
	logger.Info("move task created",
		slog.String("task_id", task.ID),
		slog.String("remote_source", src),
		slog.String("remote_dest", dst),
		slog.Int("retry", task.RetryCount),
	)

	o.start(ctx, task, false)

	return SubmitAccepted
}

// RetryDescriptors reruns only the descriptor phase for a task whose move
// succeeded but whose descriptor sync failed. Returns false when the task is
// not eligible.
func (o *Orchestrator) RetryDescriptors(ctx context.Context, localPath string) bool {
	task, ok, err := o.deps.Registry.Reopen(ctx, localPath)
	if !ok {
		return false
	}

	if err != nil {
		o.deps.Logger.Warn("persisting reopened task failed",
			slog.String("path", localPath), slog.String("error", err.Error()))
	}

	o.deps.Logger.Info("retrying descriptor sync",
		slog.String("path", task.LocalPath),
		slog.String("task_id", task.ID),
		slog.Int("retry", task.RetryCount),
	)

	o.start(ctx, task, true)

	return true
}

// Cancel aborts the task for localPath if it has not yet issued its remote
// move. Returns true when a task was canceled.
func (o *Orchestrator) Cancel(localPath string) bool {
	key := NormalizePath(localPath)

	o.mu.Lock()
	it, ok := o.inflight[key]
	canceled := ok && it.cancelable

	if canceled {
		it.cancel(errTaskCanceled)
	}
	o.mu.Unlock()

	if canceled {
		o.deps.Logger.Info("task canceled by filesystem event", slog.String("path", key))
	}

	return canceled
}

// Wait blocks until every started task has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stats returns a snapshot of the cumulative counters.
func (o *Orchestrator) Stats() OrchestratorStats {
	return OrchestratorStats{
		Accepted:  o.accepted.Load(),
		Filtered:  o.filtered.Load(),
		Coalesced: o.coalesced.Load(),
		Unmapped:  o.unmapped.Load(),
		Succeeded: o.succeeded.Load(),
		Failed:    o.failed.Load(),
		Aborted:   o.aborted.Load(),
	}
}

func (o *Orchestrator) start(ctx context.Context, task MoveTask, descriptorOnly bool) {
	taskCtx, cancel := context.WithCancelCause(ctx)

	it := &inflightTask{cancel: cancel, cancelable: !descriptorOnly}

	o.mu.Lock()
	o.inflight[task.LocalPath] = it
	o.mu.Unlock()

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		defer o.release(task.LocalPath, it)

		o.safeExecute(taskCtx, task, descriptorOnly)
	}()
}

// release drops the handle unless a newer task for the same path already
// replaced it.
func (o *Orchestrator) release(localPath string, it *inflightTask) {
	o.mu.Lock()
	if o.inflight[localPath] == it {
		delete(o.inflight, localPath)
	}
	o.mu.Unlock()

	it.cancel(nil)
}

// safeExecute wraps execute with panic recovery so a bug in one task never
// takes down the process or leaves the path locked.
func (o *Orchestrator) safeExecute(ctx context.Context, task MoveTask, descriptorOnly bool) {
	defer func() {
		if r := recover(); r != nil {
			o.deps.Logger.Error("panic in task execution",
				slog.String("task_id", task.ID),
				slog.String("path", task.LocalPath),
				slog.Any("panic", r),
			)
			o.fail(ctx, task.LocalPath, taskErr(ReasonFilesystemError, fmt.Errorf("panic: %v", r)))
		}
	}()

	o.execute(ctx, task, descriptorOnly)
}

func (o *Orchestrator) execute(ctx context.Context, task MoveTask, descriptorOnly bool) {
	if !descriptorOnly {
		moved, err := o.movePhase(ctx, task)
		if err != nil {
			o.fail(ctx, task.LocalPath, err)
			return
		}

		task = moved
	}

	o.descriptorPhase(ctx, task)
}

// movePhase waits for the file to settle, then moves it on the server.
func (o *Orchestrator) movePhase(ctx context.Context, task MoveTask) (MoveTask, error) {
	if err := o.waitSettled(ctx, task.LocalPath); err != nil {
		return task, err
	}

	pctx := context.WithoutCancel(ctx)
	task = o.update(pctx, task, func(t *MoveTask) { t.State = StateMoving })

	srcDir, name := path.Dir(task.RemoteSourcePath), path.Base(task.RemoteSourcePath)
	dstDir := path.Dir(task.RemoteDestPath)

	wash := false
	if o.cfg.WashEnabled {
		wash = o.preClean(ctx, dstDir, name)
	}

	if ctx.Err() != nil {
		return task, o.cancelErr(ctx, ctx.Err())
	}

	o.markNotCancelable(task.LocalPath)

	// A move request that reached the server must not be abandoned halfway;
	// the HTTP client's own timeouts bound it.
	mctx := context.WithoutCancel(ctx)
	req := openlist.MoveRequest{SrcDir: srcDir, DstDir: dstDir, Names: []string{name}, Overwrite: wash}

	var res *openlist.MoveResult

	err := withSlot(ctx, o.deps.Sem, func() error {
		var moveErr error
		res, moveErr = o.deps.Remote.Move(mctx, req)

		return moveErr
	})

	if errors.Is(err, openlist.ErrConflict) {
		if !o.cfg.WashEnabled {
			return task, taskErr(ReasonConflict, err)
		}

		o.deps.Logger.Info("target exists, moving again with overwrite",
			slog.String("path", task.LocalPath), slog.String("remote_dest", task.RemoteDestPath))

		req.Overwrite = true
		wash = true

		err = withSlot(ctx, o.deps.Sem, func() error {
			var moveErr error
			res, moveErr = o.deps.Remote.Move(mctx, req)

			return moveErr
		})
	}

	if err != nil {
		return task, o.remoteErr(ctx, fmt.Errorf("moving %s to %s: %w", task.RemoteSourcePath, dstDir, err))
	}

	var remoteID string
	if res != nil && len(res.TaskIDs) > 0 {
		remoteID = res.TaskIDs[0]
	}

	task = o.update(pctx, task, func(t *MoveTask) {
		t.WashApplied = wash
		t.RemoteTaskID = remoteID
	})

	if o.cfg.AwaitRemoteTasks && remoteID != "" {
		if err := o.awaitRemoteTask(ctx, remoteID); err != nil {
			return task, err
		}
	}

	task = o.update(pctx, task, func(t *MoveTask) { t.State = StateMoveSucceeded })

	o.deps.Logger.Info("file moved",
		slog.String("task_id", task.ID),
		slog.String("remote_dest", task.RemoteDestPath),
		slog.Bool("wash", wash),
	)

	if o.deps.OnMoveSucceeded != nil {
		o.deps.OnMoveSucceeded(pctx)
	}

	return task, nil
}

// descriptorPhase mirrors the descriptors for a moved file.
func (o *Orchestrator) descriptorPhase(ctx context.Context, task MoveTask) {
	pctx := context.WithoutCancel(ctx)

	task = o.update(pctx, task, func(t *MoveTask) { t.State = StateStrmSyncing })

	primary, err := o.deps.Descriptors.Sync(ctx, task)
	if err != nil {
		o.fail(ctx, task.LocalPath, err)
		return
	}

	task = o.update(pctx, task, func(t *MoveTask) {
		t.State = StateStrmSynced
		t.DescriptorLocalPath = primary
		t.FailureReason = ReasonNone
		t.Error = ""
	})

	o.succeeded.Add(1)

	if o.deps.OnTaskSucceeded != nil {
		o.deps.OnTaskSucceeded(pctx)
	}

	if o.cfg.NotifyOnSuccess {
		title := "Move complete"
		if task.WashApplied {
			title = "Move complete (overwritten)"
		}

		o.notify(pctx, notify.Message{
			Title: title,
			Body:  fmt.Sprintf("%s\n-> %s\ndescriptor: %s", task.LocalPath, task.RemoteDestPath, primary),
			Tags:  []string{"openlist-mover", "success"},
		})
	}
}

// fail records a terminal failure for the task at localPath. Move-phase
// failures end in MoveFailed, descriptor-phase failures in Failed, and
// cancellations in Aborted.
func (o *Orchestrator) fail(ctx context.Context, localPath string, err error) {
	pctx := context.WithoutCancel(ctx)
	reason := reasonOf(err, ReasonRemoteAPIError)

	task, updErr := o.deps.Registry.Update(pctx, localPath, func(t *MoveTask) {
		switch {
		case reason == ReasonAborted:
			t.State = StateAborted
		case t.MoveCompleted():
			t.State = StateFailed
		default:
			t.State = StateMoveFailed
		}

		t.FailureReason = reason
		t.Error = err.Error()
	})
	if updErr != nil {
		o.deps.Logger.Warn("persisting task failure failed", slog.String("error", updErr.Error()))
	}

	level := slog.LevelWarn
	if reason == ReasonAborted || reason == ReasonInterrupted {
		level = slog.LevelInfo
	}

	o.deps.Logger.Log(pctx, level, "task did not complete",
		slog.String("path", localPath),
		slog.String("state", string(task.State)),
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()),
	)

	if task.State == StateAborted {
		o.aborted.Add(1)
		return
	}

	o.failed.Add(1)

	if reason == ReasonInterrupted {
		return
	}

	o.notify(pctx, notify.Message{
		Title:    "Move failed",
		Body:     fmt.Sprintf("%s\n-> %s\n%s: %s", localPath, task.RemoteDestPath, reason, err.Error()),
		Tags:     []string{"openlist-mover", "failed", string(reason)},
		Priority: notify.PriorityHigh,
	})
}

// waitSettled polls the file until its size is stable and non-zero across
// one settle interval, giving up after SettleTimeout worth of polls.
func (o *Orchestrator) waitSettled(ctx context.Context, localPath string) error {
	attempts := 1
	if o.cfg.SettleInterval > 0 {
		attempts = max(1, int(o.cfg.SettleTimeout/o.cfg.SettleInterval))
	}

	var lastSize int64

	for range attempts {
		before, err := statFile(localPath)
		if err != nil {
			return err
		}

		if err := o.sleepFunc(ctx, o.cfg.SettleInterval); err != nil {
			return o.cancelErr(ctx, err)
		}

		after, err := statFile(localPath)
		if err != nil {
			return err
		}

		if before.Size() == after.Size() && after.Size() > 0 {
			return nil
		}

		lastSize = after.Size()

		o.deps.Logger.Debug("file still being written",
			slog.String("path", localPath),
			slog.Int64("size_before", before.Size()),
			slog.Int64("size_after", after.Size()),
		)
	}

	return taskErr(ReasonUnsettled,
		fmt.Errorf("file did not settle within %s (last size %d)", o.cfg.SettleTimeout, lastSize))
}

func statFile(localPath string) (os.FileInfo, error) {
	info, err := os.Stat(localPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, taskErr(ReasonAborted, errFileVanished)
	}

	if err != nil {
		return nil, taskErr(ReasonFilesystemError, err)
	}

	return info, nil
}

// preClean removes same-stem files with a different video extension from
// the destination directory, so an upgraded release replaces the old one.
// Any listing or removal failure leaves the destination untouched.
func (o *Orchestrator) preClean(ctx context.Context, dstDir, name string) bool {
	var objs []openlist.Object

	err := withSlot(ctx, o.deps.Sem, func() error {
		var listErr error
		objs, listErr = o.deps.Remote.List(ctx, dstDir, false)

		return listErr
	})
	if err != nil {
		if !errors.Is(err, openlist.ErrNotFound) {
			o.deps.Logger.Warn("wash pre-clean: listing destination failed",
				slog.String("dir", dstDir), slog.String("error", err.Error()))
		}

		return false
	}

	stem := stemOf(name)
	ext := strings.ToLower(path.Ext(name))

	var stale []string

	for _, obj := range objs {
		if obj.IsDir {
			continue
		}

		objExt := strings.ToLower(path.Ext(obj.Name))
		if stemOf(obj.Name) == stem && objExt != ext && o.exts[objExt] {
			stale = append(stale, obj.Name)
		}
	}

	if len(stale) == 0 {
		return false
	}

	err = withSlot(ctx, o.deps.Sem, func() error { return o.deps.Remote.Remove(ctx, dstDir, stale) })
	if err != nil {
		o.deps.Logger.Warn("wash pre-clean: removing older versions failed",
			slog.String("dir", dstDir), slog.Any("names", stale), slog.String("error", err.Error()))

		return false
	}

	o.deps.Logger.Info("wash pre-clean removed older versions",
		slog.String("dir", dstDir), slog.Any("names", stale))

	return true
}

// awaitRemoteTask polls the server's move task until it finishes or the
// poll budget derived from MaxTaskDuration runs out.
func (o *Orchestrator) awaitRemoteTask(ctx context.Context, id string) error {
	polls := 1
	if o.cfg.TaskPollInterval > 0 {
		polls = max(1, int(o.cfg.MaxTaskDuration/o.cfg.TaskPollInterval))
	}

	for range polls {
		if err := o.sleepFunc(ctx, o.cfg.TaskPollInterval); err != nil {
			return o.cancelErr(ctx, err)
		}

		var info *openlist.TaskInfo

		err := withSlot(ctx, o.deps.Sem, func() error {
			var infoErr error
			info, infoErr = o.deps.Remote.TaskInfo(ctx, openlist.TaskKindMove, id)

			return infoErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return o.cancelErr(ctx, err)
			}

			o.deps.Logger.Warn("remote task status unavailable",
				slog.String("remote_task_id", id), slog.String("error", err.Error()))

			continue
		}

		if info.State == openlist.TaskSucceeded {
			return nil
		}

		if info.State.Done() {
			msg := info.Error
			if msg == "" {
				msg = info.Status
			}

			return taskErr(ReasonRemoteAPIError, fmt.Errorf("remote task %s ended in state %d: %s", id, info.State, msg))
		}
	}

	return taskErr(ReasonRemoteAPIError, fmt.Errorf("remote task %s did not finish within %s", id, o.cfg.MaxTaskDuration))
}

// update applies fn through the registry. When the registry no longer holds
// the task (pruned or replaced), fn is applied to the local copy only.
func (o *Orchestrator) update(ctx context.Context, task MoveTask, fn func(*MoveTask)) MoveTask {
	updated, err := o.deps.Registry.Update(ctx, task.LocalPath, fn)
	if err == nil {
		return updated
	}

	o.deps.Logger.Warn("persisting task state failed",
		slog.String("path", task.LocalPath), slog.String("error", err.Error()))

	if errors.Is(err, ErrTaskNotFound) {
		fn(&task)
		return task
	}

	return updated
}

func (o *Orchestrator) markNotCancelable(localPath string) {
	o.mu.Lock()
	if it, ok := o.inflight[localPath]; ok {
		it.cancelable = false
	}
	o.mu.Unlock()
}

// cancelErr maps a context error to Aborted when a filesystem event canceled
// the task and to Interrupted when the process is shutting down.
func (o *Orchestrator) cancelErr(ctx context.Context, err error) *TaskError {
	if errors.Is(context.Cause(ctx), errTaskCanceled) {
		return taskErr(ReasonAborted, errTaskCanceled)
	}

	return taskErr(ReasonInterrupted, err)
}

func (o *Orchestrator) remoteErr(ctx context.Context, err error) *TaskError {
	if ctx.Err() != nil {
		return o.cancelErr(ctx, err)
	}

	return taskErr(ReasonRemoteAPIError, err)
}

func (o *Orchestrator) notify(ctx context.Context, msg notify.Message) {
	if err := o.deps.Notifier.Notify(ctx, msg); err != nil {
		o.deps.Logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

// withSlot runs fn while holding one slot of the in-flight semaphore.
func withSlot(ctx context.Context, sem *semaphore.Weighted, fn func() error) error {
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)

	return fn()
}

package mover

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/openlist-mover/internal/notify"
)

// ErrScanInProgress is returned when a scan is requested while another one
// is still walking.
var ErrScanInProgress = errors.New("mover: scan already in progress")

const defaultScanConcurrency = 2

// ScannerConfig controls the reconciliation walk.
type ScannerConfig struct {
	MonitorPaths []string
	MaxRetries   int
	Concurrency  int // monitor paths walked in parallel

	// WashEnabled makes conflict failures resubmittable: with overwrite on,
	// the next attempt replaces the existing destination file.
	WashEnabled bool
}

// ScanStats describes a single scan cycle.
type ScanStats struct {
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	FilesSeen         int           `json:"files_seen"`
	Submitted         int           `json:"submitted"`
	Retried           int           `json:"retried"`
	DescriptorRetries int           `json:"descriptor_retries"`
	Exhausted         int           `json:"exhausted"`
	Unmapped          int           `json:"unmapped"`
	WalkErrors        int           `json:"walk_errors"`
}

// Scanner walks the monitor paths and feeds files the pipeline has not
// finished with back through Orchestrator.Submit. It also re-runs the
// descriptor phase for moved files whose descriptor sync failed.
type Scanner struct {
	cfg      ScannerConfig
	orch     *Orchestrator
	registry *Registry
	notifier Notifier
	logger   *slog.Logger
	nowFunc  func() time.Time

	running atomic.Bool

	mu   sync.Mutex
	last ScanStats
}

// NewScanner returns a Scanner submitting into orch.
func NewScanner(cfg ScannerConfig, orch *Orchestrator, registry *Registry, notifier Notifier, logger *slog.Logger) *Scanner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultScanConcurrency
	}

	if notifier == nil {
		notifier = notify.NewService(notify.Options{})
	}

	return &Scanner{
		cfg:      cfg,
		orch:     orch,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// LastStats returns the statistics of the most recent completed scan.
func (s *Scanner) LastStats() ScanStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}

// scanCounters accumulates statistics from concurrent walkers.
type scanCounters struct {
	files, submitted, retried, descRetries, exhausted, unmapped, walkErrors atomic.Int64
}

// Scan runs one reconciliation cycle. Tasks it submits keep running after
// Scan returns. Walk failures of individual monitor paths are returned
// joined; the other paths are still scanned.
func (s *Scanner) Scan(ctx context.Context) (ScanStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return ScanStats{}, ErrScanInProgress
	}
	defer s.running.Store(false)

	start := s.nowFunc()
	s.logger.Info("global scan started", slog.Int("monitor_paths", len(s.cfg.MonitorPaths)))

	var c scanCounters

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	var (
		errMu   sync.Mutex
		walkErr []error
	)

	for _, root := range s.cfg.MonitorPaths {
		g.Go(func() error {
			if err := s.walk(gctx, root, &c); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				c.walkErrors.Add(1)
				s.logger.Warn("scanning monitor path failed",
					slog.String("root", root), slog.String("error", err.Error()))

				errMu.Lock()
				walkErr = append(walkErr, fmt.Errorf("scanning %s: %w", root, err))
				errMu.Unlock()
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return ScanStats{}, err
	}

	s.retryDescriptors(ctx, "", &c)

	stats := ScanStats{
		StartedAt:         start,
		Duration:          s.nowFunc().Sub(start),
		FilesSeen:         int(c.files.Load()),
		Submitted:         int(c.submitted.Load()),
		Retried:           int(c.retried.Load()),
		DescriptorRetries: int(c.descRetries.Load()),
		Exhausted:         int(c.exhausted.Load()),
		Unmapped:          int(c.unmapped.Load()),
		WalkErrors:        int(c.walkErrors.Load()),
	}

	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()

	s.logger.Info("global scan complete",
		slog.Int("files", stats.FilesSeen),
		slog.Int("submitted", stats.Submitted),
		slog.Int("retried", stats.Retried),
		slog.Int("descriptor_retries", stats.DescriptorRetries),
		slog.Int("exhausted", stats.Exhausted),
		slog.Int("unmapped", stats.Unmapped),
		slog.Duration("duration", stats.Duration),
	)

	return stats, errors.Join(walkErr...)
}

func (s *Scanner) walk(ctx context.Context, root string, c *scanCounters) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			if p == root {
				return err
			}

			s.logger.Debug("skipping unreadable entry",
				slog.String("path", p), slog.String("error", err.Error()))

			if d != nil && d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		if !s.orch.IsCandidate(d.Name()) {
			return nil
		}

		c.files.Add(1)
		s.consider(ctx, p, c)

		return nil
	})
}

// consider decides what to do with one candidate file found on disk.
func (s *Scanner) consider(ctx context.Context, p string, c *scanCounters) {
	task, ok := s.registry.Get(p)

	switch {
	case !ok:
		s.submit(ctx, p, c, false)

	case task.State != StateMoveFailed:
		// Active, finished, aborted, or waiting on a descriptor retry.

	case !s.resubmittable(task.FailureReason):

	case task.RetryCount >= s.cfg.MaxRetries:
		s.exhaust(ctx, task, c)

	default:
		s.submit(ctx, p, c, true)
	}
}

// resubmittable reports whether a move-phase failure may be retried. A
// conflict becomes retryable once wash mode is on.
func (s *Scanner) resubmittable(reason FailureReason) bool {
	return reason.Retryable() || (s.cfg.WashEnabled && reason == ReasonConflict)
}

func (s *Scanner) submit(ctx context.Context, p string, c *scanCounters, retry bool) {
	switch s.orch.Submit(ctx, Event{Kind: EventSynthetic, Path: p}) {
	case SubmitAccepted:
		if retry {
			c.retried.Add(1)
		} else {
			c.submitted.Add(1)
		}
	case SubmitUnmapped:
		c.unmapped.Add(1)
	case SubmitFiltered, SubmitCoalesced:
	}
}

// RetryDescriptors re-runs the descriptor phase for failed tasks whose
// remote destination lies under remotePrefix (all when empty). Returns the
// number of tasks restarted.
func (s *Scanner) RetryDescriptors(ctx context.Context, remotePrefix string) int {
	var c scanCounters
	s.retryDescriptors(ctx, remotePrefix, &c)

	return int(c.descRetries.Load())
}

func (s *Scanner) retryDescriptors(ctx context.Context, remotePrefix string, c *scanCounters) {
	for _, task := range s.registry.Snapshot() {
		if task.State != StateFailed || !task.FailureReason.Retryable() {
			continue
		}

		if remotePrefix != "" && !hasPathPrefix(task.RemoteDestPath, cleanRemote(remotePrefix), "/") {
			continue
		}

		if task.RetryCount >= s.cfg.MaxRetries {
			s.exhaust(ctx, task, c)
			continue
		}

		if s.orch.RetryDescriptors(ctx, task.LocalPath) {
			c.descRetries.Add(1)
		}
	}
}

// exhaust marks a task as permanently failed and tells the operator. The
// reason change makes it non-retryable, so this happens once per task. The
// state is left alone: StateFailed means the move completed, and a
// move-phase task must keep StateMoveFailed so a later `retry` resubmits the
// move rather than only the descriptor phase.
func (s *Scanner) exhaust(ctx context.Context, task MoveTask, c *scanCounters) {
	prevReason := task.FailureReason

	updated, err := s.registry.Update(ctx, task.LocalPath, func(t *MoveTask) {
		t.FailureReason = ReasonRetryExhausted
		t.Error = fmt.Sprintf("gave up after %d retries; last failure %s: %s", t.RetryCount, prevReason, t.Error)
	})
	if err != nil {
		s.logger.Warn("marking task exhausted failed",
			slog.String("path", task.LocalPath), slog.String("error", err.Error()))

		if errors.Is(err, ErrTaskNotFound) {
			return
		}
	}

	c.exhausted.Add(1)

	s.logger.Warn("retry budget exhausted",
		slog.String("path", task.LocalPath),
		slog.String("task_id", task.ID),
		slog.Int("retries", task.RetryCount),
		slog.String("last_reason", string(prevReason)),
	)

	msg := notify.Message{
		Title:    "Move permanently failed",
		Body:     fmt.Sprintf("%s\n-> %s\n%s", updated.LocalPath, updated.RemoteDestPath, updated.Error),
		Tags:     []string{"openlist-mover", "failed", string(ReasonRetryExhausted)},
		Priority: notify.PriorityHigh,
	}

	if err := s.notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

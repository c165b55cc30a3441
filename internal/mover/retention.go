package mover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/openlist-mover/internal/openlist"
)

// RetentionConfig bounds the registry and the server's task history.
// A zero threshold disables the corresponding check.
type RetentionConfig struct {
	ClearAPIThreshold   int
	ClearPanelThreshold int
	KeepSuccessful      int
	KeepFailed          int
}

// moverState is persisted under KeyMoverState.
type moverState struct {
	MovesSinceClear int       `json:"moves_since_clear"`
	TotalMoves      int64     `json:"total_moves"`
	LastAPIClear    time.Time `json:"last_api_clear,omitzero"`
	LastPrune       time.Time `json:"last_prune,omitzero"`
}

// RetentionStatus is a read-only view of the retention counters.
type RetentionStatus struct {
	MovesSinceClear int       `json:"moves_since_clear"`
	TotalMoves      int64     `json:"total_moves"`
	LastAPIClear    time.Time `json:"last_api_clear,omitzero"`
	LastPrune       time.Time `json:"last_prune,omitzero"`
}

// Retention clears the server's finished task logs every ClearAPIThreshold
// moves and prunes the registry once enough successes pile up.
type Retention struct {
	cfg      RetentionConfig
	registry *Registry
	remote   RemoteFS
	sem      *semaphore.Weighted
	persist  Persistence
	logger   *slog.Logger
	nowFunc  func() time.Time

	mu    sync.Mutex
	state moverState
}

// NewRetention returns a Retention with zeroed counters. Call Load to
// restore the persisted ones.
func NewRetention(
	cfg RetentionConfig, registry *Registry, remote RemoteFS, sem *semaphore.Weighted,
	persist Persistence, logger *slog.Logger,
) *Retention {
	return &Retention{
		cfg:      cfg,
		registry: registry,
		remote:   remote,
		sem:      sem,
		persist:  persist,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Load restores the counters saved by a previous process.
func (r *Retention) Load(ctx context.Context) error {
	data, err := r.persist.Load(ctx, KeyMoverState)
	if err != nil {
		return fmt.Errorf("mover: loading retention state: %w", err)
	}

	var st moverState
	if len(data) > 0 {
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("mover: decoding retention state: %w", err)
		}
	}

	r.mu.Lock()
	r.state = st
	r.mu.Unlock()

	return nil
}

// Status returns the current counters.
func (r *Retention) Status() RetentionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RetentionStatus(r.state)
}

// RecordMove counts one successful remote move. When the count reaches
// ClearAPIThreshold the server's succeeded move and copy task logs are
// cleared and the count restarts. A failed clear keeps the count so the
// next move tries again.
func (r *Retention) RecordMove(ctx context.Context) {
	r.mu.Lock()
	r.state.MovesSinceClear++
	r.state.TotalMoves++
	due := r.cfg.ClearAPIThreshold > 0 && r.state.MovesSinceClear >= r.cfg.ClearAPIThreshold
	r.mu.Unlock()

	if due {
		if err := r.clearAPI(ctx); err != nil {
			r.logger.Warn("clearing remote task logs failed", slog.String("error", err.Error()))
		}
	}

	r.saveState(ctx)
}

func (r *Retention) clearAPI(ctx context.Context) error {
	var errs []error

	for _, kind := range []openlist.TaskKind{openlist.TaskKindMove, openlist.TaskKindCopy} {
		err := withSlot(ctx, r.sem, func() error { return r.remote.ClearSucceeded(ctx, kind) })
		if err != nil {
			errs = append(errs, fmt.Errorf("clearing %s tasks: %w", kind, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	r.mu.Lock()
	cleared := r.state.MovesSinceClear
	r.state.MovesSinceClear = 0
	r.state.LastAPIClear = r.nowFunc()
	r.mu.Unlock()

	r.logger.Info("remote task logs cleared", slog.Int("moves", cleared))

	return nil
}

// Check prunes the registry. Successes are cut back to KeepSuccessful once
// ClearPanelThreshold of them accumulate; failures are kept to the
// KeepFailed most recent. Active tasks are never removed.
func (r *Retention) Check(ctx context.Context) error {
	counts := r.registry.Counts()

	var (
		errs    []error
		removed int
	)

	if r.cfg.ClearPanelThreshold > 0 && counts.Succeeded >= r.cfg.ClearPanelThreshold {
		n, err := r.registry.PruneSucceeded(ctx, r.cfg.KeepSuccessful)
		if err != nil {
			errs = append(errs, err)
		}

		removed += n
	}

	if r.cfg.KeepFailed > 0 && counts.Failed+counts.Aborted > r.cfg.KeepFailed {
		n, err := r.registry.PruneFailed(ctx, r.cfg.KeepFailed)
		if err != nil {
			errs = append(errs, err)
		}

		removed += n
	}

	if removed > 0 {
		r.mu.Lock()
		r.state.LastPrune = r.nowFunc()
		r.mu.Unlock()

		r.saveState(ctx)
	}

	return errors.Join(errs...)
}

// Run calls Check every interval until ctx is canceled.
func (r *Retention) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Check(ctx); err != nil {
				r.logger.Warn("retention check failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Retention) saveState(ctx context.Context) {
	r.mu.Lock()
	data, err := json.Marshal(r.state)
	r.mu.Unlock()

	if err == nil {
		err = r.persist.Save(context.WithoutCancel(ctx), KeyMoverState, data)
	}

	if err != nil {
		r.logger.Warn("persisting retention state failed", slog.String("error", err.Error()))
	}
}

package mover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const defaultMaxInflight = 4

// EngineConfig is the fully resolved pipeline configuration.
type EngineConfig struct {
	MonitorPaths       []string
	Mappings           []MappingRule
	DescriptorMappings []DescriptorMappingRule

	Orchestrator OrchestratorConfig
	Descriptor   DescriptorConfig
	Retention    RetentionConfig

	MaxInflight       int
	MaxRetries        int
	ScanConcurrency   int
	RetentionInterval time.Duration

	ScanEnabled bool
	ScanHour    int
	ScanMinute  int
	ScanOnStart bool
}

// EngineDeps are the external collaborators.
type EngineDeps struct {
	Remote   RemoteFS
	Persist  Persistence
	Notifier Notifier
	Logger   *slog.Logger

	// NewFsWatcher overrides the fsnotify watcher; tests use it.
	NewFsWatcher func() (FsWatcher, error)
}

// Engine wires the pipeline components together and owns their lifecycle.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger

	registry    *Registry
	orch        *Orchestrator
	descriptors *DescriptorSync
	scanner     *Scanner
	retention   *Retention
	watcher     *Watcher

	nowFunc func() time.Time
}

// NewEngine builds an Engine. Call Load before Run or Scan.
func NewEngine(cfg EngineConfig, deps EngineDeps) (*Engine, error) {
	if deps.Remote == nil {
		return nil, errors.New("mover: engine requires a remote filesystem")
	}

	if deps.Persist == nil {
		return nil, errors.New("mover: engine requires a persistence backend")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inflight := cfg.MaxInflight
	if inflight <= 0 {
		inflight = defaultMaxInflight
	}

	sem := semaphore.NewWeighted(int64(inflight))
	mapper := NewPathMapper(cfg.Mappings, cfg.DescriptorMappings)
	registry := NewRegistry(deps.Persist, logger.With(slog.String("component", "registry")))
	retention := NewRetention(cfg.Retention, registry, deps.Remote, sem, deps.Persist,
		logger.With(slog.String("component", "retention")))
	descriptors := NewDescriptorSync(cfg.Descriptor, mapper, deps.Remote, sem,
		logger.With(slog.String("component", "descriptor")))

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		descriptors: descriptors,
		retention:   retention,
		nowFunc:     time.Now,
	}

	e.orch = NewOrchestrator(cfg.Orchestrator, OrchestratorDeps{
		Mapper:          mapper,
		Registry:        registry,
		Remote:          deps.Remote,
		Descriptors:     descriptors,
		Notifier:        deps.Notifier,
		Sem:             sem,
		Logger:          logger.With(slog.String("component", "orchestrator")),
		OnMoveSucceeded: retention.RecordMove,
		OnTaskSucceeded: e.afterSuccess,
	})

	e.scanner = NewScanner(ScannerConfig{
		MonitorPaths: cfg.MonitorPaths,
		MaxRetries:   cfg.MaxRetries,
		Concurrency:  cfg.ScanConcurrency,
		WashEnabled:  cfg.Orchestrator.WashEnabled,
	}, e.orch, registry, deps.Notifier, logger.With(slog.String("component", "scanner")))

	e.watcher = NewWatcher(cfg.MonitorPaths, e.orch, logger.With(slog.String("component", "watcher")))
	if deps.NewFsWatcher != nil {
		e.watcher.newWatcher = deps.NewFsWatcher
	}

	return e, nil
}

// Load restores the registry and retention counters. Tasks interrupted by
// the previous process are marked failed so the next scan retries them.
func (e *Engine) Load(ctx context.Context) error {
	recovered, err := e.registry.Load(ctx)
	if err != nil {
		return err
	}

	if recovered > 0 {
		e.logger.Warn("recovered interrupted tasks", slog.Int("count", recovered))
	}

	return e.retention.Load(ctx)
}

// Run watches the monitor paths and runs the scheduled scan and the
// retention ticker until ctx is canceled, then waits for in-flight tasks.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		slog.Int("monitor_paths", len(e.cfg.MonitorPaths)),
		slog.Bool("wash", e.cfg.Orchestrator.WashEnabled),
		slog.Bool("global_scan", e.cfg.ScanEnabled),
	)

	defer e.orch.Wait()

	if e.cfg.ScanOnStart {
		e.runScan(ctx, "startup")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.watcher.Run(gctx) })
	g.Go(func() error { return e.retention.Run(gctx, e.cfg.RetentionInterval) })

	if e.cfg.ScanEnabled {
		g.Go(func() error {
			runDaily(gctx, e.cfg.ScanHour, e.cfg.ScanMinute, e.nowFunc, e.logger,
				func(ctx context.Context) { e.runScan(ctx, "schedule") })

			return nil
		})
	}

	err := g.Wait()

	e.logger.Info("engine stopping, waiting for in-flight tasks")

	return err
}

// Scan runs one reconciliation scan.
func (e *Engine) Scan(ctx context.Context) (ScanStats, error) {
	return e.scanner.Scan(ctx)
}

// Wait blocks until every task started so far has finished.
func (e *Engine) Wait() {
	e.orch.Wait()
}

// Submit feeds a single path through the pipeline.
func (e *Engine) Submit(ctx context.Context, p string) SubmitResult {
	return e.orch.Submit(ctx, Event{Kind: EventSynthetic, Path: p})
}

// Registry exposes the task registry for read-only reporting.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// EngineStatus is a point-in-time summary of the pipeline.
type EngineStatus struct {
	Counts    Counts            `json:"counts"`
	Pipeline  OrchestratorStats `json:"pipeline"`
	LastScan  ScanStats         `json:"last_scan"`
	Retention RetentionStatus   `json:"retention"`
}

// Status summarizes registry counts and cumulative counters.
func (e *Engine) Status() EngineStatus {
	return EngineStatus{
		Counts:    e.registry.Counts(),
		Pipeline:  e.orch.Stats(),
		LastScan:  e.scanner.LastStats(),
		Retention: e.retention.Status(),
	}
}

// remoteIndexPayload optionally narrows descriptor retries to one remote
// directory tree.
type remoteIndexPayload struct {
	Path string `json:"path"`
}

// HandleSignal is the host event-bus entry point. Kinds: SignalScan runs a
// scan, SignalRemoteIndexRefreshed retries failed descriptor syncs (limited
// to payload.path when given), SignalRetention runs a retention check.
func (e *Engine) HandleSignal(ctx context.Context, kind string, payload json.RawMessage) error {
	logger := e.logger.With(slog.String("signal", kind))

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case SignalScan:
		_, err := e.scanner.Scan(ctx)
		if errors.Is(err, ErrScanInProgress) {
			logger.Info("scan already running, signal ignored")
			return nil
		}

		return err

	case SignalRemoteIndexRefreshed:
		var p remoteIndexPayload
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("mover: decoding %s payload: %w", kind, err)
			}
		}

		n := e.scanner.RetryDescriptors(ctx, p.Path)
		logger.Info("descriptor retries started", slog.Int("tasks", n), slog.String("prefix", p.Path))

		return nil

	case SignalRetention:
		return e.retention.Check(ctx)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignal, kind)
	}
}

func (e *Engine) runScan(ctx context.Context, trigger string) {
	if _, err := e.scanner.Scan(ctx); err != nil && ctx.Err() == nil {
		e.logger.Warn("global scan failed",
			slog.String("trigger", trigger), slog.String("error", err.Error()))
	}
}

// afterSuccess runs a retention check once a task completes.
func (e *Engine) afterSuccess(ctx context.Context) {
	if err := e.retention.Check(ctx); err != nil {
		e.logger.Warn("retention check failed", slog.String("error", err.Error()))
	}
}

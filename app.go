package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/openlist-mover/internal/config"
	"github.com/tonimelisma/openlist-mover/internal/mover"
	"github.com/tonimelisma/openlist-mover/internal/notify"
	"github.com/tonimelisma/openlist-mover/internal/openlist"
	"github.com/tonimelisma/openlist-mover/internal/store"
)

// app owns the long-lived resources of a pipeline command.
type app struct {
	store  *store.KV
	engine *mover.Engine
}

// openApp opens the state store and wires the engine against the OpenList
// server. The caller must Close the app.
func openApp(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (*app, error) {
	kv, err := store.Open(ctx, cfg.StatePath, logger.With(slog.String("component", "store")))
	if err != nil {
		return nil, err
	}

	httpClient := newHTTPClient(cfg)

	client := openlist.NewClient(cfg.OpenlistURL, cfg.OpenlistToken, httpClient,
		logger.With(slog.String("component", "openlist")), cfg.UserAgent)

	notifier := notify.NewService(notify.Options{
		Topic:     cfg.NtfyTopic,
		Timeout:   cfg.NtfyRequestTimeout,
		UserAgent: cfg.UserAgent,
	})

	engine, err := mover.NewEngine(engineConfig(cfg), mover.EngineDeps{
		Remote:   client,
		Persist:  kv,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		kv.Close()
		return nil, err
	}

	if err := engine.Load(ctx); err != nil {
		kv.Close()
		return nil, fmt.Errorf("restoring state: %w", err)
	}

	return &app{store: kv, engine: engine}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// engineConfig translates the resolved configuration into the engine's
// parameters.
func engineConfig(cfg *config.Resolved) mover.EngineConfig {
	mappings := make([]mover.MappingRule, 0, len(cfg.PathMappings))
	for _, t := range cfg.PathMappings {
		mappings = append(mappings, mover.MappingRule{
			LocalPrefix:        t.Key,
			RemoteSourcePrefix: t.Source,
			RemoteDestPrefix:   t.Target,
		})
	}

	descMappings := make([]mover.DescriptorMappingRule, 0, len(cfg.DescriptorPathMappings))
	for _, t := range cfg.DescriptorPathMappings {
		descMappings = append(descMappings, mover.DescriptorMappingRule{
			RemoteDestPrefix:       t.Key,
			DescriptorSourcePrefix: t.Source,
			DescriptorLocalPrefix:  t.Target,
		})
	}

	return mover.EngineConfig{
		MonitorPaths:       cfg.MonitorPaths,
		Mappings:           mappings,
		DescriptorMappings: descMappings,
		Orchestrator: mover.OrchestratorConfig{
			VideoExtensions:  cfg.VideoExtensions,
			SettleInterval:   cfg.SettleInterval,
			SettleTimeout:    cfg.SettleTimeout,
			WashEnabled:      cfg.WashModeEnabled,
			AwaitRemoteTasks: cfg.AwaitRemoteTasks,
			TaskPollInterval: cfg.TaskPollInterval,
			MaxTaskDuration:  cfg.MaxTaskDuration,
			NotifyOnSuccess:  cfg.NotifyOnSuccess,
		},
		Descriptor: mover.DescriptorConfig{
			Extensions:     cfg.DescriptorExtensions,
			MirrorMode:     cfg.DescriptorMirrorMode,
			GenerationWait: cfg.DescriptorGenerationWait,
			WashDelay:      cfg.WashDelay,
		},
		Retention: mover.RetentionConfig{
			ClearAPIThreshold:   cfg.ClearAPIThreshold,
			ClearPanelThreshold: cfg.ClearPanelThreshold,
			KeepSuccessful:      cfg.KeepSuccessfulTasks,
			KeepFailed:          cfg.KeepFailedTasks,
		},
		MaxInflight:       cfg.MaxInflight,
		MaxRetries:        cfg.MaxRetries,
		RetentionInterval: cfg.RetentionInterval,
		ScanEnabled:       cfg.GlobalScanEnabled,
		ScanHour:          cfg.GlobalScanHour,
		ScanMinute:        cfg.GlobalScanMinute,
		ScanOnStart:       cfg.GlobalScanOnStart,
	}
}

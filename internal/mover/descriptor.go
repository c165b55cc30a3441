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
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/openlist-mover/internal/openlist"
)

// Descriptor mirror modes.
const (
	MirrorLocal  = "local"
	MirrorRemote = "remote"
)

// mediaInfoSuffix names the metadata sidecar the server writes next to each
// generated descriptor.
const mediaInfoSuffix = "-mediainfo.json"

const (
	descriptorDirPerms  = 0o755
	descriptorFilePerms = 0o644
)

// DescriptorConfig controls descriptor regeneration and mirroring.
type DescriptorConfig struct {
	Extensions     []string // mirrored artifact extensions, e.g. ".strm"
	MirrorMode     string   // MirrorLocal or MirrorRemote
	GenerationWait time.Duration
	WashDelay      time.Duration
}

// DescriptorSync regenerates descriptors on the server after a move and
// mirrors them into the descriptor target tree.
type DescriptorSync struct {
	cfg    DescriptorConfig
	mapper *PathMapper
	remote RemoteFS
	sem    *semaphore.Weighted
	logger *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewDescriptorSync wires a DescriptorSync. sem bounds concurrent remote
// operations and is shared with the orchestrator.
func NewDescriptorSync(
	cfg DescriptorConfig, mapper *PathMapper, remote RemoteFS, sem *semaphore.Weighted, logger *slog.Logger,
) *DescriptorSync {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".strm"}
	}

	if cfg.MirrorMode == "" {
		cfg.MirrorMode = MirrorLocal
	}

	return &DescriptorSync{
		cfg:       cfg,
		mapper:    mapper,
		remote:    remote,
		sem:       sem,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// Sync runs the descriptor phase for a task whose move succeeded. It returns
// the path of the primary mirrored artifact. Failures are *TaskError values.
func (d *DescriptorSync) Sync(ctx context.Context, task MoveTask) (string, error) {
	descSrc, descLocal, err := d.mapper.ResolveDescriptor(task.RemoteDestPath)
	if err != nil {
		return "", taskErr(ReasonNoDescriptorMapping, err)
	}

	srcDir := path.Dir(descSrc)
	targetDir := filepath.Dir(descLocal)
	stem := stemOf(path.Base(descSrc))

	logger := d.logger.With(
		slog.String("task_id", task.ID),
		slog.String("descriptor_source", srcDir),
		slog.String("descriptor_target", targetDir),
	)

	if task.WashApplied {
		if err := d.removeStale(ctx, targetDir, stem); err != nil {
			return "", err
		}

		logger.Debug("stale descriptors removed, waiting before regeneration",
			slog.Duration("wash_delay", d.cfg.WashDelay))

		if err := d.sleepFunc(ctx, d.cfg.WashDelay); err != nil {
			return "", taskErr(ReasonInterrupted, err)
		}
	}

	if err := d.withRemote(ctx, func() error { return d.remote.Refresh(ctx, srcDir) }); err != nil {
		return "", remoteTaskErr(ctx, fmt.Errorf("refreshing %s: %w", srcDir, err))
	}

	if err := d.sleepFunc(ctx, d.cfg.GenerationWait); err != nil {
		return "", taskErr(ReasonInterrupted, err)
	}

	names := make([]string, 0, len(d.cfg.Extensions))
	for _, ext := range d.cfg.Extensions {
		names = append(names, stem+ext)
	}

	switch d.cfg.MirrorMode {
	case MirrorRemote:
		err = d.mirrorRemote(ctx, srcDir, filepath.ToSlash(targetDir), names)
	default:
		err = d.mirrorLocal(ctx, srcDir, targetDir, names)
	}

	if err != nil {
		return "", err
	}

	primary := filepath.Join(targetDir, names[0])

	logger.Info("descriptors mirrored",
		slog.String("primary", primary),
		slog.Int("artifacts", len(names)),
	)

	return primary, nil
}

// removeStale deletes descriptor artifacts left by a previous version of the
// file so the server regenerates them.
func (d *DescriptorSync) removeStale(ctx context.Context, targetDir, stem string) error {
	names := make([]string, 0, len(d.cfg.Extensions)+1)
	for _, ext := range d.cfg.Extensions {
		names = append(names, stem+ext)
	}

	names = append(names, stem+mediaInfoSuffix)

	if d.cfg.MirrorMode == MirrorRemote {
		dir := filepath.ToSlash(targetDir)

		err := d.withRemote(ctx, func() error { return d.remote.Remove(ctx, dir, names) })
		if err != nil {
			return taskErr(ReasonFilesystemError, fmt.Errorf("removing stale descriptors in %s: %w", dir, err))
		}

		return nil
	}

	for _, name := range names {
		err := os.Remove(filepath.Join(targetDir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return taskErr(ReasonFilesystemError, fmt.Errorf("removing stale descriptor: %w", err))
		}
	}

	return nil
}

// mirrorLocal downloads each artifact and writes it atomically into
// targetDir.
func (d *DescriptorSync) mirrorLocal(ctx context.Context, srcDir, targetDir string, names []string) error {
	if err := os.MkdirAll(targetDir, descriptorDirPerms); err != nil {
		return taskErr(ReasonFilesystemError, fmt.Errorf("creating %s: %w", targetDir, err))
	}

	for _, name := range names {
		if err := d.downloadOne(ctx, path.Join(srcDir, name), filepath.Join(targetDir, name)); err != nil {
			return err
		}
	}

	return nil
}

func (d *DescriptorSync) downloadOne(ctx context.Context, remotePath, localPath string) error {
	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*.tmp")
	if err != nil {
		return taskErr(ReasonFilesystemError, fmt.Errorf("creating temp file: %w", err))
	}

	tmpName := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	err = d.withRemote(ctx, func() error {
		_, dlErr := d.remote.Download(ctx, remotePath, tmp)
		return dlErr
	})
	if err != nil {
		if errors.Is(err, openlist.ErrNotFound) {
			return taskErr(ReasonFilesystemError, fmt.Errorf("descriptor %s was not generated: %w", remotePath, err))
		}

		return remoteTaskErr(ctx, fmt.Errorf("downloading %s: %w", remotePath, err))
	}

	if err := tmp.Chmod(descriptorFilePerms); err != nil {
		return taskErr(ReasonFilesystemError, fmt.Errorf("setting permissions on %s: %w", tmpName, err))
	}

	if err := tmp.Close(); err != nil {
		return taskErr(ReasonFilesystemError, fmt.Errorf("closing %s: %w", tmpName, err))
	}

	if err := os.Rename(tmpName, localPath); err != nil {
		return taskErr(ReasonFilesystemError, fmt.Errorf("renaming into %s: %w", localPath, err))
	}

	committed = true

	return nil
}

// mirrorRemote copies the artifacts server-side after checking they exist.
// A copy rejected because the target already exists counts as mirrored.
func (d *DescriptorSync) mirrorRemote(ctx context.Context, srcDir, targetDir string, names []string) error {
	for _, name := range names {
		p := path.Join(srcDir, name)

		err := d.withRemote(ctx, func() error {
			_, getErr := d.remote.Get(ctx, p)
			return getErr
		})
		if err != nil {
			if errors.Is(err, openlist.ErrNotFound) {
				return taskErr(ReasonFilesystemError, fmt.Errorf("descriptor %s was not generated: %w", p, err))
			}

			return remoteTaskErr(ctx, fmt.Errorf("checking %s: %w", p, err))
		}
	}

	err := d.withRemote(ctx, func() error { return d.remote.Copy(ctx, srcDir, targetDir, names) })
	if err != nil {
		if errors.Is(err, openlist.ErrConflict) {
			d.logger.Debug("descriptors already present at target",
				slog.String("target", targetDir))

			return nil
		}

		return remoteTaskErr(ctx, fmt.Errorf("copying descriptors to %s: %w", targetDir, err))
	}

	return nil
}

// withRemote runs fn while holding one slot of the in-flight semaphore.
func (d *DescriptorSync) withRemote(ctx context.Context, fn func() error) error {
	return withSlot(ctx, d.sem, fn)
}

// remoteTaskErr classifies a failed remote call: cancellation becomes
// Interrupted, everything else RemoteAPIError.
func remoteTaskErr(ctx context.Context, err error) *TaskError {
	if ctx.Err() != nil {
		return taskErr(ReasonInterrupted, err)
	}

	return taskErr(ReasonRemoteAPIError, err)
}

// stemOf strips the final extension from a file name.
func stemOf(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

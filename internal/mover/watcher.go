package mover

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher error backoff bounds.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// ErrNoWatchRoots is returned when none of the monitor paths could be
// watched.
var ErrNoWatchRoots = errors.New("mover: no monitor path could be watched")

// Watcher turns fsnotify events under the monitor paths into Submit and
// Cancel calls on the orchestrator.
type Watcher struct {
	roots []string
	orch  *Orchestrator
	log   *slog.Logger

	newWatcher func() (FsWatcher, error)
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// NewWatcher returns a Watcher for roots backed by fsnotify.
func NewWatcher(roots []string, orch *Orchestrator, logger *slog.Logger) *Watcher {
	return &Watcher{
		roots:      roots,
		orch:       orch,
		log:        logger,
		newWatcher: NewFsWatcher,
		sleepFunc:  timeSleep,
	}
}

// Run watches until ctx is canceled. Every directory below each root is
// watched; directories created later are added as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("mover: creating filesystem watcher: %w", err)
	}
	defer fw.Close()

	watched := 0

	for _, root := range w.roots {
		n, err := w.addRecursive(fw, root)
		if err != nil {
			w.log.Warn("watching monitor path failed",
				slog.String("root", root), slog.String("error", err.Error()))

			continue
		}

		watched++

		w.log.Info("watching monitor path", slog.String("root", root), slog.Int("directories", n))
	}

	if watched == 0 && len(w.roots) > 0 {
		return ErrNoWatchRoots
	}

	return w.watchLoop(ctx, fw)
}

// addRecursive registers root and every directory beneath it.
func (w *Watcher) addRecursive(fw FsWatcher, root string) (int, error) {
	n := 0

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}

			w.log.Debug("skipping unreadable directory",
				slog.String("path", p), slog.String("error", err.Error()))

			return fs.SkipDir
		}

		if !d.IsDir() {
			return nil
		}

		if err := fw.Add(p); err != nil {
			if p == root {
				return err
			}

			w.log.Warn("failed to add watch",
				slog.String("path", p), slog.String("error", err.Error()))

			return nil
		}

		n++

		return nil
	})

	return n, err
}

func (w *Watcher) watchLoop(ctx context.Context, fw FsWatcher) error {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handleEvent(ctx, fw, ev)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.log.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Sustained errors (queue overflow) would otherwise spin.
			if err := w.sleepFunc(ctx, errBackoff); err != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw FsWatcher, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		w.handleCreate(ctx, fw, ev.Name)

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.orch.Cancel(ev.Name)
	}
}

// handleCreate submits a new file, or watches a new directory and submits
// whatever it already contains. A file moved in from elsewhere also arrives
// as a Create.
func (w *Watcher) handleCreate(ctx context.Context, fw FsWatcher, p string) {
	info, err := os.Stat(p)
	if err != nil {
		w.log.Debug("stat failed for created path",
			slog.String("path", p), slog.String("error", err.Error()))

		return
	}

	if !info.IsDir() {
		w.submit(ctx, p, EventCreated)
		return
	}

	if err := fw.Add(p); err != nil {
		w.log.Warn("failed to add watch on new directory",
			slog.String("path", p), slog.String("error", err.Error()))
	}

	w.scanNewDirectory(ctx, fw, p)
}

// scanNewDirectory catches files that landed in a new directory before its
// watch was registered. Duplicates are coalesced by Submit.
func (w *Watcher) scanNewDirectory(ctx context.Context, fw FsWatcher, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.log.Debug("scan new directory failed",
			slog.String("path", dir), slog.String("error", err.Error()))

		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		p := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if err := fw.Add(p); err != nil {
				w.log.Warn("failed to add watch on nested directory",
					slog.String("path", p), slog.String("error", err.Error()))
			}

			w.scanNewDirectory(ctx, fw, p)

			continue
		}

		if entry.Type().IsRegular() {
			w.submit(ctx, p, EventMovedIn)
		}
	}
}

func (w *Watcher) submit(ctx context.Context, p string, kind EventKind) {
	res := w.orch.Submit(ctx, Event{Kind: kind, Path: p})
	if res != SubmitFiltered {
		w.log.Debug("watch event submitted", slog.String("path", p), slog.String("result", res.String()))
	}
}

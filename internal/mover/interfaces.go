package mover

import (
	"context"
	"io"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/openlist-mover/internal/notify"
	"github.com/tonimelisma/openlist-mover/internal/openlist"
)

// RemoteFS is the subset of the OpenList API the pipeline consumes.
// *openlist.Client satisfies it.
type RemoteFS interface {
	Move(ctx context.Context, req openlist.MoveRequest) (*openlist.MoveResult, error)
	Copy(ctx context.Context, srcDir, dstDir string, names []string) error
	Remove(ctx context.Context, dir string, names []string) error
	List(ctx context.Context, dir string, refresh bool) ([]openlist.Object, error)
	Refresh(ctx context.Context, dir string) error
	Get(ctx context.Context, p string) (*openlist.Object, error)
	Download(ctx context.Context, p string, w io.Writer) (int64, error)
	TaskInfo(ctx context.Context, kind openlist.TaskKind, id string) (*openlist.TaskInfo, error)
	ClearSucceeded(ctx context.Context, kind openlist.TaskKind) error
}

// Notifier delivers operator-facing messages. notify.Service satisfies it.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// FsWatcher abstracts fsnotify.Watcher for testability.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWrapper adapts *fsnotify.Watcher to the FsWatcher interface.
type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

// NewFsWatcher returns an FsWatcher backed by fsnotify.
func NewFsWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWrapper{w: w}, nil
}

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

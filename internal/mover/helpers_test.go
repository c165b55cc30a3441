package mover

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/openlist-mover/internal/notify"
	"github.com/tonimelisma/openlist-mover/internal/openlist"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// ---------------------------------------------------------------------------
// memPersistence
// ---------------------------------------------------------------------------

type memPersistence struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func newMemPersistence() *memPersistence {
	return &memPersistence{data: make(map[string][]byte)}
}

func (m *memPersistence) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.data[key], nil
}

func (m *memPersistence) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), data...)
	m.saves++

	return nil
}

// ---------------------------------------------------------------------------
// fakeRemote
// ---------------------------------------------------------------------------

// fakeRemote implements RemoteFS. Unset function fields succeed with empty
// results. Every call is recorded by method name.
type fakeRemote struct {
	mu    sync.Mutex
	calls []string
	moves []openlist.MoveRequest

	moveFn     func(req openlist.MoveRequest) (*openlist.MoveResult, error)
	copyFn     func(srcDir, dstDir string, names []string) error
	removeFn   func(dir string, names []string) error
	listFn     func(dir string) ([]openlist.Object, error)
	refreshFn  func(dir string) error
	getFn      func(p string) (*openlist.Object, error)
	downloadFn func(p string, w io.Writer) (int64, error)
	taskInfoFn func(id string) (*openlist.TaskInfo, error)
	clearFn    func(kind openlist.TaskKind) error
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) Moves() []openlist.MoveRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]openlist.MoveRequest(nil), f.moves...)
}

func (f *fakeRemote) Move(_ context.Context, req openlist.MoveRequest) (*openlist.MoveResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "move")
	f.moves = append(f.moves, req)
	f.mu.Unlock()

	if f.moveFn != nil {
		return f.moveFn(req)
	}

	return &openlist.MoveResult{}, nil
}

func (f *fakeRemote) Copy(_ context.Context, srcDir, dstDir string, names []string) error {
	f.record("copy " + srcDir + " -> " + dstDir + " " + strings.Join(names, ","))

	if f.copyFn != nil {
		return f.copyFn(srcDir, dstDir, names)
	}

	return nil
}

func (f *fakeRemote) Remove(_ context.Context, dir string, names []string) error {
	f.record("remove " + dir + " " + strings.Join(names, ","))

	if f.removeFn != nil {
		return f.removeFn(dir, names)
	}

	return nil
}

func (f *fakeRemote) List(_ context.Context, dir string, _ bool) ([]openlist.Object, error) {
	f.record("list " + dir)

	if f.listFn != nil {
		return f.listFn(dir)
	}

	return nil, nil
}

func (f *fakeRemote) Refresh(_ context.Context, dir string) error {
	f.record("refresh " + dir)

	if f.refreshFn != nil {
		return f.refreshFn(dir)
	}

	return nil
}

func (f *fakeRemote) Get(_ context.Context, p string) (*openlist.Object, error) {
	f.record("get " + p)

	if f.getFn != nil {
		return f.getFn(p)
	}

	return &openlist.Object{Name: filepath.Base(p)}, nil
}

func (f *fakeRemote) Download(_ context.Context, p string, w io.Writer) (int64, error) {
	f.record("download " + p)

	if f.downloadFn != nil {
		return f.downloadFn(p, w)
	}

	n, err := io.WriteString(w, "http://openlist"+p)

	return int64(n), err
}

func (f *fakeRemote) TaskInfo(_ context.Context, _ openlist.TaskKind, id string) (*openlist.TaskInfo, error) {
	f.record("task " + id)

	if f.taskInfoFn != nil {
		return f.taskInfoFn(id)
	}

	return &openlist.TaskInfo{ID: id, State: openlist.TaskSucceeded}, nil
}

func (f *fakeRemote) ClearSucceeded(_ context.Context, kind openlist.TaskKind) error {
	f.record("clear " + string(kind))

	if f.clearFn != nil {
		return f.clearFn(kind)
	}

	return nil
}

// countCalls returns how many recorded calls start with prefix.
func countCalls(calls []string, prefix string) int {
	n := 0

	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}

	return n
}

// ---------------------------------------------------------------------------
// sleepRecorder and notifier
// ---------------------------------------------------------------------------

// sleepRecorder captures durations passed to sleepFunc without sleeping.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()

	return ctx.Err()
}

func (s *sleepRecorder) getCalls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.calls...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()

	return nil
}

func (n *recordingNotifier) Messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]notify.Message(nil), n.msgs...)
}

// ---------------------------------------------------------------------------
// pipeline fixture
// ---------------------------------------------------------------------------

// pipeline is a fully wired orchestrator over temp directories. Local files
// live under watchDir; descriptors are mirrored into descDir.
type pipeline struct {
	watchDir string
	descDir  string

	remote   *fakeRemote
	persist  *memPersistence
	notifier *recordingNotifier
	sleeper  *sleepRecorder
	registry *Registry
	orch     *Orchestrator
	desc     *DescriptorSync
}

type pipelineOption func(*OrchestratorConfig, *DescriptorConfig)

func withWash(c *OrchestratorConfig, _ *DescriptorConfig) { c.WashEnabled = true }

func newPipeline(t *testing.T, remote *fakeRemote, opts ...pipelineOption) *pipeline {
	t.Helper()

	root := t.TempDir()
	p := &pipeline{
		watchDir: filepath.Join(root, "watch"),
		descDir:  filepath.Join(root, "dlocal"),
		remote:   remote,
		persist:  newMemPersistence(),
		notifier: &recordingNotifier{},
		sleeper:  &sleepRecorder{},
	}

	require.NoError(t, os.MkdirAll(p.watchDir, 0o755))

	ocfg := OrchestratorConfig{
		VideoExtensions:  []string{".mkv", ".mp4"},
		SettleInterval:   time.Second,
		SettleTimeout:    3 * time.Second,
		AwaitRemoteTasks: true,
		TaskPollInterval: time.Second,
		MaxTaskDuration:  5 * time.Second,
	}

	dcfg := DescriptorConfig{
		Extensions:     []string{".strm"},
		MirrorMode:     MirrorLocal,
		GenerationWait: 5 * time.Second,
		WashDelay:      60 * time.Second,
	}

	for _, o := range opts {
		o(&ocfg, &dcfg)
	}

	logger := testLogger(t)
	sem := semaphore.NewWeighted(2)
	mapper := NewPathMapper(
		[]MappingRule{{LocalPrefix: p.watchDir, RemoteSourcePrefix: "/src", RemoteDestPrefix: "/dst"}},
		[]DescriptorMappingRule{{RemoteDestPrefix: "/dst", DescriptorSourcePrefix: "/dsrc", DescriptorLocalPrefix: p.descDir}},
	)

	p.registry = NewRegistry(p.persist, logger)
	p.desc = NewDescriptorSync(dcfg, mapper, remote, sem, logger)
	p.desc.sleepFunc = p.sleeper.sleep

	p.orch = NewOrchestrator(ocfg, OrchestratorDeps{
		Mapper:      mapper,
		Registry:    p.registry,
		Remote:      remote,
		Descriptors: p.desc,
		Notifier:    p.notifier,
		Sem:         sem,
		Logger:      logger,
	})
	p.orch.sleepFunc = p.sleeper.sleep

	return p
}

// writeFile creates rel under the watch directory with non-empty content.
func (p *pipeline) writeFile(t *testing.T, rel string) string {
	t.Helper()

	full := filepath.Join(p.watchDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("video bytes"), 0o644))

	return full
}

// submitAndWait submits a created event and waits for the task to finish.
func (p *pipeline) submitAndWait(t *testing.T, localPath string) (SubmitResult, MoveTask) {
	t.Helper()

	res := p.orch.Submit(context.Background(), Event{Kind: EventCreated, Path: localPath})
	p.orch.Wait()

	task, _ := p.registry.Get(localPath)

	return res, task
}

package mover

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/openlist-mover/internal/openlist"
)

func newTestScanner(t *testing.T, p *pipeline, maxRetries int) *Scanner {
	t.Helper()

	return NewScanner(ScannerConfig{
		MonitorPaths: []string{p.watchDir},
		MaxRetries:   maxRetries,
	}, p.orch, p.registry, p.notifier, testLogger(t))
}

// scan runs one scan and waits for every task it started.
func scan(t *testing.T, s *Scanner) ScanStats {
	t.Helper()

	stats, err := s.Scan(context.Background())
	require.NoError(t, err)

	s.orch.Wait()

	return stats
}

func TestScan_SubmitsUnknownFiles(t *testing.T) {
	remote := &fakeRemote{}
	p := newPipeline(t, remote)
	s := newTestScanner(t, p, 3)

	a := p.writeFile(t, "a.mkv")
	b := p.writeFile(t, "nested/deeper/b.mp4")
	p.writeFile(t, "readme.txt")
	p.writeFile(t, "c.mkv.part")

	stats := scan(t, s)

	assert.Equal(t, 2, stats.FilesSeen)
	assert.Equal(t, 2, stats.Submitted)
	assert.Zero(t, stats.Retried)

	for _, path := range []string{a, b} {
		task, ok := p.registry.Get(path)
		require.True(t, ok, path)
		assert.Equal(t, StateStrmSynced, task.State)
	}

	assert.Equal(t, stats, s.LastStats())
}

func TestScan_SkipsSucceededAndConflict(t *testing.T) {
	conflict := true
	remote := &fakeRemote{
		moveFn: func(req openlist.MoveRequest) (*openlist.MoveResult, error) {
			if conflict && req.Names[0] == "dup.mkv" {
				return nil, openlist.ErrConflict
			}

			return &openlist.MoveResult{}, nil
		},
	}
	p := newPipeline(t, remote)
	s := newTestScanner(t, p, 3)

	ok := p.writeFile(t, "ok.mkv")
	dup := p.writeFile(t, "dup.mkv")

	scan(t, s)
	require.Len(t, remote.Moves(), 2)

	// The fake server does not delete local files, so both are seen again.
	stats := scan(t, s)

	assert.Equal(t, 2, stats.FilesSeen)
	assert.Zero(t, stats.Submitted+stats.Retried)
	assert.Len(t, remote.Moves(), 2)

	task, _ := p.registry.Get(ok)
	assert.Equal(t, StateStrmSynced, task.State)

	task, _ = p.registry.Get(dup)
	assert.Equal(t, ReasonConflict, task.FailureReason)
}

// seedConflict records a move that failed on a destination conflict in an
// earlier wash-off run.
func seedConflict(t *testing.T, p *pipeline, local string, retries int) {
	t.Helper()

	ctx := context.Background()
	name := filepath.Base(local)

	_, _, err := p.registry.Admit(ctx, local, "/src/"+name, "/dst/"+name, false)
	require.NoError(t, err)

	_, err = p.registry.Update(ctx, local, func(task *MoveTask) {
		task.State = StateMoveFailed
		task.FailureReason = ReasonConflict
		task.Error = "destination exists"
		task.RetryCount = retries
	})
	require.NoError(t, err)
}

func TestScan_WashRetriesConflict(t *testing.T) {
	remote := &fakeRemote{
		moveFn: func(req openlist.MoveRequest) (*openlist.MoveResult, error) {
			if !req.Overwrite {
				return nil, openlist.ErrConflict
			}

			return &openlist.MoveResult{}, nil
		},
	}
	p := newPipeline(t, remote, withWash)
	s := NewScanner(ScannerConfig{
		MonitorPaths: []string{p.watchDir},
		MaxRetries:   3,
		WashEnabled:  true,
	}, p.orch, p.registry, p.notifier, testLogger(t))

	dup := p.writeFile(t, "dup.mkv")
	seedConflict(t, p, dup, 0)

	stats := scan(t, s)

	assert.Equal(t, 1, stats.Retried)
	assert.Zero(t, stats.Submitted)
	moves := remote.Moves()
	require.NotEmpty(t, moves)
	assert.True(t, moves[len(moves)-1].Overwrite)

	task, _ := p.registry.Get(dup)
	assert.Equal(t, StateStrmSynced, task.State)
	assert.Equal(t, 1, task.RetryCount)
}

func TestScan_WashConflictRespectsBudget(t *testing.T) {
	remote := &fakeRemote{}
	p := newPipeline(t, remote, withWash)
	s := NewScanner(ScannerConfig{
		MonitorPaths: []string{p.watchDir},
		MaxRetries:   2,
		WashEnabled:  true,
	}, p.orch, p.registry, p.notifier, testLogger(t))

	dup := p.writeFile(t, "dup.mkv")
	seedConflict(t, p, dup, 2)

	stats := scan(t, s)

	assert.Equal(t, 1, stats.Exhausted)
	assert.Zero(t, stats.Retried)
	assert.Empty(t, remote.Moves())

	task, _ := p.registry.Get(dup)
	assert.Equal(t, StateMoveFailed, task.State)
	assert.Equal(t, ReasonRetryExhausted, task.FailureReason)
}

func TestScan_RetryBudget(t *testing.T) {
	remote := &fakeRemote{
		moveFn: func(openlist.MoveRequest) (*openlist.MoveResult, error) {
			return nil, openlist.ErrServerError
		},
	}
	p := newPipeline(t, remote)
	s := newTestScanner(t, p, 2)

	local := p.writeFile(t, "a.mkv")

	stats := scan(t, s)
	assert.Equal(t, 1, stats.Submitted)

	stats = scan(t, s)
	assert.Equal(t, 1, stats.Retried)

	stats = scan(t, s)
	assert.Equal(t, 1, stats.Retried)

	task, _ := p.registry.Get(local)
	assert.Equal(t, 2, task.RetryCount)
	assert.Equal(t, ReasonRemoteAPIError, task.FailureReason)

	stats = scan(t, s)
	assert.Equal(t, 1, stats.Exhausted)
	assert.Zero(t, stats.Retried)

	task, _ = p.registry.Get(local)
	assert.Equal(t, StateMoveFailed, task.State)
	assert.Equal(t, ReasonRetryExhausted, task.FailureReason)
	assert.Contains(t, task.Error, "remote_api_error")

	// Exhaustion is reported once.
	stats = scan(t, s)
	assert.Zero(t, stats.Exhausted)
	assert.Len(t, remote.Moves(), 3)

	var exhausted int

	for _, m := range p.notifier.Messages() {
		if m.Title == "Move permanently failed" {
			exhausted++
		}
	}

	assert.Equal(t, 1, exhausted)
}

func TestScan_RetriesDescriptorFailures(t *testing.T) {
	missing := true
	remote := &fakeRemote{
		getFn: func(p string) (*openlist.Object, error) {
			if missing {
				return nil, openlist.ErrNotFound
			}

			return &openlist.Object{Name: filepath.Base(p)}, nil
		},
	}
	p := newPipeline(t, remote, func(_ *OrchestratorConfig, d *DescriptorConfig) {
		d.MirrorMode = MirrorRemote
	})
	s := newTestScanner(t, p, 3)

	local := p.writeFile(t, "a.mkv")
	scan(t, s)

	task, _ := p.registry.Get(local)
	require.Equal(t, StateFailed, task.State)

	missing = false

	stats := scan(t, s)
	assert.Equal(t, 1, stats.DescriptorRetries)

	task, _ = p.registry.Get(local)
	assert.Equal(t, StateStrmSynced, task.State)
	assert.Len(t, remote.Moves(), 1)
}

func TestRetryDescriptors_PrefixFilter(t *testing.T) {
	missing := true
	remote := &fakeRemote{
		getFn: func(p string) (*openlist.Object, error) {
			if missing {
				return nil, openlist.ErrNotFound
			}

			return &openlist.Object{}, nil
		},
	}
	p := newPipeline(t, remote, func(_ *OrchestratorConfig, d *DescriptorConfig) {
		d.MirrorMode = MirrorRemote
	})
	s := newTestScanner(t, p, 3)

	p.writeFile(t, "Movies/a.mkv")
	p.writeFile(t, "TV/b.mkv")
	scan(t, s)

	missing = false

	assert.Equal(t, 1, s.RetryDescriptors(context.Background(), "/dst/TV"))
	p.orch.Wait()

	assert.Equal(t, 1, s.RetryDescriptors(context.Background(), ""))
	p.orch.Wait()

	assert.Equal(t, 0, s.RetryDescriptors(context.Background(), ""))
}

func TestScan_MissingRootReported(t *testing.T) {
	p := newPipeline(t, &fakeRemote{})
	s := NewScanner(ScannerConfig{
		MonitorPaths: []string{filepath.Join(p.watchDir, "missing"), p.watchDir},
		MaxRetries:   3,
	}, p.orch, p.registry, p.notifier, testLogger(t))

	p.writeFile(t, "a.mkv")

	stats, err := s.Scan(context.Background())
	require.Error(t, err)
	p.orch.Wait()

	assert.Equal(t, 1, stats.WalkErrors)
	assert.Equal(t, 1, stats.Submitted, "other roots are still scanned")
}

func TestScan_InterruptedTaskRetried(t *testing.T) {
	p := newPipeline(t, &fakeRemote{})
	s := newTestScanner(t, p, 3)

	local := p.writeFile(t, "a.mkv")

	_, _, err := p.registry.Admit(context.Background(), local, "/src/a.mkv", "/dst/a.mkv", false)
	require.NoError(t, err)

	_, err = p.registry.Update(context.Background(), local, func(t *MoveTask) {
		t.State = StateMoveFailed
		t.FailureReason = ReasonInterrupted
	})
	require.NoError(t, err)

	stats := scan(t, s)
	assert.Equal(t, 1, stats.Retried)

	task, _ := p.registry.Get(local)
	assert.Equal(t, StateStrmSynced, task.State)
}

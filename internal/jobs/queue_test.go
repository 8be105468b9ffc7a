package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/errors"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRequestID_Deterministic(t *testing.T) {
	a := Request{Folder: "/repo/docs", IncludeCode: true, Languages: []string{"go", "python"}}
	b := Request{Folder: "/repo/docs", IncludeCode: true, Languages: []string{"python", "go"}}

	assert.Equal(t, a.ID(), b.ID(), "language order must not matter")
	assert.Len(t, a.ID(), 16)

	c := Request{Folder: "/repo/docs", IncludeCode: false, Languages: []string{"go", "python"}}
	assert.NotEqual(t, a.ID(), c.ID())

	d := Request{Folder: "/repo/docs", IncludeCode: true, Languages: []string{"go", "python"}, Rebuild: true}
	assert.NotEqual(t, a.ID(), d.ID())
}

func TestQueue_RunsJobsInOrder(t *testing.T) {
	var mu sync.Mutex
	var ran []string

	q, err := Open(filepath.Join(t.TempDir(), "queue.log"),
		func(_ context.Context, job Job, _ *Progress) error {
			mu.Lock()
			ran = append(ran, job.Request.Folder)
			mu.Unlock()
			return nil
		}, nil)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	id1, dedup, err := q.Submit(Request{Folder: "/a"})
	require.NoError(t, err)
	assert.False(t, dedup)
	id2, _, err := q.Submit(Request{Folder: "/b"})
	require.NoError(t, err)

	waitFor(t, "both jobs done", func() bool {
		j1, _ := q.Get(id1)
		j2, _ := q.Get(id2)
		return j1.Status == StatusDone && j2.Status == StatusDone
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/a", "/b"}, ran)

	j1, ok := q.Get(id1)
	require.True(t, ok)
	assert.Equal(t, 1.0, j1.Progress)
	assert.False(t, j1.FinishedAt.IsZero())
}

func TestQueue_DeduplicatesWhileActive(t *testing.T) {
	release := make(chan struct{})
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"),
		func(ctx context.Context, _ Job, _ *Progress) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}, nil)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	id1, dedup1, err := q.Submit(Request{Folder: "/same"})
	require.NoError(t, err)
	assert.False(t, dedup1)

	id2, dedup2, err := q.Submit(Request{Folder: "/same"})
	require.NoError(t, err)
	assert.True(t, dedup2, "identical active job must dedup")
	assert.Equal(t, id1, id2)

	close(release)
	waitFor(t, "job done", func() bool {
		j, _ := q.Get(id1)
		return j.Status == StatusDone
	})

	// After the job is terminal an identical submit is a fresh run.
	_, dedup3, err := q.Submit(Request{Folder: "/same"})
	require.NoError(t, err)
	assert.False(t, dedup3)
}

func TestQueue_CancelPendingJob(t *testing.T) {
	block := make(chan struct{})
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"),
		func(ctx context.Context, _ Job, _ *Progress) error {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil
		}, nil)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	first, _, err := q.Submit(Request{Folder: "/running"})
	require.NoError(t, err)
	waitFor(t, "first job running", func() bool {
		j, _ := q.Get(first)
		return j.Status == StatusRunning
	})

	second, _, err := q.Submit(Request{Folder: "/queued"})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(second))

	j, ok := q.Get(second)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, j.Status)

	close(block)
}

func TestQueue_CancelRunningJob(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"),
		func(ctx context.Context, _ Job, _ *Progress) error {
			<-ctx.Done()
			return ctx.Err()
		}, nil)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	id, _, err := q.Submit(Request{Folder: "/long"})
	require.NoError(t, err)
	waitFor(t, "job running", func() bool {
		j, _ := q.Get(id)
		return j.Status == StatusRunning
	})

	require.NoError(t, q.Cancel(id))
	waitFor(t, "job cancelled", func() bool {
		j, _ := q.Get(id)
		return j.Status == StatusCancelled
	})
}

func TestQueue_CancelUnknownAndTerminal(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"),
		func(context.Context, Job, *Progress) error { return nil }, nil)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	err = q.Cancel("deadbeefdeadbeef")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	id, _, err := q.Submit(Request{Folder: "/quick"})
	require.NoError(t, err)
	waitFor(t, "job done", func() bool {
		j, _ := q.Get(id)
		return j.Status == StatusDone
	})
	err = q.Cancel(id)
	assert.Equal(t, errors.KindConflict, errors.KindOf(err))
}

func TestQueue_FailureRecordsError(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"),
		func(context.Context, Job, *Progress) error {
			return errors.BackendUnavailable("index write failed", nil)
		}, nil)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	id, _, err := q.Submit(Request{Folder: "/broken"})
	require.NoError(t, err)
	waitFor(t, "job failed", func() bool {
		j, _ := q.Get(id)
		return j.Status == StatusFailed
	})

	j, _ := q.Get(id)
	assert.Contains(t, j.Error, "index write failed")
}

func TestQueue_SnapshotShowsRunningProgress(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	q, err := Open(filepath.Join(t.TempDir(), "queue.log"),
		func(ctx context.Context, _ Job, p *Progress) error {
			p.SetStage(StageEmbed)
			p.SetChunks(50, 100)
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}, nil)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	id, _, err := q.Submit(Request{Folder: "/p"})
	require.NoError(t, err)
	<-entered

	snap := q.Snapshot()
	require.NotNil(t, snap.Running)
	assert.Equal(t, id, snap.Running.ID)
	assert.Equal(t, 0, snap.Pending)
	require.NotNil(t, snap.Progress)
	assert.Equal(t, string(StageEmbed), snap.Progress.Stage)
	assert.Greater(t, snap.Running.Progress, stageFloor[StageEmbed])

	close(release)
}

func TestReplay_RewritesRunningAsFailed(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "queue.log")

	job := Job{
		ID:        Request{Folder: "/crashed"}.ID(),
		Request:   Request{Folder: "/crashed"},
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
		StartedAt: time.Now().UTC(),
	}
	writeRecords(t, logPath, job)

	jobs, err := replay(logPath)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusFailed, jobs[0].Status)
	assert.Equal(t, "process terminated", jobs[0].Error)
}

func TestReplay_LastRecordWinsAndRetentionApplies(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "queue.log")

	recent := Job{ID: "aaaaaaaaaaaaaaaa", Request: Request{Folder: "/a"}, Status: StatusPending, CreatedAt: time.Now().UTC()}
	recentDone := recent
	recentDone.Status = StatusDone
	recentDone.FinishedAt = time.Now().UTC()

	ancient := Job{
		ID: "bbbbbbbbbbbbbbbb", Request: Request{Folder: "/b"}, Status: StatusDone,
		CreatedAt:  time.Now().Add(-30 * 24 * time.Hour).UTC(),
		FinishedAt: time.Now().Add(-30 * 24 * time.Hour).UTC(),
	}
	writeRecords(t, logPath, recent, ancient, recentDone)

	jobs, err := replay(logPath)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "ancient terminal job dropped")
	assert.Equal(t, "aaaaaaaaaaaaaaaa", jobs[0].ID)
	assert.Equal(t, StatusDone, jobs[0].Status)
}

func TestReplay_SkipsCorruptLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "queue.log")
	good := Job{ID: "cccccccccccccccc", Request: Request{Folder: "/c"}, Status: StatusPending, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(record{Job: good, LoggedAt: time.Now().UTC()})
	require.NoError(t, err)
	content := "not json at all\n" + string(data) + "\n{\"half\":\n"
	require.NoError(t, os.WriteFile(logPath, []byte(content), 0o644))

	jobs, err := replay(logPath)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "cccccccccccccccc", jobs[0].ID)
}

func TestQueue_ResumesPendingAfterRestart(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "queue.log")
	pending := Job{
		ID:        Request{Folder: "/resume"}.ID(),
		Request:   Request{Folder: "/resume"},
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	writeRecords(t, logPath, pending)

	var mu sync.Mutex
	ran := false
	q, err := Open(logPath, func(context.Context, Job, *Progress) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	}, nil)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	waitFor(t, "replayed job execution", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran
	})
}

func TestProgress_StageFloorsAndInterpolation(t *testing.T) {
	p := NewProgress()
	assert.Equal(t, 0.0, p.Fraction())

	p.SetStage(StageEmbed)
	assert.Equal(t, stageFloor[StageEmbed], p.Fraction())

	p.SetChunks(50, 100)
	assert.InDelta(t, stageFloor[StageEmbed]+0.1, p.Fraction(), 1e-9)

	// Fraction never regresses.
	p.SetStage(StageChunk)
	assert.GreaterOrEqual(t, p.Fraction(), stageFloor[StageEmbed])

	p.Finish()
	assert.Equal(t, 1.0, p.Fraction())
	snap := p.Snapshot()
	assert.Equal(t, string(StageFinalize), snap.Stage)
	assert.Equal(t, 50, snap.ChunksIndexed)
}

func writeRecords(t *testing.T, path string, jobs ...Job) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	var out []byte
	for _, job := range jobs {
		data, err := json.Marshal(record{Job: job, LoggedAt: time.Now().UTC()})
		require.NoError(t, err)
		out = append(out, data...)
		out = append(out, '\n')
	}
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

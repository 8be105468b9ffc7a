package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// Runner executes one job. It reports progress through the tracker
// and must return promptly once the context is cancelled.
type Runner func(ctx context.Context, job Job, progress *Progress) error

// QueueSnapshot summarizes the queue for status endpoints.
type QueueSnapshot struct {
	Pending  int               `json:"pending"`
	Running  *Job              `json:"running,omitempty"`
	Progress *ProgressSnapshot `json:"progress,omitempty"`
}

// Queue owns the job state machine: durable transitions, dedup on
// submit, and a single worker goroutine executing jobs FIFO.
type Queue struct {
	log    *jobLog
	runner Runner
	logger *slog.Logger

	mu       sync.Mutex
	jobs     map[string]*Job
	pending  []string
	running  string
	cancel   context.CancelFunc
	progress *Progress
	closed   bool

	wake chan struct{}
	done chan struct{}
}

// Open replays the log, compacts it when oversized, and starts the
// worker.
func Open(logPath string, runner Runner, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	replayed, err := replay(logPath)
	if err != nil {
		return nil, err
	}
	if needsCompaction(logPath) {
		if err := compact(logPath, replayed); err != nil {
			return nil, err
		}
		logger.Info("compacted job log", "path", logPath, "jobs", len(replayed))
	}

	log, err := openLog(logPath)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		log:    log,
		runner: runner,
		logger: logger,
		jobs:   map[string]*Job{},
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := range replayed {
		job := replayed[i]
		q.jobs[job.ID] = &job
		if job.Status == StatusPending {
			q.pending = append(q.pending, job.ID)
		}
		// Crash recovery rewrote running jobs as failed in memory;
		// record that durably so the next replay agrees.
		if job.Status == StatusFailed && job.Error == "process terminated" {
			if err := log.append(job); err != nil {
				logger.Warn("failed to persist crash recovery record", "job", job.ID, "error", err)
			}
		}
	}

	go q.work()
	if len(q.pending) > 0 {
		q.signal()
	}
	return q, nil
}

// Submit enqueues a request. While an identical job is pending or
// running, the existing id is returned with deduplicated=true.
func (q *Queue) Submit(req Request) (jobID string, deduplicated bool, err error) {
	id := req.ID()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", false, errors.New(errors.KindConflict, "job queue is closed")
	}

	if existing, ok := q.jobs[id]; ok && !existing.Status.Terminal() {
		return id, true, nil
	}

	job := &Job{
		ID:        id,
		Request:   req,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.log.append(*job); err != nil {
		return "", false, err
	}
	q.jobs[id] = job
	q.pending = append(q.pending, id)
	q.signal()
	return id, false, nil
}

// Cancel marks a pending job cancelled, or requests cooperative
// cancellation of the running job.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return errors.New(errors.KindNotFound, "job not found: "+jobID)
	}

	switch job.Status {
	case StatusPending:
		for i, id := range q.pending {
			if id == jobID {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
		job.Status = StatusCancelled
		job.FinishedAt = time.Now().UTC()
		return q.log.append(*job)
	case StatusRunning:
		if q.cancel != nil {
			q.cancel()
		}
		return nil
	default:
		return errors.New(errors.KindConflict, "job already "+string(job.Status))
	}
}

// Get returns a copy of the job.
func (q *Queue) Get(jobID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	out := *job
	if q.running == jobID && q.progress != nil {
		out.Progress = q.progress.Fraction()
	}
	return out, true
}

// List returns all known jobs, newest first.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out := *job
		if q.running == job.ID && q.progress != nil {
			out.Progress = q.progress.Fraction()
		}
		jobs = append(jobs, out)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

// Snapshot summarizes the queue.
func (q *Queue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := QueueSnapshot{Pending: len(q.pending)}
	if q.running != "" {
		job := *q.jobs[q.running]
		if q.progress != nil {
			job.Progress = q.progress.Fraction()
			ps := q.progress.Snapshot()
			snap.Progress = &ps
		}
		snap.Running = &job
	}
	return snap
}

// Close stops accepting jobs, cancels the running one, and waits for
// the worker to exit.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()

	q.signal()
	<-q.done
	return q.log.close()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) work() {
	defer close(q.done)
	for {
		job, progress, ctx, ok := q.next()
		if !ok {
			if q.isClosed() {
				return
			}
			<-q.wake
			continue
		}

		err := q.runJob(ctx, job, progress)
		q.finish(job.ID, ctx, err)
	}
}

// next pops the head of the pending list and moves it to running.
func (q *Queue) next() (Job, *Progress, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return Job{}, nil, nil, false
	}

	id := q.pending[0]
	q.pending = q.pending[1:]
	job := q.jobs[id]
	job.Status = StatusRunning
	job.StartedAt = time.Now().UTC()

	ctx, cancel := context.WithCancel(context.Background())
	q.running = id
	q.cancel = cancel
	q.progress = NewProgress()

	if err := q.log.append(*job); err != nil {
		q.logger.Warn("failed to log job start", "job", id, "error", err)
	}
	return *job, q.progress, ctx, true
}

func (q *Queue) runJob(ctx context.Context, job Job, progress *Progress) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Internal("job panicked", nil)
			q.logger.Error("job panicked", "job", job.ID, "panic", r)
		}
	}()
	q.logger.Info("job started", "job", job.ID, "folder", job.Request.Folder)
	return q.runner(ctx, job, progress)
}

// finish records the terminal transition.
func (q *Queue) finish(jobID string, ctx context.Context, runErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.jobs[jobID]
	job.FinishedAt = time.Now().UTC()
	switch {
	case ctx.Err() != nil:
		job.Status = StatusCancelled
		job.Progress = q.progress.Fraction()
	case runErr != nil:
		job.Status = StatusFailed
		job.Error = runErr.Error()
		job.Progress = q.progress.Fraction()
	default:
		job.Status = StatusDone
		job.Progress = 1
	}
	q.running = ""
	q.cancel = nil
	q.progress = nil

	if err := q.log.append(*job); err != nil {
		q.logger.Warn("failed to log job finish", "job", jobID, "error", err)
	}
	q.logger.Info("job finished", "job", jobID, "status", job.Status, "error", job.Error)
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

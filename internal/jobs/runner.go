package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ozonereg/declpipe/internal/pipeline"
)

// ErrQueueFull is returned by Enqueue when the runner's queue is full.
var ErrQueueFull = errors.New("job queue full")

// Executor runs one extraction attempt to completion. Implemented by
// *pipeline.Pipeline; tests substitute a stub.
type Executor interface {
	Execute(ctx context.Context, job *pipeline.Job) error
}

// Runner executes jobs on a fixed worker pool. Attempts are
// single-flight: a job's attempt key admits exactly one in-flight run,
// and a retry bumps the key so the new attempt is admitted while the
// stale one (if any) finishes harmlessly.
type Runner struct {
	exec    Executor
	logger  *slog.Logger
	workers int
	queue   chan *pipeline.Job

	mu       sync.Mutex
	inflight map[string]struct{}

	wg sync.WaitGroup
}

// NewRunner creates a runner with the given worker count.
func NewRunner(exec Executor, workers int, queueSize int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Runner{
		exec:     exec,
		logger:   logger.With("component", "runner"),
		workers:  workers,
		queue:    make(chan *pipeline.Job, queueSize),
		inflight: make(map[string]struct{}),
	}
}

// Start launches the workers. Blocks until ctx is cancelled and all
// workers have drained their current job.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("runner started", "workers", r.workers)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
	r.wg.Wait()
	r.logger.Info("runner stopped")
}

// Enqueue admits a job attempt for execution. A duplicate of an attempt
// already queued or running is a silent no-op; the caller keeps polling
// the same job either way.
func (r *Runner) Enqueue(job *pipeline.Job) error {
	key := job.AttemptKey()

	r.mu.Lock()
	if _, dup := r.inflight[key]; dup {
		r.mu.Unlock()
		r.logger.Debug("attempt already in flight", "attempt", key)
		return nil
	}
	r.inflight[key] = struct{}{}
	r.mu.Unlock()

	select {
	case r.queue <- job:
		return nil
	default:
		r.release(key)
		return fmt.Errorf("%w: job %s", ErrQueueFull, job.ID)
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (r *Runner) QueueDepth() int {
	return len(r.queue)
}

// InFlight returns the number of admitted attempts not yet finished.
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.queue:
			r.run(ctx, job)
		}
	}
}

func (r *Runner) run(ctx context.Context, job *pipeline.Job) {
	defer r.release(job.AttemptKey())

	err := r.exec.Execute(ctx, job)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrJobBusy):
		// Another attempt owns the job record; nothing to do.
		r.logger.Debug("job busy, attempt dropped", "job_id", job.ID)
	default:
		// Execute already persisted the error state.
		r.logger.Error("job attempt failed", "job_id", job.ID, "error", err)
	}
}

func (r *Runner) release(key string) {
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}

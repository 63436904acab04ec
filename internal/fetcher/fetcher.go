// Package fetcher implements C5 of spec.md §4.5: the Job Fetcher polls the
// control plane for as many jobs as there is spare queue capacity for,
// and hands each one to the queue before recording it in the progress
// registry. Grounded on sky93-taskflow's manager.go dispatch loop (poll,
// check capacity, fetch, hand off) generalized from a fixed worker-pool
// size to the JobScaler's resizable budget.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/runpod/worker/internal/model"
	"github.com/runpod/worker/internal/rerror"
	"github.com/runpod/worker/internal/rlog"
)

const (
	capacityPollInterval = time.Second
	transientRetryDelay  = time.Second
)

// Acquirer requests up to batchSize jobs from the control plane.
type Acquirer interface {
	Acquire(ctx context.Context, batchSize int, jobInProgress bool) ([]model.Job, error)
}

// Queue is the subset of *queue.Queue the Fetcher needs.
type Queue interface {
	Push(ctx context.Context, job model.Job) error
	Len() int
}

// Registry is the subset of *registry.Registry the Fetcher needs.
type Registry interface {
	Add(id string) error
	Count() (int, error)
	Contains(id string) (bool, error)
}

// Fetcher owns the acquisition loop. Budget is read fresh on every
// iteration so a JobScaler resize takes effect on the Fetcher's very next
// poll, without any explicit signaling between the two.
type Fetcher struct {
	acquirer Acquirer
	queue    Queue
	registry Registry
	budget   func() int
	resize   func(ctx context.Context)
	log      *slog.Logger
}

// New builds a Fetcher. budget must return the JobScaler's current
// concurrency budget and may change value between calls. resize, if
// non-nil, is invoked once at the start of every fetch cycle, per
// spec.md §4.7's "the concurrency modifier is evaluated before each fetch
// cycle" — this is what lets JobScaler.Resize actually run on a live
// schedule instead of a fixed timer.
func New(acquirer Acquirer, queue Queue, registry Registry, budget func() int, resize func(ctx context.Context), log *slog.Logger) *Fetcher {
	return &Fetcher{acquirer: acquirer, queue: queue, registry: registry, budget: budget, resize: resize, log: log}
}

// Run polls until ctx is cancelled or shuttingDown reports true. Per
// spec.md §4.5, a shutdown signal stops new acquisition immediately —
// jobs already queued or in flight are left for the Runner to drain.
func (f *Fetcher) Run(ctx context.Context, shuttingDown func() bool) {
	for {
		if ctx.Err() != nil || shuttingDown() {
			return
		}

		if f.resize != nil {
			f.resize(ctx)
		}

		free := f.budget() - f.queue.Len()
		if free <= 0 {
			if !sleep(ctx, capacityPollInterval) {
				return
			}
			continue
		}

		jobs, err := f.poll(ctx, free)
		if err != nil {
			if !f.handlePollError(ctx, err) {
				return
			}
			continue
		}

		for _, job := range jobs {
			jobCtx := rlog.WithJob(ctx, job.ID, "")

			dup, err := f.registry.Contains(job.ID)
			if err != nil {
				f.log.WarnContext(jobCtx, "registry lookup failed, assuming not a duplicate", "error", err)
			} else if dup {
				f.log.WarnContext(jobCtx, "dropping duplicate acquisition of an in-progress job")
				continue
			}

			if err := f.queue.Push(ctx, job); err != nil {
				return
			}
			if err := f.registry.Add(job.ID); err != nil {
				f.log.ErrorContext(jobCtx, "recording job in registry failed", "error", err)
			}
		}
	}
}

func (f *Fetcher) poll(ctx context.Context, jobsNeeded int) ([]model.Job, error) {
	inProgress, err := f.registry.Count()
	if err != nil {
		f.log.WarnContext(ctx, "registry count failed, assuming jobs in progress", "error", err)
		inProgress = 1
	}
	return f.acquirer.Acquire(ctx, jobsNeeded, inProgress > 0)
}

// handlePollError applies spec.md §4.2's per-failure-mode handling and
// reports whether the loop should continue polling.
func (f *Fetcher) handlePollError(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, rerror.ErrNoJobs):
		return true
	case errors.Is(err, rerror.ErrRateLimited):
		f.log.DebugContext(ctx, "rate limited, backing off")
		return sleep(ctx, 5*time.Second)
	case errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		f.log.WarnContext(ctx, "job acquisition failed", "error", err)
		return sleep(ctx, transientRetryDelay)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

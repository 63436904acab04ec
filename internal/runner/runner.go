// Package runner implements C6 of spec.md §4.6: the Job Runner drains the
// queue and dispatches each job to the invoker, bounded by the current
// concurrency budget, and delivers whatever terminal result comes back.
// Grounded on sky93-taskflow's worker.go dispatch loop (pop, dispatch to a
// bounded pool of goroutines, report), generalized to a budget that can
// change mid-flight and to streaming handlers via internal/invoker.
package runner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/runpod/worker/internal/model"
	"github.com/runpod/worker/internal/rlog"
)

const popPollInterval = 200 * time.Millisecond

// Queue is the subset of *queue.Queue the Runner needs.
type Queue interface {
	Pop(ctx context.Context) (model.Job, bool)
	Empty() bool
}

// Registry is the subset of *registry.Registry the Runner needs.
type Registry interface {
	Remove(id string) error
}

// Invoker runs a single job to completion, streaming fragments through
// onFragment as they arrive.
type Invoker interface {
	Invoke(ctx context.Context, job model.Job, onFragment func(model.StreamFragment)) model.Result
	IsStream() bool
}

// ResultSender delivers a job's terminal result and, for streaming jobs,
// its intermediate fragments.
type ResultSender interface {
	PostResult(ctx context.Context, job model.Job, result model.Result) error
	PostStream(ctx context.Context, job model.Job, fragment model.StreamFragment)
}

// History archives a terminal result. A nil-safe implementation (such as
// *history.Sink) makes this wiring optional.
type History interface {
	Record(ctx context.Context, workerID string, job model.Job, result model.Result) error
}

// Runner drains queue, invoking at most budget() jobs concurrently.
type Runner struct {
	queue    Queue
	registry Registry
	invoker  Invoker
	sender   ResultSender
	history  History
	workerID string
	budget   func() int
	onRefresh func()
	log      *slog.Logger

	inFlight int64
}

// New builds a Runner. onRefresh is invoked after every job whose result
// asks for the worker to be recycled (spec.md §4.3's refresh_worker
// flag), so it may be called more than once; history may be nil.
func New(queue Queue, registry Registry, invoker Invoker, sender ResultSender, history History,
	workerID string, budget func() int, onRefresh func(), log *slog.Logger) *Runner {
	return &Runner{
		queue: queue, registry: registry, invoker: invoker, sender: sender, history: history,
		workerID: workerID, budget: budget, onRefresh: onRefresh, log: log,
	}
}

// Run drains the queue until shuttingDown reports true, the queue is
// empty, and no task is in flight — spec.md §4.6's termination rule. ctx
// cancellation stops dispatching new jobs at once and is passed on to
// in-flight tasks through their context; Run still waits for those tasks
// to return. It is the forced-stop path, not the cooperative shutdown path.
func (r *Runner) Run(ctx context.Context, shuttingDown func() bool) {
	var wg sync.WaitGroup
	slot := make(chan struct{}, 1)

	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return
		}
		if shuttingDown() && r.queue.Empty() && atomic.LoadInt64(&r.inFlight) == 0 {
			return
		}

		if int(atomic.LoadInt64(&r.inFlight)) >= max(r.budget(), 1) {
			select {
			case <-slot:
			case <-time.After(popPollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		popCtx, cancel := context.WithTimeout(ctx, popPollInterval)
		job, ok := r.queue.Pop(popCtx)
		cancel()
		if !ok {
			continue
		}

		atomic.AddInt64(&r.inFlight, 1)
		wg.Add(1)
		go func(job model.Job) {
			defer wg.Done()
			defer atomic.AddInt64(&r.inFlight, -1)
			defer func() {
				select {
				case slot <- struct{}{}:
				default:
				}
			}()
			r.process(ctx, job)
		}(job)
	}
}

func (r *Runner) process(ctx context.Context, job model.Job) {
	ctx = rlog.WithJob(ctx, job.ID, r.workerID)

	onFragment := func(fragment model.StreamFragment) {
		r.sender.PostStream(ctx, job, fragment)
	}

	result := r.invoker.Invoke(ctx, job, onFragment)

	postErr := r.sender.PostResult(ctx, job, result)
	if postErr != nil {
		r.log.ErrorContext(ctx, "delivering result failed, removing from registry anyway", "error", postErr)
	}

	if r.history != nil && postErr == nil {
		if err := r.history.Record(ctx, r.workerID, job, result); err != nil {
			r.log.WarnContext(ctx, "recording job history failed", "error", err)
		}
	}

	if err := r.registry.Remove(job.ID); err != nil {
		r.log.ErrorContext(ctx, "removing job from registry failed", "error", err)
	}

	if result.RefreshWorker && r.onRefresh != nil {
		r.onRefresh()
	}
}

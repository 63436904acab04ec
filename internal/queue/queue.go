// Package queue implements the bounded FIFO of spec.md §3: capacity equal
// to the current concurrency budget, blocking push/pop, and support for
// the JobScaler's resize protocol (spec.md §4.7), which replaces the
// queue wholesale rather than resizing it in place — DESIGN NOTES §9
// calls this out explicitly for languages whose queue type can't be
// resized, and Go's channels are exactly such a type.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/runpod/worker/internal/model"
)

// Queue is owned by the JobScaler and mutated only by the Fetcher (push)
// and the Runner (pop); a Resize is visible atomically to both, per the
// Shared resource policy of spec.md §5.
type Queue struct {
	mu  sync.RWMutex
	ch  chan model.Job
	len int64
}

// New creates a Queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan model.Job, capacity)}
}

// Push blocks until there is room or ctx is cancelled. It sends on the
// channel that is current when it starts waiting; a Resize does not wake
// or redirect a Push that is already blocked. A resize only ever happens
// once the queue is empty and while the fetcher is between calls.
func (q *Queue) Push(ctx context.Context, job model.Job) error {
	for {
		q.mu.RLock()
		ch := q.ch
		q.mu.RUnlock()

		select {
		case ch <- job:
			atomic.AddInt64(&q.len, 1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop blocks until a job is available or ctx is cancelled.
func (q *Queue) Pop(ctx context.Context) (model.Job, bool) {
	q.mu.RLock()
	ch := q.ch
	q.mu.RUnlock()

	select {
	case job, ok := <-ch:
		if ok {
			atomic.AddInt64(&q.len, -1)
		}
		return job, ok
	case <-ctx.Done():
		return model.Job{}, false
	}
}

// Len returns the current number of queued jobs.
func (q *Queue) Len() int {
	return int(atomic.LoadInt64(&q.len))
}

// Cap returns the current capacity.
func (q *Queue) Cap() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cap(q.ch)
}

// Empty reports whether the queue currently holds no jobs.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Resize replaces the backing channel with a fresh one of the given
// capacity. Callers must ensure the queue is empty first (the JobScaler's
// drain loop, spec.md §4.7) — Resize itself does not drain.
func (q *Queue) Resize(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ch = make(chan model.Job, capacity)
	atomic.StoreInt64(&q.len, 0)
}

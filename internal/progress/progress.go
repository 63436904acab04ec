// Package progress implements the best-effort progress-update side
// channel of SPEC_FULL.md §5.1, re-architected per DESIGN NOTES §9's
// "Per-progress-update thread with a fresh HTTP client" guidance: instead
// of spinning up a client per update, callers enqueue onto a bounded
// channel drained by a single long-lived goroutine that reuses the
// worker's shared HTTP connection pool.
package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/runpod/worker/internal/model"
)

const channelCapacity = 256

// Poster sends a single progress update; satisfied by *transport.Transport
// in production, or a fake in tests.
type Poster interface {
	PostProgress(ctx context.Context, update model.ProgressUpdate) error
}

// Publisher is the handler-facing side of the channel: Post enqueues and
// returns immediately. mu guards Post/Close against each other so a Post
// racing a Close never sends on an already-closed channel.
type Publisher struct {
	mu      sync.Mutex
	updates chan model.ProgressUpdate
	closed  bool
	log     *slog.Logger
}

// NewPublisher starts the background drain goroutine and returns the
// handler-facing Publisher. Call Close to stop it during shutdown.
func NewPublisher(ctx context.Context, poster Poster, log *slog.Logger) *Publisher {
	p := &Publisher{
		updates: make(chan model.ProgressUpdate, channelCapacity),
		log:     log,
	}
	go p.drain(ctx, poster)
	return p
}

// Post enqueues a progress update. Best-effort: if the channel is full,
// the update is dropped and logged rather than blocking the handler. A
// Post after Close is silently dropped.
func (p *Publisher) Post(jobID string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.updates <- model.ProgressUpdate{JobID: jobID, Payload: payload}:
	default:
		p.log.Warn("progress update dropped: channel full", "job_id", jobID)
	}
}

// Close stops accepting new updates. Safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.updates)
}

func (p *Publisher) drain(ctx context.Context, poster Poster) {
	for update := range p.updates {
		if err := poster.PostProgress(ctx, update); err != nil {
			p.log.WarnContext(ctx, "progress update failed", "job_id", update.JobID, "error", err)
		}
	}
}

// Package heartbeat implements C4 of spec.md §4.4: a periodic liveness
// ping carrying the current in-progress job identifiers, running in its
// own goroutine so a stalled blocking handler never starves it. Go's
// goroutines are preemptible since 1.14, so — per DESIGN NOTES §9's
// "if the target runtime offers true preemptive parallelism cheaply, a
// dedicated thread suffices" — a dedicated goroutine reading the registry
// is enough; no child-process split is needed the way the Python source
// forces with its GIL-bound threads.
package heartbeat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/runpod/worker/internal/registry"
)

// Pinger sends the heartbeat GET; satisfied by *transport.Transport.
type Pinger interface {
	Ping(ctx context.Context, jobIDs []string, retry bool, interval time.Duration) error
}

// Heartbeat runs the periodic ping loop.
type Heartbeat struct {
	reg      *registry.Registry
	pinger   Pinger
	interval time.Duration
	log      *slog.Logger
}

// New builds a Heartbeat. reg is read fresh on every tick since a sibling
// process may be the one mutating it (spec.md §4.4).
func New(reg *registry.Registry, pinger Pinger, interval time.Duration, log *slog.Logger) *Heartbeat {
	return &Heartbeat{reg: reg, pinger: pinger, interval: interval, log: log}
}

// Run ticks until ctx is cancelled. Intended to be started before the main
// loop begins and stopped only when the shutdown signal propagates
// (spec.md §4.4's start/stop lifecycle).
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	retryNext := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			retryNext = h.tick(ctx, retryNext)
		}
	}
}

func (h *Heartbeat) tick(ctx context.Context, retry bool) bool {
	jobIDs, err := h.reg.Snapshot()
	if err != nil {
		h.log.ErrorContext(ctx, "heartbeat: reading registry snapshot failed", "error", err)
		return true
	}

	if err := h.pinger.Ping(ctx, jobIDs, retry, h.interval); err != nil {
		h.log.WarnContext(ctx, "heartbeat: ping failed", "error", err, "job_ids", strings.Join(jobIDs, ","))
		return true
	}
	return false
}

// Package rlog wires the worker's structured logging.
//
// It follows the same shape as sky93-taskflow's LogEvent callbacks, but
// backs onto log/slog instead of a user-supplied function pair, in the
// idiom of CZERTAINLY-Seeker's internal/log package: a context-aware
// slog.Handler so job id / worker id attributes attach automatically to
// every log line emitted underneath a given job's call tree.
package rlog

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey struct{}

var attrsKey ctxKey

// ContextHandler injects attributes carried on the context (via WithJob)
// into every record, so callers deep inside a job's call tree don't need
// to thread job id/worker id through every log call.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) ContextHandler {
	return ContextHandler{Handler: h}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(attrsKey).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

// WithJob returns a context carrying job_id/worker_id attributes that will
// be attached to every subsequent log record made with this context.
func WithJob(ctx context.Context, jobID, workerID string) context.Context {
	attrs := []slog.Attr{slog.String("job_id", jobID)}
	if workerID != "" {
		attrs = append(attrs, slog.String("worker_id", workerID))
	}
	return context.WithValue(ctx, attrsKey, attrs)
}

// ParseLevel maps the RUNPOD_DEBUG_LEVEL vocabulary onto slog.Level.
func ParseLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the worker's root logger: JSON to stderr, level-gated.
func New(level string) *slog.Logger {
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(NewContextHandler(base))
}

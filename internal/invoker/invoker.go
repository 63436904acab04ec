// Package invoker implements C3 of spec.md §4.3: polymorphic invocation of
// user handler code. DESIGN NOTES §9 calls for a tagged variant selected
// once at startup with a single switch in the hot path: New matches the
// handler's function signature against four handler shapes (via reflect,
// see asHandler) and records the result as a Kind, and Invoke switches on
// that Kind — the same signature-based dispatch sky93-taskflow uses to
// pick between JobHandler and JobAdvancedHandler in handlers.go.
//
// The Python source distinguishes "blocking" (sync def) from "cooperative"
// (async def) because both run on one OS thread there. Go has no such
// distinction at the runtime level — every goroutine is preemptible — so
// the idiomatic equivalent is whether the handler accepts a
// context.Context: a context-aware handler can observe cancellation
// mid-run the way an async def can yield to the event loop, while a bare
// handler runs to completion oblivious to the surrounding shutdown signal.
// That is the "documented trade-off" of spec.md §5.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"runtime/debug"

	"github.com/runpod/worker/internal/config"
	"github.com/runpod/worker/internal/debugger"
	"github.com/runpod/worker/internal/model"
)

// StreamItem is one element of a handler's finite lazy sequence: either a
// partial output or a terminal error.
type StreamItem struct {
	Output any
	Err    error
}

// Handler signatures. Exactly one of these four shapes is supplied to New.
type (
	BlockingHandler          func(job model.Job) (any, error)
	CooperativeHandler       func(ctx context.Context, job model.Job) (any, error)
	StreamHandler            func(job model.Job) (<-chan StreamItem, error)
	CooperativeStreamHandler func(ctx context.Context, job model.Job) (<-chan StreamItem, error)
)

// Kind is the tagged variant an Invoker classifies its handler into once,
// at construction time.
type Kind int

const (
	KindBlocking Kind = iota
	KindCooperative
	KindStream
	KindCooperativeStream
)

func (k Kind) IsStream() bool {
	return k == KindStream || k == KindCooperativeStream
}

// Invoker runs jobs against a single classified handler.
type Invoker struct {
	kind     Kind
	handler  any
	cfg      config.WorkerConfig
	worker   Identity
	progress model.ProgressReporter
}

// noopProgress discards every update; it's the default a Job's Progress
// field carries when no publisher was wired via WithProgress, so a handler
// can always call job.Progress.Post without a nil check.
type noopProgress struct{}

func (noopProgress) Post(jobID string, payload any) {}

// Identity carries the fields RuntimeError envelopes need (spec.md §6).
type Identity struct {
	WorkerID string
	Hostname string
	Version  string
}

// New classifies handler into one of the four supported shapes. handler
// need not be an explicit BlockingHandler(...)-style conversion — a plain
// func value with a matching signature is recognized too, since callers
// (the reference CLI included) routinely pass a bare function.
func New(handler any, cfg config.WorkerConfig, identity Identity) (*Invoker, error) {
	kind, converted, err := classify(handler)
	if err != nil {
		return nil, err
	}
	return &Invoker{kind: kind, handler: converted, cfg: cfg, worker: identity}, nil
}

// classify matches handler's underlying function signature against the
// four named handler types and returns it converted to whichever one
// matched, so the type assertions in Invoke succeed regardless of whether
// the caller wrapped handler in an explicit conversion.
func classify(handler any) (Kind, any, error) {
	if h, ok := asHandler[BlockingHandler](handler); ok {
		return KindBlocking, h, nil
	}
	if h, ok := asHandler[CooperativeHandler](handler); ok {
		return KindCooperative, h, nil
	}
	if h, ok := asHandler[StreamHandler](handler); ok {
		return KindStream, h, nil
	}
	if h, ok := asHandler[CooperativeStreamHandler](handler); ok {
		return KindCooperativeStream, h, nil
	}
	return 0, nil, fmt.Errorf("invoker: unsupported handler type %T", handler)
}

// asHandler reports whether handler's dynamic type has the same
// underlying function signature as T, returning it converted to T.
func asHandler[T any](handler any) (T, bool) {
	var zero T
	target := reflect.TypeOf(zero)
	v := reflect.ValueOf(handler)
	if !v.IsValid() || v.Kind() != reflect.Func || !v.Type().ConvertibleTo(target) {
		return zero, false
	}
	return v.Convert(target).Interface().(T), true
}

// IsStream reports whether this invoker's handler is one of the two
// streaming shapes, so callers (C6) know whether to expect fragments.
func (inv *Invoker) IsStream() bool {
	return inv.kind.IsStream()
}

// WithProgress attaches the publisher every subsequently invoked Job's
// Progress field is populated with (SPEC_FULL.md §5.1). Returns inv so
// callers can chain it onto New. Optional: a Job's Progress defaults to a
// no-op reporter when this is never called.
func (inv *Invoker) WithProgress(p model.ProgressReporter) *Invoker {
	inv.progress = p
	return inv
}

// Invoke runs job to completion, returning its terminal Result. onFragment
// is called once per yielded partial for the two streaming shapes; it is
// never called for blocking/cooperative handlers.
func (inv *Invoker) Invoke(ctx context.Context, job model.Job, onFragment func(model.StreamFragment)) (result model.Result) {
	if inv.progress != nil {
		job.Progress = inv.progress
	} else {
		job.Progress = noopProgress{}
	}

	defer func() {
		if r := recover(); r != nil {
			result = inv.captureRuntimeError(fmt.Errorf("panic: %v", r), debug.Stack())
		}
		// WorkerConfig.RefreshWorker forces a refresh after every job
		// regardless of what the handler itself returned or whether it
		// errored (SPEC_FULL.md §5.2a); it is never the only source of
		// truth, so it only ever turns the flag on, never off.
		if inv.cfg.RefreshWorker {
			result.RefreshWorker = true
		}
	}()

	switch inv.kind {
	case KindBlocking:
		output, err := inv.handler.(BlockingHandler)(job)
		return inv.finishBlocking(output, err)

	case KindCooperative:
		output, err := inv.handler.(CooperativeHandler)(ctx, job)
		return inv.finishBlocking(output, err)

	case KindStream:
		items, err := inv.handler.(StreamHandler)(job)
		if err != nil {
			return inv.captureRuntimeError(err, nil)
		}
		return inv.finishStream(items, onFragment)

	case KindCooperativeStream:
		items, err := inv.handler.(CooperativeStreamHandler)(ctx, job)
		if err != nil {
			return inv.captureRuntimeError(err, nil)
		}
		return inv.finishStream(items, onFragment)
	}

	return inv.captureRuntimeError(fmt.Errorf("invoker: unreachable handler kind %v", inv.kind), nil)
}

// finishBlocking implements the blocking-path rules of spec.md §4.3: a
// mapping with an "error" key becomes UserError (error wins over any
// "output" present alongside it, per SPEC_FULL.md §5.3); a
// "refresh_worker" flag is honored; otherwise the value is wrapped in
// Success. The output size check runs last.
func (inv *Invoker) finishBlocking(output any, err error) model.Result {
	if err != nil {
		return inv.captureRuntimeError(err, nil)
	}

	if asMap, ok := output.(map[string]any); ok {
		if errMsg, hasErr := asMap["error"]; hasErr {
			return model.UserErrorResult(fmt.Sprint(errMsg))
		}
		result := model.Success(asMap)
		if refresh, _ := asMap["refresh_worker"].(bool); refresh {
			result.RefreshWorker = true
		}
		return inv.checkSize(result)
	}

	return inv.checkSize(model.Success(output))
}

// finishStream implements the streaming path of spec.md §4.3: each
// yielded partial is emitted via onFragment; an error mid-stream
// terminates with RuntimeError; completion yields either the aggregated
// output (if configured) or an empty Success.
func (inv *Invoker) finishStream(items <-chan StreamItem, onFragment func(model.StreamFragment)) model.Result {
	var aggregate []any

	for item := range items {
		if item.Err != nil {
			return inv.captureRuntimeError(item.Err, nil)
		}
		if inv.cfg.ReturnAggregateStream {
			aggregate = append(aggregate, item.Output)
		}
		onFragment(model.StreamFragment{Output: item.Output})
	}

	if inv.cfg.ReturnAggregateStream {
		return inv.checkSize(model.Success(aggregate))
	}
	return inv.checkSize(model.Success(nil))
}

// attachDebugger implements SPEC_FULL.md §5.2: when the debugger envelope
// is enabled, a map-shaped success output gains an "rp_debugger" field.
// Non-map outputs are left alone, matching rp_job.py's isinstance(dict) guard.
func (inv *Invoker) attachDebugger(result model.Result) model.Result {
	if !inv.cfg.RPDebugger || result.IsError() {
		return result
	}
	if asMap, ok := result.Output.(map[string]any); ok {
		result.Output = debugger.Attach(asMap)
	}
	return result
}

// checkSize implements SPEC_FULL.md §5.5 (rp_tips.py's check_return_size):
// a terminal output exceeding the configured maximum is replaced with a
// UserError noting the size.
func (inv *Invoker) checkSize(result model.Result) model.Result {
	result = inv.attachDebugger(result)
	if result.IsError() {
		return result
	}
	raw, err := json.Marshal(result.Output)
	if err != nil {
		return inv.captureRuntimeError(fmt.Errorf("encoding handler output: %w", err), nil)
	}
	if len(raw) > inv.cfg.MaxPayloadSize {
		return model.UserErrorResult(fmt.Sprintf(
			"handler output of %d bytes exceeds the maximum of %d bytes",
			len(raw), inv.cfg.MaxPayloadSize))
	}
	return result
}

func (inv *Invoker) captureRuntimeError(err error, stack []byte) model.Result {
	traceback := string(stack)
	if traceback == "" {
		traceback = string(debug.Stack())
	}
	hostname := inv.worker.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return model.RuntimeErrorResult(model.RuntimeErrorEnvelope{
		ErrorType:      fmt.Sprintf("%T", err),
		ErrorMessage:   err.Error(),
		ErrorTraceback: traceback,
		Hostname:       hostname,
		WorkerID:       inv.worker.WorkerID,
		RunpodVersion:  inv.worker.Version,
	})
}

// Package runpod is the worker's public entrypoint: a caller supplies a
// handler function and a small set of options, and Start owns the rest of
// the process's lifetime — acquiring jobs, invoking the handler, and
// reporting results — the same role sky93-taskflow's TaskFlow.New /
// StartWorkers / Shutdown played for its DB-backed queue, generalized
// from a fixed worker count to the JobScaler's resizable budget.
package runpod

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/runpod/worker/internal/config"
	"github.com/runpod/worker/internal/debugger"
	"github.com/runpod/worker/internal/fitness"
	"github.com/runpod/worker/internal/history"
	"github.com/runpod/worker/internal/invoker"
	"github.com/runpod/worker/internal/localtest"
	"github.com/runpod/worker/internal/model"
	"github.com/runpod/worker/internal/progress"
	"github.com/runpod/worker/internal/registry"
	"github.com/runpod/worker/internal/rlog"
	"github.com/runpod/worker/internal/scaler"
	"github.com/runpod/worker/internal/transport"
)

// Version is stamped into RuntimeError envelopes; overridable at link time
// via -ldflags "-X github.com/runpod/worker.Version=...".
var Version = "dev"

// options bundles everything an Option can configure: the worker's
// concurrency/behavior knobs (config.WorkerConfig) plus the two
// collaborators that don't belong on that struct.
type options struct {
	worker  config.WorkerConfig
	checks  []fitness.Check
	history *history.Sink
}

// Option configures a Start or TestInput call.
type Option func(*options)

// WithConcurrencyModifier installs a function mapping the current
// concurrency budget to its next value, applied by the JobScaler before
// every fetch cycle (spec.md §4.7).
func WithConcurrencyModifier(fn config.ConcurrencyModifier) Option {
	return func(o *options) { o.worker.ConcurrencyModifier = fn }
}

// WithInitialConcurrency sets the JobScaler's starting budget.
func WithInitialConcurrency(n int) Option {
	return func(o *options) { o.worker.InitialConcurrency = n }
}

// WithReturnAggregateStream makes a streaming handler's terminal result
// carry a list of every yielded fragment output, in order.
func WithReturnAggregateStream(enabled bool) Option {
	return func(o *options) { o.worker.ReturnAggregateStream = enabled }
}

// WithRefreshWorkerAfterJob forces a worker to exit after each job
// completes, regardless of what the handler itself returns.
func WithRefreshWorkerAfterJob(enabled bool) Option {
	return func(o *options) { o.worker.RefreshWorker = enabled }
}

// WithMaxPayloadSize bounds a terminal output's encoded size in bytes.
func WithMaxPayloadSize(bytes int) Option {
	return func(o *options) { o.worker.MaxPayloadSize = bytes }
}

// WithDebugger enables the rp_debugger timing envelope on outputs.
func WithDebugger(enabled bool) Option {
	return func(o *options) { o.worker.RPDebugger = enabled }
}

// WithFitnessChecks registers startup preconditions run before the worker
// begins serving; skipped automatically in local-test mode.
func WithFitnessChecks(checks ...fitness.Check) Option {
	return func(o *options) { o.checks = append(o.checks, checks...) }
}

// WithHistorySink wires an optional MySQL-backed archive of terminal
// results, opened by the caller (SPEC_FULL.md §5.6).
func WithHistorySink(sink *history.Sink) Option {
	return func(o *options) { o.history = sink }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.worker = config.WithDefaults(o.worker)
	return o
}

// Start runs the worker to completion: it blocks until a shutdown signal
// (SIGINT/SIGTERM) or a handler-requested refresh arrives and every
// in-flight job has drained, per spec.md §4.7. Without
// RUNPOD_WEBHOOK_GET_JOB set it logs a warning and returns nil at once.
// handler must be one of the four supported shapes in package invoker.
func Start(handler any, opts ...Option) error {
	env := config.Load()
	log := rlog.New(env.DebugLevel)
	debugger.MarkReferenceStart()

	o := buildOptions(opts)

	identity := invoker.Identity{WorkerID: env.PodID, Hostname: env.PodHostname, Version: Version}
	inv, err := invoker.New(handler, o.worker, identity)
	if err != nil {
		return fmt.Errorf("runpod: %w", err)
	}

	if env.IsLocalTest() {
		log.Warn("no control-plane webhooks configured; call TestInput for a single-shot run instead of Start")
		return nil
	}

	tp := transport.New(env.GetJobURL, env.PostOutputURL, env.PostStreamURL, env.PingURL, log)
	reg := registry.Open(registryPath())

	publisherCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	publisher := progress.NewPublisher(publisherCtx, tp, log)
	defer publisher.Close()
	inv.WithProgress(publisher)

	deps := scaler.Dependencies{
		Registry: reg,
		Acquirer: tp,
		Pinger:   tp,
		Sender:   tp,
		Invoker:  inv,
		History:  historyOrNil(o.history),
		WorkerID: env.PodID,
		Log:      log,
		Checks:   append(defaultFitnessChecks(env), o.checks...),
	}

	js := scaler.New(deps, o.worker, env)
	return js.Run(context.Background())
}

// historyOrNil returns a nil scaler.History interface (not a non-nil
// interface wrapping a nil pointer) when the caller wired no sink, so
// the Runner's own nil check works as intended.
func historyOrNil(sink *history.Sink) scaler.History {
	if sink == nil {
		return nil
	}
	return sink
}

// TestInput runs handler once against rawInput and prints the result to
// stdout, bypassing the control plane entirely (spec.md §6's --test_input
// path). It returns whether the run succeeded.
func TestInput(handler any, rawInput string, opts ...Option) (bool, error) {
	o := buildOptions(opts)
	identity := invoker.Identity{Version: Version}
	inv, err := invoker.New(handler, o.worker, identity)
	if err != nil {
		return false, fmt.Errorf("runpod: %w", err)
	}
	return localtest.Run(context.Background(), inv, rawInput, os.Stdout)
}

// ServeAPI starts a minimal net/http server exposing handler over a single
// POST /run endpoint: the request body is decoded as job input, the
// handler is invoked once synchronously, and the terminal result is
// written back as JSON. This is a thin stand-in for --rp_serve_api's local
// dev API server, which is explicitly out of core scope (spec.md §1) —
// real local development traffic should still go through TestInput or a
// bespoke harness; ServeAPI exists so the flag does something real instead
// of erroring out. Streaming handlers run to completion with fragments
// discarded; only the terminal result is returned.
func ServeAPI(handler any, opts ...Option) error {
	env := config.Load()
	log := rlog.New(env.DebugLevel)

	o := buildOptions(opts)
	identity := invoker.Identity{WorkerID: env.PodID, Hostname: env.PodHostname, Version: Version}
	inv, err := invoker.New(handler, o.worker, identity)
	if err != nil {
		return fmt.Errorf("runpod: %w", err)
	}

	addr := ":8000"
	if env.RealtimePort != "" {
		addr = ":" + env.RealtimePort
	}

	log.Info("starting local dev echo server; not the real local API server", "addr", addr)
	return http.ListenAndServe(addr, newAPIHandler(inv))
}

// newAPIHandler builds ServeAPI's single POST /run endpoint: decode the
// request body as job input, invoke inv once, write the terminal result
// back as JSON.
func newAPIHandler(inv *invoker.Invoker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		job := model.Job{ID: "local-serve-api", Input: json.RawMessage(body)}
		result := inv.Invoke(r.Context(), job, func(model.StreamFragment) {})

		w.Header().Set("Content-Type", "application/json")
		if result.IsError() {
			w.WriteHeader(http.StatusInternalServerError)
		}
		_ = json.NewEncoder(w).Encode(result)
	})
	return mux
}

func registryPath() string {
	if p := os.Getenv("RUNPOD_REGISTRY_PATH"); p != "" {
		return p
	}
	return "/tmp/runpod-worker-registry.json"
}

func defaultFitnessChecks(env config.Env) []fitness.Check {
	return []fitness.Check{
		{
			Name: "control-plane webhooks configured",
			Run: func(ctx context.Context) error {
				if env.GetJobURL == "" || env.PostOutputURL == "" {
					return fmt.Errorf("RUNPOD_WEBHOOK_GET_JOB and RUNPOD_WEBHOOK_POST_OUTPUT must be set")
				}
				return nil
			},
		},
	}
}

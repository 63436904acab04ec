// Package scaler implements C7 of spec.md §4.7: the JobScaler owns the
// worker's lifecycle state machine, the shared queue and budget, and
// coordinates the Fetcher, Runner and Heartbeat around resize and
// shutdown events. Grounded on sky93-taskflow's manager.go, which plays
// the same role there — start the worker pool, own its shutdown signal,
// wait for drains — generalized to a budget that can be resized live via
// a ConcurrencyModifier instead of sky93-taskflow's fixed pool size.
package scaler

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runpod/worker/internal/config"
	"github.com/runpod/worker/internal/fetcher"
	"github.com/runpod/worker/internal/fitness"
	"github.com/runpod/worker/internal/heartbeat"
	"github.com/runpod/worker/internal/model"
	"github.com/runpod/worker/internal/queue"
	"github.com/runpod/worker/internal/registry"
	"github.com/runpod/worker/internal/runner"
)

// drainTimeout bounds how long DRAINING waits for in-flight jobs before
// cancelling the runner's context: no further job is dispatched and the
// context handed to in-flight handlers is cancelled. The runner still
// waits for those handlers to return, so one that ignores its context
// keeps Run in DRAINING.
const drainTimeout = 5 * time.Minute

// State names the JobScaler's lifecycle position, spec.md §4.7's state
// machine: STARTING -> FITNESS_OK -> RUNNING <-> RESIZING -> DRAINING -> STOPPED.
type State int

const (
	StateStarting State = iota
	StateFitnessOK
	StateRunning
	StateResizing
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateFitnessOK:
		return "FITNESS_OK"
	case StateRunning:
		return "RUNNING"
	case StateResizing:
		return "RESIZING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Acquirer is the transport dependency the Fetcher needs.
type Acquirer interface {
	Acquire(ctx context.Context, batchSize int, jobInProgress bool) ([]model.Job, error)
}

// Pinger is the transport dependency the Heartbeat needs.
type Pinger interface {
	Ping(ctx context.Context, jobIDs []string, retry bool, interval time.Duration) error
}

// ResultSender is the transport dependency the Runner needs.
type ResultSender interface {
	PostResult(ctx context.Context, job model.Job, result model.Result) error
	PostStream(ctx context.Context, job model.Job, fragment model.StreamFragment)
}

// Invoker runs a single job.
type Invoker interface {
	Invoke(ctx context.Context, job model.Job, onFragment func(model.StreamFragment)) model.Result
	IsStream() bool
}

// History optionally archives terminal results.
type History interface {
	Record(ctx context.Context, workerID string, job model.Job, result model.Result) error
}

// Dependencies bundles the collaborators a JobScaler wires together. All
// fields but History are required.
type Dependencies struct {
	Registry  *registry.Registry
	Acquirer  Acquirer
	Pinger    Pinger
	Sender    ResultSender
	Invoker   Invoker
	History   History
	Checks    []fitness.Check
	WorkerID  string
	Log       *slog.Logger
}

// JobScaler is the top-level orchestrator: one per worker process.
type JobScaler struct {
	deps Dependencies
	cfg  config.WorkerConfig
	env  config.Env

	queue *queue.Queue

	budget      int64
	state       atomic.Value // State
	shutdown    atomic.Bool
	refreshWant atomic.Bool
	refresh     chan struct{}

	fetcher   *fetcher.Fetcher
	runner    *runner.Runner
	heartbeat *heartbeat.Heartbeat
}

// New constructs a JobScaler with an initial budget from cfg and a queue
// sized to match, per spec.md §3's "capacity equal to the current
// concurrency budget."
func New(deps Dependencies, cfg config.WorkerConfig, env config.Env) *JobScaler {
	js := &JobScaler{
		deps:    deps,
		cfg:     cfg,
		env:     env,
		queue:   queue.New(cfg.InitialConcurrency),
		budget:  int64(cfg.InitialConcurrency),
		refresh: make(chan struct{}),
	}
	js.state.Store(StateStarting)

	js.fetcher = fetcher.New(deps.Acquirer, js.queue, deps.Registry, js.Budget, js.Resize, deps.Log)
	js.runner = runner.New(js.queue, deps.Registry, deps.Invoker, deps.Sender, deps.History,
		deps.WorkerID, js.Budget, js.requestRefresh, deps.Log)
	js.heartbeat = heartbeat.New(deps.Registry, deps.Pinger, env.PingInterval, deps.Log)

	return js
}

// Budget returns the current concurrency budget.
func (js *JobScaler) Budget() int {
	return int(atomic.LoadInt64(&js.budget))
}

// State returns the current lifecycle state.
func (js *JobScaler) State() State {
	return js.state.Load().(State)
}

func (js *JobScaler) setState(s State) {
	js.state.Store(s)
	js.deps.Log.Info("job scaler state transition", "state", s.String())
}

func (js *JobScaler) requestRefresh() {
	if js.refreshWant.CompareAndSwap(false, true) {
		js.deps.Log.Info("handler requested worker refresh; shutting down after drain")
		js.shutdown.Store(true)
		close(js.refresh)
	}
}

func (js *JobScaler) shuttingDown() bool {
	return js.shutdown.Load()
}

// Run executes the JobScaler's full lifecycle: fitness checks, heartbeat,
// signal handling, and the fetch/run loops, until a shutdown signal or a
// handler-requested refresh arrives and every in-flight job has drained
// (spec.md §4.7's startup sequence and DRAINING state). The registry needs
// no load step: it is read from disk on every access.
func (js *JobScaler) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fitness.RunAll(ctx, js.deps.Checks, js.env.IsLocalTest(), js.deps.Log); err != nil {
		return err
	}
	js.setState(StateFitnessOK)

	hbCtx, cancelHB := context.WithCancel(context.Background())
	defer cancelHB()
	if !js.env.IsLocalTest() {
		go js.heartbeat.Run(hbCtx)
	}

	js.setState(StateRunning)

	// The Runner gets its own cancellation, independent of the signal
	// context: a shutdown signal must let in-flight jobs drain rather
	// than abort them (spec.md §4.7's DRAINING state). runnerCtx is only
	// cancelled by drainTimeout below, as a last-resort force stop.
	runnerCtx, cancelRunner := context.WithCancel(context.Background())
	defer cancelRunner()

	var g errgroup.Group
	g.Go(func() error {
		js.fetcher.Run(ctx, js.shutdownOrCancelled(ctx))
		return nil
	})
	g.Go(func() error {
		js.runner.Run(runnerCtx, js.shutdownOrCancelled(ctx))
		return nil
	})

	select {
	case <-ctx.Done():
		js.deps.Log.Info("shutdown signal received, draining")
	case <-js.refresh:
		js.deps.Log.Info("refresh requested, draining")
	}
	js.setState(StateDraining)
	js.shutdown.Store(true)

	drained := make(chan struct{})
	go func() {
		g.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		js.deps.Log.Warn("drain timeout exceeded, forcing stop")
		cancelRunner()
		<-drained
	}

	js.setState(StateStopped)
	return nil
}

// shutdownOrCancelled builds the predicate Fetcher/Runner poll to decide
// whether to stop accepting new work: either an explicit shutdown request
// (signal or handler refresh) or ctx cancellation.
func (js *JobScaler) shutdownOrCancelled(ctx context.Context) func() bool {
	return func() bool {
		return js.shuttingDown() || ctx.Err() != nil
	}
}

// Resize implements the JobScaler resize protocol of spec.md §4.7:
// evaluate the ConcurrencyModifier, drain the queue down to empty (new
// acquisitions are paused because the Fetcher calls Resize synchronously
// at the top of its loop and does not poll until it returns), then swap
// in a freshly sized queue. Safe to call from any goroutine; not
// safe to call concurrently with itself.
func (js *JobScaler) Resize(ctx context.Context) {
	current := js.Budget()
	next := js.cfg.ConcurrencyModifier(current)
	if next == current {
		return
	}

	js.setState(StateResizing)
	defer js.setState(StateRunning)

	for js.queue.Len() > 0 && ctx.Err() == nil {
		time.Sleep(50 * time.Millisecond)
	}

	atomic.StoreInt64(&js.budget, int64(next))
	js.queue.Resize(next)
	js.deps.Log.Info("concurrency resized", "previous", current, "next", next)
}

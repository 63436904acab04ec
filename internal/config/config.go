// Package config reads the worker's environment into typed structs, the
// way sky93-taskflow's Config groups the settings a queue system needs,
// generalized to the RUNPOD_* environment variables of spec.md §6.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Env holds the control-plane wiring read from the environment
// (spec.md §6). Presence of GetJobURL switches the worker into serving
// mode; its absence is IsLocalTest.
type Env struct {
	GetJobURL     string
	PostOutputURL string
	PostStreamURL string
	PingURL       string
	PingInterval  time.Duration

	PodID       string
	PodHostname string

	DebugLevel string

	// RealtimePort selects the listen address for ServeAPI's minimal
	// local-dev echo server (spec.md §1 scopes a full local API server
	// out; this is a thin stand-in for --rp_serve_api). Defaults to 8000.
	// RealtimeConcurrency is recorded but unused: the echo server invokes
	// the handler synchronously per request, it has no worker pool to size.
	RealtimePort        string
	RealtimeConcurrency string
}

// IsLocalTest reports whether the worker was launched without a control
// plane, per worker_state.py's IS_LOCAL_TEST flag.
func (e Env) IsLocalTest() bool {
	return e.GetJobURL == ""
}

// Load reads Env from the process environment.
func Load() Env {
	podID := os.Getenv("RUNPOD_POD_ID")
	if podID == "" {
		podID = uuid.NewString()
	}

	interval := 10 * time.Second
	if raw := os.Getenv("RUNPOD_PING_INTERVAL"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}

	return Env{
		GetJobURL:           os.Getenv("RUNPOD_WEBHOOK_GET_JOB"),
		PostOutputURL:       os.Getenv("RUNPOD_WEBHOOK_POST_OUTPUT"),
		PostStreamURL:       os.Getenv("RUNPOD_WEBHOOK_POST_STREAM"),
		PingURL:             os.Getenv("RUNPOD_WEBHOOK_PING"),
		PingInterval:        interval,
		PodID:               podID,
		PodHostname:         os.Getenv("RUNPOD_POD_HOSTNAME"),
		DebugLevel:          envOr("RUNPOD_DEBUG_LEVEL", "INFO"),
		RealtimePort:        os.Getenv("RUNPOD_REALTIME_PORT"),
		RealtimeConcurrency: os.Getenv("RUNPOD_REALTIME_CONCURRENCY"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ConcurrencyModifier maps the current budget to the next one. The default
// is the identity function (spec.md §9).
type ConcurrencyModifier func(current int) int

func IdentityModifier(current int) int { return current }

// WorkerConfig holds the handler-facing knobs a caller supplies to the
// JobScaler, in the spirit of DESIGN NOTES §9's "Configuration object with
// many optional fields": a struct with defaulted fields rather than a
// loosely-typed kwargs bag.
type WorkerConfig struct {
	// ConcurrencyModifier defaults to IdentityModifier when nil.
	ConcurrencyModifier ConcurrencyModifier

	// RefreshWorker instructs the worker to exit after the current job
	// even if the handler itself never asked for it (Open Question,
	// resolved: either source is sufficient — SPEC_FULL.md §5.2a).
	RefreshWorker bool

	// ReturnAggregateStream makes a streaming handler's terminal result
	// carry a list of all yielded fragment outputs, in order, instead of
	// an empty output.
	ReturnAggregateStream bool

	// RPDebugger enables the rp_debugger timing envelope on outputs.
	RPDebugger bool

	// MaxPayloadSize bounds a terminal output's encoded size before it is
	// replaced with a UserError (Open Question, resolved: configurable,
	// default large but finite).
	MaxPayloadSize int

	// InitialConcurrency seeds the JobScaler's starting budget.
	InitialConcurrency int
}

const defaultMaxPayloadSize = 20 * 1024 * 1024 // 20 MiB

// WithDefaults fills in the zero-value fields of a WorkerConfig.
func WithDefaults(cfg WorkerConfig) WorkerConfig {
	if cfg.ConcurrencyModifier == nil {
		cfg.ConcurrencyModifier = IdentityModifier
	}
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = defaultMaxPayloadSize
	}
	if cfg.InitialConcurrency <= 0 {
		cfg.InitialConcurrency = 1
	}
	return cfg
}

// SlogLevel exposes the parsed slog level for callers that don't want to
// import rlog directly (kept tiny to avoid an import cycle).
func (e Env) SlogLevel() slog.Level {
	switch e.DebugLevel {
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

// Package debugger implements the rp_debugger timing envelope of
// SPEC_FULL.md §5.2, grounded on the original source's rp_debugger.py:
// when enabled, a terminal result's output gains an "rp_debugger" object
// carrying a ready_delay_ms field measured from a process-wide reference
// start time.
package debugger

import (
	"sync"
	"time"
)

// referenceStart is recorded once, at process start, mirroring
// worker_state.py's REF_COUNT_ZERO.
var (
	referenceStart     time.Time
	referenceStartOnce sync.Once
)

// MarkReferenceStart records the process's reference start time. Safe to
// call multiple times; only the first call takes effect.
func MarkReferenceStart() {
	referenceStartOnce.Do(func() {
		referenceStart = time.Now()
	})
}

// Envelope is the rp_debugger object attached to a job's output.
type Envelope struct {
	ReadyDelayMS int64 `json:"ready_delay_ms"`
}

// Build computes the ready-delay envelope relative to the reference start.
func Build() Envelope {
	MarkReferenceStart()
	return Envelope{ReadyDelayMS: time.Since(referenceStart).Milliseconds()}
}

// Attach adds the debugger envelope to a map-shaped output in place, the
// way rp_job.py sets job_result["output"]["rp_debugger"].
func Attach(output map[string]any) map[string]any {
	if output == nil {
		output = map[string]any{}
	}
	output["rp_debugger"] = Build()
	return output
}

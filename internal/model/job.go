// Package model holds the data types shared across the worker: Job,
// its terminal result, streamed partials, and progress updates. It plays
// the role sky93-taskflow's models.go plays for the DB-backed job queue,
// generalized to the control-plane wire format of spec.md §3/§6.
package model

import "encoding/json"

// ProgressReporter lets a handler push a best-effort, out-of-band progress
// update without touching the terminal result path (SPEC_FULL.md §5.1).
// *progress.Publisher satisfies this by structural typing; model does not
// import package progress to avoid a cycle (progress already imports model
// for ProgressUpdate).
type ProgressReporter interface {
	Post(jobID string, payload any)
}

// Job is an opaque unit of work acquired from the control plane. Two Jobs
// are equal iff their identifiers match (spec.md §3).
type Job struct {
	ID      string          `json:"id"`
	Input   json.RawMessage `json:"input"`
	Webhook string          `json:"webhook,omitempty"`

	// Progress is populated by the Invoker before a handler runs, so the
	// handler can call job.Progress.Post(job.ID, payload) mid-run. Never
	// nil in a handler-visible Job (Invoker defaults to a no-op).
	Progress ProgressReporter `json:"-"`
}

// Equal reports whether two Jobs share an identifier.
func (j Job) Equal(other Job) bool {
	return j.ID == other.ID
}

// ParseAcquireBody decodes a job-take response body, which may be a single
// JSON object or a JSON array of objects.
func ParseAcquireBody(body []byte) ([]Job, error) {
	trimmed := trimLeadingSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var jobs []Job
		if err := json.Unmarshal(body, &jobs); err != nil {
			return nil, err
		}
		return jobs, nil
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, errMissingFields
	}
	return []Job{job}, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}

var errMissingFields = jobFieldError("job has missing field(s): id or input")

type jobFieldError string

func (e jobFieldError) Error() string { return string(e) }

// RuntimeErrorEnvelope is the JSON structure posted inside a RuntimeError's
// "error" field, matching rp_job.py's error_info dict (spec.md §6/§8).
type RuntimeErrorEnvelope struct {
	ErrorType      string `json:"error_type"`
	ErrorMessage   string `json:"error_message"`
	ErrorTraceback string `json:"error_traceback"`
	Hostname       string `json:"hostname"`
	WorkerID       string `json:"worker_id"`
	RunpodVersion  string `json:"runpod_version"`
}

// Result is the terminal outcome of a job: exactly one of Success,
// UserError, or RuntimeError, encoded per spec.md §6's wire format.
type Result struct {
	Output        any    `json:"output,omitempty"`
	Error         string `json:"error,omitempty"`
	RefreshWorker bool   `json:"-"`
}

// Success builds a terminal Success result.
func Success(output any) Result {
	return Result{Output: output}
}

// UserErrorResult builds a terminal UserError result.
func UserErrorResult(message string) Result {
	return Result{Error: message}
}

// RuntimeErrorResult builds a terminal RuntimeError result, JSON-encoding
// the envelope into the Error field the way rp_job.py does
// (`run_result = {"error": json.dumps(error_info)}`).
func RuntimeErrorResult(envelope RuntimeErrorEnvelope) Result {
	raw, err := json.Marshal(envelope)
	if err != nil {
		// Marshaling a plain struct of strings cannot fail; fall back to
		// the message alone if it somehow does.
		return Result{Error: envelope.ErrorMessage}
	}
	return Result{Error: string(raw)}
}

// IsError reports whether the result carries a terminal error (either
// UserError or RuntimeError; both are represented via the Error field).
func (r Result) IsError() bool {
	return r.Error != ""
}

// StreamFragment is a non-terminal partial emitted by a streaming handler.
type StreamFragment struct {
	Output any `json:"output"`
}

// ProgressUpdate is a best-effort, out-of-band message emitted from within
// a handler, unrelated to the terminal result path (spec.md §3, SPEC_FULL §5.1).
type ProgressUpdate struct {
	JobID   string `json:"-"`
	Payload any    `json:"payload"`
}

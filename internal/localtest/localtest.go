// Package localtest implements the --test_input single-shot invocation
// path of spec.md §4 / SPEC_FULL.md: run one synthetic job through the
// handler with no control plane involved, print the result, and exit —
// grounded on sky93-taskflow's test/main.go, which runs a single job
// through the pipeline outside of the queue for local debugging.
package localtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/runpod/worker/internal/model"
)

// Invoker runs a single job to completion.
type Invoker interface {
	Invoke(ctx context.Context, job model.Job, onFragment func(model.StreamFragment)) model.Result
}

// Run decodes rawInput as a job's input payload, invokes the handler once,
// writes the JSON-encoded result to out, and reports whether the run
// succeeded (spec.md §6: exit 0 on success, exit 1 on handler error).
func Run(ctx context.Context, inv Invoker, rawInput string, out io.Writer) (bool, error) {
	input, err := normalizeInput(rawInput)
	if err != nil {
		return false, fmt.Errorf("parsing test_input: %w", err)
	}

	job := model.Job{ID: "local-test", Input: input}

	var fragments []model.StreamFragment
	result := inv.Invoke(ctx, job, func(f model.StreamFragment) {
		fragments = append(fragments, f)
	})

	encoded, err := json.MarshalIndent(struct {
		Output        any                    `json:"output,omitempty"`
		Error         string                 `json:"error,omitempty"`
		StreamOutputs []model.StreamFragment `json:"stream_outputs,omitempty"`
	}{Output: result.Output, Error: result.Error, StreamOutputs: fragments}, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encoding local-test result: %w", err)
	}

	fmt.Fprintln(out, string(encoded))
	return !result.IsError(), nil
}

// normalizeInput accepts either a bare JSON value or a {"input": ...}
// envelope, matching how test_input is commonly supplied on the command
// line, and always returns the inner value as raw JSON for model.Job.Input.
func normalizeInput(raw string) (json.RawMessage, error) {
	if raw == "" {
		return json.RawMessage("null"), nil
	}

	var envelope struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil && envelope.Input != nil {
		return envelope.Input, nil
	}

	var probe json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, err
	}
	return probe, nil
}

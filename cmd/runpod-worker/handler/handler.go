// Package handler is a sample job handler for the reference runpod-worker
// binary, grounded on sky93-taskflow's test/jobs/addCustomerJob.go: decode
// a typed payload, do the work, return a typed output. Real deployments
// replace this package with their own handler and call runpod.Start
// directly from their own main.
package handler

import (
	"encoding/json"
	"fmt"

	"github.com/runpod/worker/internal/model"
)

// Input is the payload this sample handler expects.
type Input struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Handle implements runpod/internal/invoker.BlockingHandler: it greets
// Name Count times, returning an error result for a missing name the
// same way rp_handler.py examples validate required fields.
func Handle(job model.Job) (any, error) {
	var in Input
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return map[string]any{"error": fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if in.Name == "" {
		return map[string]any{"error": "input.name is required"}, nil
	}
	if in.Count <= 0 {
		in.Count = 1
	}

	greetings := make([]string, in.Count)
	for i := range greetings {
		greetings[i] = fmt.Sprintf("Hello, %s!", in.Name)
	}

	return map[string]any{"greetings": greetings}, nil
}

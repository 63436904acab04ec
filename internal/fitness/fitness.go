// Package fitness implements the startup fitness-check registry referenced
// by spec.md §4.7 and grounded on the original source's rp_fitness.py /
// rp_system_fitness.py / rp_gpu_fitness.py modules: an ordered list of
// preconditions the worker must satisfy before it starts serving jobs.
package fitness

import (
	"context"
	"log/slog"

	"github.com/runpod/worker/internal/rerror"
)

// Check is a single named startup precondition.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunAll executes checks in registration order; the first failure is
// fatal (spec.md §4.7, §7). Checks are skipped entirely when localTest is
// true, per spec.md §4.7 "Fitness checks are skipped in local-test mode."
func RunAll(ctx context.Context, checks []Check, localTest bool, log *slog.Logger) error {
	if localTest {
		log.InfoContext(ctx, "fitness checks skipped: local-test mode")
		return nil
	}

	for _, check := range checks {
		log.DebugContext(ctx, "running fitness check", "name", check.Name)
		if err := check.Run(ctx); err != nil {
			return &rerror.FitnessCheckError{Name: check.Name, Err: err}
		}
	}
	return nil
}

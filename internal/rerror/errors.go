// Package rerror enumerates the worker's error taxonomy (spec.md §7) as
// sentinel values / wrapped types so callers can errors.Is/errors.As,
// mirroring sky93-taskflow's use of errors.Is(err, sql.ErrNoRows) in
// worker.go to distinguish "no work" from a real failure.
package rerror

import (
	"errors"
	"fmt"
)

// Sentinels for conditions that are not failures in themselves.
var (
	// ErrNoJobs signals HTTP 204/400 on acquisition: treated as empty.
	ErrNoJobs = errors.New("no jobs available")

	// ErrRateLimited signals HTTP 429 on acquisition.
	ErrRateLimited = errors.New("rate limited")

	// ErrShutdown signals a cooperative, signal-initiated shutdown; never
	// surfaced as a failure.
	ErrShutdown = errors.New("shutdown requested")
)

// TransientTransportError wraps a recoverable HTTP/network failure that a
// caller should log and retry per its component's retry policy.
type TransientTransportError struct {
	Op  string
	Err error
}

func (e *TransientTransportError) Error() string {
	return fmt.Sprintf("transient transport error during %s: %v", e.Op, e.Err)
}

func (e *TransientTransportError) Unwrap() error { return e.Err }

// RegistryIOError wraps a persistence failure in the progress registry.
// Per spec.md §4.1, the in-memory set is not updated until persistence
// succeeds, so this is the one error class that may halt progress on a
// given job.
type RegistryIOError struct {
	Op  string
	Err error
}

func (e *RegistryIOError) Error() string {
	return fmt.Sprintf("registry io error during %s: %v", e.Op, e.Err)
}

func (e *RegistryIOError) Unwrap() error { return e.Err }

// FitnessCheckError wraps a failed startup fitness check; fatal by
// definition (spec.md §7).
type FitnessCheckError struct {
	Name string
	Err  error
}

func (e *FitnessCheckError) Error() string {
	return fmt.Sprintf("fitness check %q failed: %v", e.Name, e.Err)
}

func (e *FitnessCheckError) Unwrap() error { return e.Err }

// ResultDeliveryError wraps a result POST failure that survived all
// retries. Policy: log and remove from the registry anyway, per spec.md §7.
type ResultDeliveryError struct {
	JobID string
	Err   error
}

func (e *ResultDeliveryError) Error() string {
	return fmt.Sprintf("result delivery failed for job %s: %v", e.JobID, e.Err)
}

func (e *ResultDeliveryError) Unwrap() error { return e.Err }

// Package registry implements the progress registry (C1 of spec.md §4.1):
// a durable set of in-progress job identifiers, guarded by an OS-level
// advisory file lock so that this worker's own goroutines and a sibling
// heartbeat process never observe a torn read or a lost write.
//
// The locking approach is grounded on DESIGN NOTES §9's "Singleton
// registry with global process state" guidance: no package-level mutable
// state, a value type constructed explicitly and passed by reference to
// every caller (Fetcher, Runner, Heartbeat). The lock itself uses
// golang.org/x/sys/unix.Flock, the same syscall family CZERTAINLY-Seeker's
// scanning subprocesses rely on indirectly through its container tooling.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/runpod/worker/internal/rerror"
)

// Registry tracks the set of job identifiers this worker currently owns.
// The zero value is not usable; construct with Open.
type Registry struct {
	dataPath string
	lockPath string
}

// Open prepares a Registry backed by dataPath, with a companion lock file
// distinct from the data file per spec.md §4.1. It reads nothing up front:
// every operation reads the data file afresh under the lock (state lives
// on disk, readable by a sibling process).
func Open(dataPath string) *Registry {
	return &Registry{
		dataPath: dataPath,
		lockPath: dataPath + ".lock",
	}
}

// diskState is the self-describing serialization of the in-memory set:
// a JSON object whose "jobs" field is an array of job identifiers. Readers must tolerate an absent or
// empty file (treated as empty set), per spec.md §6.
type diskState struct {
	Jobs []string `json:"jobs"`
}

func (r *Registry) withLock(fn func() error) error {
	lockFile, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return &rerror.RegistryIOError{Op: "open lock file", Err: err}
	}
	defer lockFile.Close()

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err != nil {
		return &rerror.RegistryIOError{Op: "acquire lock", Err: err}
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	return fn()
}

func (r *Registry) read() (diskState, error) {
	raw, err := os.ReadFile(r.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return diskState{}, nil
		}
		return diskState{}, &rerror.RegistryIOError{Op: "read", Err: err}
	}
	if len(raw) == 0 {
		return diskState{}, nil
	}
	var state diskState
	if err := json.Unmarshal(raw, &state); err != nil {
		return diskState{}, &rerror.RegistryIOError{Op: "decode", Err: err}
	}
	return state, nil
}

// write rewrites the entire data file atomically: write to a temp file in
// the same directory, then rename over the original, so readers never
// observe a torn write (spec.md §4.1 I2).
func (r *Registry) write(state diskState) error {
	sort.Strings(state.Jobs)
	raw, err := json.Marshal(state)
	if err != nil {
		return &rerror.RegistryIOError{Op: "encode", Err: err}
	}

	dir := filepath.Dir(r.dataPath)
	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return &rerror.RegistryIOError{Op: "create temp file", Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &rerror.RegistryIOError{Op: "write temp file", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &rerror.RegistryIOError{Op: "sync temp file", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &rerror.RegistryIOError{Op: "close temp file", Err: err}
	}
	if err := os.Rename(tmpPath, r.dataPath); err != nil {
		os.Remove(tmpPath)
		return &rerror.RegistryIOError{Op: "rename temp file", Err: err}
	}
	return nil
}

// Add records id as in-progress. Per spec.md §4.1, the in-memory effect
// (the durable file) is only updated once persistence succeeds.
func (r *Registry) Add(id string) error {
	return r.withLock(func() error {
		state, err := r.read()
		if err != nil {
			return err
		}
		for _, existing := range state.Jobs {
			if existing == id {
				return nil
			}
		}
		state.Jobs = append(state.Jobs, id)
		return r.write(state)
	})
}

// Remove drops id from the in-progress set. Idempotent: removing an id
// that is absent is not an error.
func (r *Registry) Remove(id string) error {
	return r.withLock(func() error {
		state, err := r.read()
		if err != nil {
			return err
		}
		out := state.Jobs[:0]
		for _, existing := range state.Jobs {
			if existing != id {
				out = append(out, existing)
			}
		}
		state.Jobs = out
		return r.write(state)
	})
}

// Contains reports whether id is already tracked as in-progress, so a
// caller can drop a duplicate acquisition before it ever reaches the queue
// (spec.md §8 P6, "Idempotent identity": a terminal result is posted at
// most once per job id).
func (r *Registry) Contains(id string) (bool, error) {
	var found bool
	err := r.withLock(func() error {
		state, err := r.read()
		if err != nil {
			return err
		}
		for _, existing := range state.Jobs {
			if existing == id {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

// Snapshot returns a consistent point-in-time view of the in-progress set.
func (r *Registry) Snapshot() ([]string, error) {
	var jobs []string
	err := r.withLock(func() error {
		state, err := r.read()
		if err != nil {
			return err
		}
		jobs = append([]string(nil), state.Jobs...)
		return nil
	})
	return jobs, err
}

// Count returns the number of in-progress jobs.
func (r *Registry) Count() (int, error) {
	jobs, err := r.Snapshot()
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

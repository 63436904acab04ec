// Package history implements the optional job-history sink of
// SPEC_FULL.md §5.6: an operator-facing archive of terminal results,
// repurposing sky93-taskflow's MySQL-backed jobs table. Unlike the
// teacher, this is not the work queue itself (that role belongs to the
// HTTP control plane, per spec.md's core scope) — it is a
// best-effort, optional record written after a result POST succeeds (a
// result whose delivery failed is not recorded), so
// operators who want a queryable history of what a worker processed have
// one without the registry file needing to grow beyond a set of ids.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/runpod/worker/internal/model"
)

// Sink archives terminal results to MySQL. A nil *Sink is valid and turns
// every operation into a no-op, so wiring history is opt-in.
type Sink struct {
	db     *sql.DB
	dbName string
}

// Open connects to dsn and returns a Sink backed by dbName.jobs. Callers
// should call CreateTable once during startup fitness checks.
func Open(dsn, dbName string) (*Sink, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging history database: %w", err)
	}
	return &Sink{db: db, dbName: dbName}, nil
}

// CreateTable ensures the jobs table exists, mirroring the shape
// sky93-taskflow's queries assume (id, status, output, error, timestamps).
func (s *Sink) CreateTable(ctx context.Context) error {
	if s == nil {
		return nil
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.jobs (
		id VARCHAR(191) PRIMARY KEY,
		status VARCHAR(32) NOT NULL,
		output JSON NULL,
		error_output TEXT NULL,
		worker_id VARCHAR(191) NOT NULL,
		created_at DATETIME(6) NOT NULL
	)`, s.dbName)
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Record archives a job's terminal result. Errors are the caller's to log
// and swallow — history is best-effort and must never hold up C6.
func (s *Sink) Record(ctx context.Context, workerID string, job model.Job, result model.Result) error {
	if s == nil {
		return nil
	}

	status := "COMPLETED"
	var outputJSON []byte
	var errText *string

	if result.IsError() {
		status = "FAILED"
		errText = &result.Error
	} else if result.Output != nil {
		raw, err := json.Marshal(result.Output)
		if err != nil {
			return fmt.Errorf("encoding output for history: %w", err)
		}
		outputJSON = raw
	}

	query := fmt.Sprintf(`INSERT INTO %s.jobs (id, status, output, error_output, worker_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status), output = VALUES(output), error_output = VALUES(error_output)`,
		s.dbName)
	_, err := s.db.ExecContext(ctx, query, job.ID, status, nullIfEmpty(outputJSON), errText, workerID, time.Now().UTC())
	return err
}

func nullIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

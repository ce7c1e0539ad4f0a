// Package repository implements core.StateStore over database/sql,
// supporting both PostgreSQL (via pgx) and SQLite (via modernc.org/sqlite)
// through the same hand-written, parameterized queries. It replaces the
// teacher's sqlc-generated layer: sqlc code generation cannot be re-run
// here, so the job/result/dead-letter rows (a JSON blob column plus an
// indexed status/created_at column) are read and written directly.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rezkam/jobengine/internal/core"
	"github.com/rezkam/jobengine/internal/domain"
)

// Store implements core.StateStore using database/sql.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-migrated *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection, for callers that need direct
// access (health checks, transactions spanning other stores).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveJob upserts the job row, keyed by id.
func (s *Store) SaveJob(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET status = $2, data = $3, updated_at = $4
	`, job.ID, string(job.Status), string(data), job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the persisted job, or domain.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = $1`, jobID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", jobID, err)
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job %s: %w", jobID, err)
	}
	return &job, nil
}

// HasJob reports whether a job row exists for jobID.
func (s *Store) HasJob(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking job %s existence: %w", jobID, err)
	}
	return exists, nil
}

// SaveResult inserts the result row. Results are write-once: a duplicate
// insert returns domain.ErrResultExists rather than overwriting.
func (s *Store) SaveResult(ctx context.Context, result *domain.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (job_id, status, data) VALUES ($1, $2, $3)
	`, result.JobID, string(result.Status), string(data))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrResultExists
		}
		return fmt.Errorf("saving result for job %s: %w", result.JobID, err)
	}
	return nil
}

// GetResult returns the persisted result, or domain.ErrNotFound.
func (s *Store) GetResult(ctx context.Context, jobID string) (*domain.Result, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM results WHERE job_id = $1`, jobID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting result for job %s: %w", jobID, err)
	}
	var result domain.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling result for job %s: %w", jobID, err)
	}
	return &result, nil
}

// ListByStatus returns every job currently in status.
func (s *Store) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM jobs WHERE status = $1`, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing jobs by status %s: %w", status, err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("unmarshaling job row: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// SaveDeadLetter inserts a dead-letter row.
func (s *Store) SaveDeadLetter(ctx context.Context, entry *core.DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling dead letter entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, job_id, class, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET job_id = $2, class = $3, data = $4, created_at = $5
	`, entry.ID, entry.JobID, entry.Class, string(data), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving dead letter entry %s: %w", entry.ID, err)
	}
	return nil
}

// ListDeadLetters returns up to limit dead-letter entries (0 means
// unlimited), most recent first.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]*core.DeadLetterEntry, error) {
	query := `SELECT data FROM dead_letters ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*core.DeadLetterEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning dead letter row: %w", err)
		}
		var entry core.DeadLetterEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("unmarshaling dead letter row: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// GetDeadLetter returns a single dead-letter entry, or domain.ErrNotFound.
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterEntry, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM dead_letters WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting dead letter %s: %w", id, err)
	}
	var entry core.DeadLetterEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("unmarshaling dead letter %s: %w", id, err)
	}
	return &entry, nil
}

// DeleteDeadLetter removes a dead-letter row.
func (s *Store) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting dead letter %s: %w", id, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a primary-key/unique
// constraint violation, across both the pgx and SQLite drivers' distinct
// error text shapes.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // SQLite
		strings.Contains(msg, "duplicate key value violates unique constraint") // Postgres
}

var _ core.StateStore = (*Store)(nil)

// Package core defines the ports the engine depends on: durable state
// storage and pipeline lookup. Concrete adapters live under
// internal/storage and internal/pipeline.
package core

import (
	"context"

	"github.com/rezkam/jobengine/internal/domain"
)

// StateStore is durable, process-private, keyed storage for jobs and
// results. Logical keys are job:<job_id> and result:<job_id>; writes must
// be flushed before the corresponding in-memory transition is considered
// committed, and concurrent readers must see either the pre- or post-write
// value, never a partial one.
type StateStore interface {
	// SaveJob persists job, creating or overwriting the job:<job_id> record.
	SaveJob(ctx context.Context, job *domain.Job) error

	// GetJob returns the persisted job, or domain.ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// HasJob reports whether a job record exists, without deserializing it;
	// used by Submit to reject duplicate job_ids before any other work.
	HasJob(ctx context.Context, jobID string) (bool, error)

	// SaveResult persists result under result:<job_id>. Results are
	// write-once: a second call for the same job_id returns
	// domain.ErrResultExists and leaves the stored value untouched.
	SaveResult(ctx context.Context, result *domain.Result) error

	// GetResult returns the persisted result, or domain.ErrNotFound.
	GetResult(ctx context.Context, jobID string) (*domain.Result, error)

	// ListByStatus returns all persisted jobs currently in status. Used by
	// a host process that wants to re-enqueue PENDING/RUNNING jobs after a
	// restart; the engine itself never calls this automatically (§9 open
	// question: auto-recovery is neither required nor forbidden).
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Job, error)

	// SaveDeadLetter persists a dead-letter entry for a job finalized as
	// FAILED, by retry exhaustion or fatal classification.
	SaveDeadLetter(ctx context.Context, entry *DeadLetterEntry) error

	// ListDeadLetters returns dead-letter entries, most recent first.
	ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetterEntry, error)

	// GetDeadLetter returns a single dead-letter entry, or domain.ErrNotFound.
	GetDeadLetter(ctx context.Context, id string) (*DeadLetterEntry, error)

	// DeleteDeadLetter removes a dead-letter entry (used after retry or
	// discard is actioned).
	DeleteDeadLetter(ctx context.Context, id string) error

	// Close releases any resources held by the store (connections, file
	// handles). It is registered with the shutdown coordinator.
	Close() error
}

// DeadLetterEntry records a job that was finalized as FAILED, for operator
// review (§12.1). It is additive bookkeeping: it never participates in the
// job state machine.
type DeadLetterEntry struct {
	ID        string
	JobID     string
	Class     string // "retry_exhausted" or "fatal"
	Error     string
	Job       *domain.Job
	CreatedAt int64 // unix nanos; avoids a second time import at call sites
}

// Pipeline is the minimal contract the engine needs from a resolved
// pipeline: run it against a payload, returning an output or an error. The
// pipeline/registry package implements the full staged-sequence machinery
// described by the stage abstraction; Pipeline is the narrow interface the
// engine actually consumes.
type Pipeline interface {
	Run(ctx context.Context, payload map[string]any) (any, error)
}

// PipelineFactory builds a fresh Pipeline instance per job, so stages may
// hold per-run state without cross-job interference.
type PipelineFactory func() Pipeline

// PipelineRegistry is a process-wide map from a payload's "type" string to
// a pipeline factory. Lookup is O(1); a missing key is a fatal failure
// classification (§4.5, §6).
type PipelineRegistry interface {
	Register(pipelineType string, factory PipelineFactory)
	Resolve(pipelineType string) (PipelineFactory, bool)
}

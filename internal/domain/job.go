// Package domain holds the job execution engine's core entities: Job,
// Result, and the state machine governing transitions between them.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusRetrying  Status = "RETRYING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Mode selects the execution backend a job is routed to.
type Mode string

const (
	ModeThread  Mode = "thread"
	ModeProcess Mode = "process"
	ModeAsync   Mode = "async"
)

// ErrValidation indicates a job or result failed construction-time validation.
var ErrValidation = errors.New("validation error")

// Job is a unit of work with identity, priority, payload, execution mode,
// retry budget, and a state.
type Job struct {
	ID         string
	Priority   int
	Mode       Mode
	MaxRetries int
	Payload    map[string]any

	Status    Status
	Attempts  int
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time

	// EnqueuedAt is set (or refreshed) each time the job enters the
	// scheduler, used to compute the aging component of its score.
	EnqueuedAt time.Time

	// CancelRequested records a best-effort cancellation request made while the
	// job was RUNNING; execution is allowed to finish naturally but the
	// result is discarded in favor of a CANCELLED terminal transition.
	CancelRequested bool

	// LeaseExpiresAt is set when a job is dispatched to the isolated
	// (process) backend: if the subprocess dies without reporting an
	// outcome, a reclaim sweep treats the job as a lost execution context
	// once this deadline passes, rather than leaving it RUNNING forever.
	// Zero for jobs never dispatched to that backend.
	LeaseExpiresAt time.Time
}

// PipelineType returns the payload's "type" field, which the pipeline
// registry uses to resolve a pipeline factory.
func (j *Job) PipelineType() (string, error) {
	if j.Payload == nil {
		return "", fmt.Errorf("%w: payload is nil", ErrValidation)
	}
	raw, ok := j.Payload["type"]
	if !ok {
		return "", fmt.Errorf("%w: payload missing \"type\" field", ErrValidation)
	}
	t, ok := raw.(string)
	if !ok || t == "" {
		return "", fmt.Errorf("%w: payload \"type\" must be a non-empty string", ErrValidation)
	}
	return t, nil
}

// Validate checks the invariants a Job must satisfy at submission time,
// before any state transition or persistence is attempted.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job_id must be non-empty", ErrValidation)
	}
	if j.MaxRetries <= 0 {
		return fmt.Errorf("%w: max_retries must be strictly positive", ErrValidation)
	}
	switch j.Mode {
	case ModeThread, ModeProcess, ModeAsync:
	default:
		return fmt.Errorf("%w: unknown execution mode %q", ErrValidation, j.Mode)
	}
	if _, err := j.PipelineType(); err != nil {
		return err
	}
	return nil
}

// NewJob constructs a Job in the CREATED state with timestamps stamped at
// the given now. It does not validate; call Validate before submission.
func NewJob(id string, priority int, mode Mode, maxRetries int, payload map[string]any, now time.Time) *Job {
	return &Job{
		ID:         id,
		Priority:   priority,
		Mode:       mode,
		MaxRetries: maxRetries,
		Payload:    payload,
		Status:     StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a shallow copy of the job, safe to mutate independently of
// the original (the Payload map itself is shared, as payloads are treated
// as immutable once submitted).
func (j *Job) Clone() *Job {
	cp := *j
	return &cp
}

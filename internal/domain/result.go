package domain

import (
	"fmt"
	"time"
)

// Result is the terminal record of a job's execution, immutable once
// written. Exactly one of Output / Error is populated, matching Status.
type Result struct {
	JobID     string
	Status    Status // StatusCompleted or StatusFailed
	Output    any
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// NewSuccessResult builds a COMPLETED result.
func NewSuccessResult(jobID string, output any, startedAt, endedAt time.Time) (*Result, error) {
	r := &Result{
		JobID:     jobID,
		Status:    StatusCompleted,
		Output:    output,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewFailureResult builds a FAILED result carrying the terminal error text.
func NewFailureResult(jobID, errMsg string, startedAt, endedAt time.Time) (*Result, error) {
	r := &Result{
		JobID:     jobID,
		Status:    StatusFailed,
		Error:     errMsg,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate enforces the Result invariants from the data model: a terminal
// status, output xor error, and a non-decreasing timestamp pair.
func (r *Result) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("%w: result job_id must be non-empty", ErrValidation)
	}
	switch r.Status {
	case StatusCompleted:
		if r.Error != "" {
			return fmt.Errorf("%w: completed result must not carry an error", ErrValidation)
		}
		if r.Output == nil {
			return fmt.Errorf("%w: completed result must carry a non-empty output", ErrValidation)
		}
	case StatusFailed:
		if r.Error == "" {
			return fmt.Errorf("%w: failed result must carry a non-empty error", ErrValidation)
		}
		if r.Output != nil {
			return fmt.Errorf("%w: failed result must not carry output", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: result status must be terminal, got %q", ErrValidation, r.Status)
	}
	if r.EndedAt.Before(r.StartedAt) {
		return fmt.Errorf("%w: ended_at must not precede started_at", ErrValidation)
	}
	return nil
}

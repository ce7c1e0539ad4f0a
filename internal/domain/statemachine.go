package domain

import (
	"fmt"
	"time"
)

// ErrIllegalTransition indicates an attempted state transition outside the
// table below. It is a fatal, internal error: surfaced loudly rather than
// absorbed, since it indicates a bug in the caller.
type ErrIllegalTransition struct {
	From Status
	To   Status
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition: %s -> %s", e.From, e.To)
}

// transitions enumerates every legal (from, to) pair. Terminal states have
// no outgoing entries.
var transitions = map[Status]map[Status]bool{
	StatusCreated: {
		StatusPending:   true,
		StatusCancelled: true,
	},
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusRetrying:  true,
		StatusCancelled: true,
	},
	StatusRetrying: {
		StatusRunning: true,
		StatusFailed:  true,
	},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Transition moves the job from its current status to to, stamping
// UpdatedAt at now. It fails loudly (ErrIllegalTransition) for any pair not
// in the table; terminal statuses never have a legal outgoing transition.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return ErrIllegalTransition{From: j.Status, To: to}
	}
	j.Status = to
	if !now.After(j.UpdatedAt) {
		now = j.UpdatedAt.Add(time.Nanosecond)
	}
	j.UpdatedAt = now
	return nil
}

// RecordFailure applies §4.1's failure-accounting rule: attempts is
// incremented and last_error set before the outgoing transition is chosen.
// It returns the status the job was (or should be) moved to: FAILED once
// attempts reaches max_retries, RETRYING otherwise. The increment-then-
// transition order is normative — it is what makes attempts == max_retries
// a reliable "no further tries" signal.
func (j *Job) RecordFailure(errMsg string, now time.Time) (Status, error) {
	j.Attempts++
	j.LastError = errMsg

	next := StatusRetrying
	if j.Attempts >= j.MaxRetries {
		next = StatusFailed
	}
	if err := j.Transition(next, now); err != nil {
		return j.Status, err
	}
	return next, nil
}

// Cancel applies §4.1's cancellation rule. From CREATED/PENDING it is a
// normal transition (the scheduler entry, if any, must additionally be
// removed or tombstoned by the caller). From RUNNING it only records
// intent; the caller must still drive the terminal transition once
// execution naturally ends.
func (j *Job) Cancel(now time.Time) error {
	switch j.Status {
	case StatusCreated, StatusPending:
		return j.Transition(StatusCancelled, now)
	case StatusRunning:
		j.CancelRequested = true
		return nil
	default:
		return ErrIllegalTransition{From: j.Status, To: StatusCancelled}
	}
}

// IsTerminal reports whether status has no legal outgoing transition.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

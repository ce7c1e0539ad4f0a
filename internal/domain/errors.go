package domain

import "errors"

// ErrNotFound indicates the requested job or result does not exist in the
// state store.
var ErrNotFound = errors.New("resource not found")

// ErrDuplicateJobID indicates a submit call reused a job_id that is still
// live in the system. Fatal to the submit call; no side effect occurs.
var ErrDuplicateJobID = errors.New("duplicate job_id")

// ErrResultExists indicates a second attempt to persist a result for a
// job_id that already has one. Results are write-once (§8 property 6).
var ErrResultExists = errors.New("result already recorded")

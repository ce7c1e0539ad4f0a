package engine

import (
	"errors"
	"fmt"

	"github.com/rezkam/jobengine/internal/pipeline"
)

// FatalError marks a failure that bypasses retry and terminates the job
// immediately (§4.7): validation failures, unknown pipeline type,
// non-serializable payloads, and explicit fatal markers raised by a stage.
type FatalError struct {
	Err error
}

func (e FatalError) Error() string { return e.Err.Error() }
func (e FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the engine classifies it as fatal regardless of the
// job's remaining retry budget.
func Fatal(err error) error {
	return FatalError{Err: err}
}

// IsFatal reports whether err (or something it wraps) is a FatalError or
// a *pipeline.StageError with Fatal set.
func IsFatal(err error) bool {
	var fe FatalError
	if errors.As(err, &fe) {
		return true
	}
	var se *pipeline.StageError
	return errors.As(err, &se) && se.Fatal
}

// PanicError records a recovered pipeline panic value. No backend in this
// module returns it: the thread pool and the async runner report a
// recovered panic with their own error types and Outcome.Fatal set, so
// panics are always fatal.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

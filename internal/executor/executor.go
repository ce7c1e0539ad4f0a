// Package executor implements the stateless execution router (spec §4.3)
// and the shared contract its three backends satisfy (spec §4.4).
package executor

import (
	"context"
	"fmt"

	"github.com/rezkam/jobengine/internal/domain"
)

// Outcome is the result of routing a job to a backend: either a successful
// output value, or a classified failure. The router guarantees exactly
// one Outcome per Route call.
type Outcome struct {
	Output any
	Err    error
	Fatal  bool
}

// Work is the unit of execution a backend runs. Run executes the resolved
// pipeline against Payload; PipelineType and Payload are carried alongside
// it because the isolated backend must re-resolve the pipeline inside a
// separate process rather than invoke the closure directly.
type Work struct {
	JobID        string
	PipelineType string
	Payload      map[string]any
	Run          func(ctx context.Context) (any, error)
}

// Backend is the contract all three execution backends share: submit work
// and receive a future-like handle (a channel yielding exactly one
// Outcome), request shutdown with an optional drain, and report whether
// the pool has halted.
type Backend interface {
	Submit(ctx context.Context, work Work) (<-chan Outcome, error)
	Shutdown(drain bool)
	Halted() bool
}

// ErrInvalidMode indicates a job declared an execution mode with no
// registered backend. The router fails loudly before any side effect.
type ErrInvalidMode struct {
	Mode domain.Mode
}

func (e ErrInvalidMode) Error() string {
	return fmt.Sprintf("invalid execution mode: %q", e.Mode)
}

// Router is the stateless dispatcher mapping a job's declared mode to a
// backend.
type Router struct {
	backends map[domain.Mode]Backend
}

// NewRouter builds a Router from mode->backend bindings.
func NewRouter(thread, process, async Backend) *Router {
	return &Router{backends: map[domain.Mode]Backend{
		domain.ModeThread:  thread,
		domain.ModeProcess: process,
		domain.ModeAsync:   async,
	}}
}

// Route dispatches work to the backend implied by mode. An unknown mode
// fails loudly with ErrInvalidMode before any side effect occurs.
func (r *Router) Route(ctx context.Context, mode domain.Mode, work Work) (<-chan Outcome, error) {
	backend, ok := r.backends[mode]
	if !ok || backend == nil {
		return nil, ErrInvalidMode{Mode: mode}
	}
	return backend.Submit(ctx, work)
}

// Shutdown closes every backend with the given drain flag. The engine's
// §4.6 shutdown step calls it with drain=true.
func (r *Router) Shutdown(drain bool) {
	for _, b := range r.backends {
		b.Shutdown(drain)
	}
}

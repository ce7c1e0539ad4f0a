// Package asyncrunner implements the cooperative task runner backend
// (spec §4.4): a single driver goroutine hosting many logical tasks,
// suited to event-driven orchestration and high fan-out I/O. Submission
// order is FIFO; suspension happens only at points a task explicitly
// yields to (context-aware I/O), never pre-emptively.
package asyncrunner

import (
	"context"
	"errors"
	"sync"

	"github.com/rezkam/jobengine/internal/executor"
)

// ErrRunnerClosed is returned by Submit once shutdown has been requested.
var ErrRunnerClosed = errors.New("async runner is closed")

type task struct {
	ctx  context.Context
	work executor.Work
	out  chan executor.Outcome
}

// Runner is the cooperative single-driver-thread backend.
type Runner struct {
	queue  chan task
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	halted bool
}

// New starts the single driver goroutine. queueDepth bounds the FIFO
// submission backlog.
func New(queueDepth int) *Runner {
	r := &Runner{
		queue: make(chan task, queueDepth),
		done:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.drive()
	return r
}

// drive is the single driver goroutine that hosts every submitted task,
// processing the FIFO queue one task at a time. A task suspends only at
// its own ctx-aware Run; the runner makes no attempt to preempt it.
func (r *Runner) drive() {
	defer r.wg.Done()
	for {
		select {
		case t, ok := <-r.queue:
			if !ok {
				return
			}
			r.step(t)
		case <-r.done:
			// Drain whatever is already queued so submitters waiting on
			// their outcome channel are not left hanging, then stop.
			for {
				select {
				case t, ok := <-r.queue:
					if !ok {
						return
					}
					r.stepCancelled(t)
				default:
					return
				}
			}
		}
	}
}

func (r *Runner) step(t task) {
	defer func() {
		if rec := recover(); rec != nil {
			t.out <- executor.Outcome{Err: errPanic{rec}, Fatal: true}
		}
		close(t.out)
	}()

	out, err := t.work.Run(t.ctx)
	if err != nil {
		t.out <- executor.Outcome{Err: err}
		return
	}
	t.out <- executor.Outcome{Output: out}
}

// stepCancelled gives an already-queued task one cooperative step to
// observe cancellation and unwind, per §4.4's shutdown contract.
func (r *Runner) stepCancelled(t task) {
	ctx, cancel := context.WithCancel(t.ctx)
	cancel()
	t.ctx = ctx
	r.step(t)
}

// Submit enqueues work FIFO. Blocks if the bounded queue is full.
func (r *Runner) Submit(ctx context.Context, work executor.Work) (<-chan executor.Outcome, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRunnerClosed
	}
	r.mu.Unlock()

	out := make(chan executor.Outcome, 1)
	select {
	case r.queue <- task{ctx: ctx, work: work, out: out}:
		return out, nil
	case <-r.done:
		return nil, ErrRunnerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels pending tasks (giving each one cooperative step to
// unwind) and stops the driver. drain is accepted for contract symmetry
// with the other backends; the cooperative runner always drains its FIFO
// backlog before halting, since leaving submitters without an outcome
// would violate the "exactly one outcome per submit" contract.
func (r *Runner) Shutdown(drain bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()

	r.mu.Lock()
	r.halted = true
	r.mu.Unlock()
}

// Halted reports whether the driver goroutine has stopped.
func (r *Runner) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

type errPanic struct{ value any }

func (e errPanic) Error() string { return "panic in async runner task" }

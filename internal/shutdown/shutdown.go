// Package shutdown implements the one-shot broadcast + ordered cleanup
// coordinator described in spec §5/§9: a single shutdown signal plus a
// LIFO stack of cleanup callbacks invoked in reverse registration order,
// so components that acquired resources later release them earlier.
package shutdown

import (
	"sync"

	"go.uber.org/multierr"
)

// Callback is a cleanup action registered with a Coordinator. Callbacks
// must be idempotent: every call to Shutdown runs all registered
// callbacks again, and a callback that is also reachable via another path
// (e.g. a deferred close) must tolerate being invoked twice.
type Callback func() error

// Coordinator is a one-shot broadcast event plus a LIFO list of cleanup
// callbacks.
type Coordinator struct {
	mu        sync.Mutex
	signalled bool
	ch        chan struct{}
	callbacks []Callback
}

// New returns a Coordinator that has not yet signalled shutdown.
func New() *Coordinator {
	return &Coordinator{ch: make(chan struct{})}
}

// Register adds a cleanup callback, to be invoked in reverse registration
// order when Shutdown runs.
func (c *Coordinator) Register(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// Signal fires the one-shot broadcast. Safe to call more than once; only
// the first call has an effect. It does not run callbacks — callers poll
// Done() or call Shutdown to run them.
func (c *Coordinator) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signalled {
		return
	}
	c.signalled = true
	close(c.ch)
}

// Done returns a channel closed once Signal has fired. Polled by the
// engine loop.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ch
}

// Signalled reports whether Signal has already fired.
func (c *Coordinator) Signalled() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Shutdown fires Signal (if not already fired) and runs every registered
// callback in reverse registration order, aggregating their errors.
func (c *Coordinator) Shutdown() error {
	c.Signal()

	c.mu.Lock()
	callbacks := make([]Callback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	var err error
	for i := len(callbacks) - 1; i >= 0; i-- {
		err = multierr.Append(err, callbacks[i]())
	}
	return err
}

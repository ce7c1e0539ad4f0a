// Package processpool implements the isolated-process worker pool backend
// (spec §4.4): a fixed set of long-lived isolated execution contexts
// (subprocesses of the same binary), each servicing a serialization-
// capable queue, suited to CPU-bound work that needs true cross-core
// parallelism. Work and results cross the process boundary encoded with
// encoding/gob; a payload that cannot be gob-encoded is refused with a
// fatal, no-retry error before any subprocess is involved.
package processpool

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rezkam/jobengine/internal/core"
	"github.com/rezkam/jobengine/internal/executor"
)

// ErrPoolClosed is returned by Submit once shutdown has been requested.
var ErrPoolClosed = errors.New("process pool is closed")

// gob requires every concrete type carried inside an interface{} to be
// registered up front. These cover the JSON-like shapes payloads and
// outputs take in practice; a pipeline that produces its own struct types
// and routes them through this backend must register them the same way.
func init() {
	gob.Register("")
	gob.Register(0)
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// SerializationError indicates a payload could not be gob-encoded for
// dispatch to the isolated backend — classified fatal, no retry (§4.4,
// §7).
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string { return fmt.Sprintf("payload not serializable: %v", e.Err) }
func (e *SerializationError) Unwrap() error { return e.Err }

// ErrLostContext indicates a subprocess exited (or the drain window
// elapsed) while a job was in flight; it is classified transient (§12.5).
var ErrLostContext = errors.New("execution context lost")

// Request is the wire message sent to a subprocess: the pipeline type to
// resolve and the payload to run it against.
type Request struct {
	PipelineType string
	Payload      map[string]any
}

// Response is the wire message a subprocess returns.
type Response struct {
	Output any
	Err    string
	Fatal  bool
}

// RunSubprocessWorker is the subprocess-side entrypoint: it decodes one
// Request at a time from in, resolves the pipeline from registry, runs it,
// and encodes one Response to out, looping until in is exhausted. cmd/engine
// invokes this when launched with the isolated-worker flag, using the same
// pipeline wiring as the parent process — consistent with §9's note that
// the isolated backend requires named, registered stages rather than
// anonymous closures.
func RunSubprocessWorker(in io.Reader, out io.Writer, registry core.PipelineRegistry) error {
	dec := gob.NewDecoder(in)
	enc := gob.NewEncoder(out)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp := runOne(req, registry)
		if err := enc.Encode(&resp); err != nil {
			return err
		}
	}
}

func runOne(req Request, registry core.PipelineRegistry) Response {
	factory, ok := registry.Resolve(req.PipelineType)
	if !ok {
		return Response{Err: fmt.Sprintf("unknown pipeline type %q", req.PipelineType), Fatal: true}
	}
	out, err := factory().Run(context.Background(), req.Payload)
	if err != nil {
		return Response{Err: err.Error()}
	}
	return Response{Output: out}
}

// worker is one long-lived subprocess plus its gob codec.
type worker struct {
	cmd *exec.Cmd
	enc *gob.Encoder
	dec *gob.Decoder
	mu  sync.Mutex
	dead bool
}

// Pool is the isolated-process worker pool backend.
type Pool struct {
	free    chan *worker
	workers []*worker
	mu      sync.Mutex
	closed  bool
	halted  bool
}

// Spawn is the function used to launch one subprocess; tests substitute a
// fake-exec helper process, production passes exec.Command(os.Args[0], args...).
type Spawn func() (*exec.Cmd, io.WriteCloser, io.ReadCloser, error)

// New starts size subprocesses using spawn.
func New(ctx context.Context, size int, spawn Spawn) (*Pool, error) {
	p := &Pool{free: make(chan *worker, size)}
	for i := 0; i < size; i++ {
		cmd, stdin, stdout, err := spawn()
		if err != nil {
			p.Shutdown(false)
			return nil, fmt.Errorf("spawn isolated worker %d: %w", i, err)
		}
		if err := cmd.Start(); err != nil {
			p.Shutdown(false)
			return nil, fmt.Errorf("start isolated worker %d: %w", i, err)
		}
		w := &worker{cmd: cmd, enc: gob.NewEncoder(stdin), dec: gob.NewDecoder(stdout)}
		p.workers = append(p.workers, w)
		p.free <- w
	}
	return p, nil
}

func checkSerializable(payload map[string]any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return &SerializationError{Err: err}
	}
	return nil
}

// Submit refuses non-serializable payloads immediately (before any
// subprocess is touched), otherwise hands the request to the next free
// subprocess and waits for its Response on a background goroutine.
func (p *Pool) Submit(ctx context.Context, work executor.Work) (<-chan executor.Outcome, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	if err := checkSerializable(work.Payload); err != nil {
		return nil, err
	}

	out := make(chan executor.Outcome, 1)

	var w *worker
	select {
	case w = <-p.free:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	go func() {
		defer func() { p.free <- w }()

		w.mu.Lock()
		defer w.mu.Unlock()

		req := Request{PipelineType: work.PipelineType, Payload: work.Payload}
		if err := w.enc.Encode(&req); err != nil {
			w.dead = true
			out <- executor.Outcome{Err: ErrLostContext}
			close(out)
			return
		}

		var resp Response
		if err := w.dec.Decode(&resp); err != nil {
			w.dead = true
			out <- executor.Outcome{Err: ErrLostContext}
			close(out)
			return
		}

		if resp.Err != "" {
			out <- executor.Outcome{Err: errors.New(resp.Err), Fatal: resp.Fatal}
			close(out)
			return
		}
		out <- executor.Outcome{Output: resp.Output}
		close(out)
	}()

	return out, nil
}

// Shutdown terminates subprocesses. If drain is true it allows a short
// best-effort window for in-flight requests before killing; otherwise it
// kills immediately. In-flight work may be lost either way — its job will
// appear RUNNING at restart, as §4.4/§7 allow.
func (p *Pool) Shutdown(drain bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if drain {
		time.Sleep(200 * time.Millisecond)
	}

	var g errgroup.Group
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			_ = w.cmd.Process.Kill()
			return w.cmd.Wait()
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	p.halted = true
	p.mu.Unlock()
}

// Halted reports whether every subprocess has been reaped.
func (p *Pool) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

package threadpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rezkam/jobengine/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SubmitAndRun(t *testing.T) {
	p := New(2, 4)
	defer p.Shutdown(true)

	out, err := p.Submit(context.Background(), executor.Work{
		JobID: "j1",
		Run: func(ctx context.Context) (any, error) {
			return 42, nil
		},
	})
	require.NoError(t, err)

	select {
	case outcome := <-out:
		assert.NoError(t, outcome.Err)
		assert.Equal(t, 42, outcome.Output)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestPool_PropagatesError(t *testing.T) {
	p := New(1, 1)
	defer p.Shutdown(true)

	wantErr := errors.New("boom")
	out, err := p.Submit(context.Background(), executor.Work{
		Run: func(ctx context.Context) (any, error) { return nil, wantErr },
	})
	require.NoError(t, err)

	outcome := <-out
	assert.Equal(t, wantErr, outcome.Err)
}

func TestPool_RecoversPanic(t *testing.T) {
	p := New(1, 1)
	defer p.Shutdown(true)

	out, err := p.Submit(context.Background(), executor.Work{
		Run: func(ctx context.Context) (any, error) { panic("kaboom") },
	})
	require.NoError(t, err)

	outcome := <-out
	require.Error(t, outcome.Err)
	assert.True(t, outcome.Fatal)
}

func TestPool_ShutdownDrainsQueuedTasks(t *testing.T) {
	p := New(1, 10)

	release := make(chan struct{})
	first, err := p.Submit(context.Background(), executor.Work{
		Run: func(ctx context.Context) (any, error) {
			<-release
			return "first", nil
		},
	})
	require.NoError(t, err)

	const n = 5
	outs := make([]<-chan executor.Outcome, n)
	for i := 0; i < n; i++ {
		i := i
		out, err := p.Submit(context.Background(), executor.Work{
			Run: func(ctx context.Context) (any, error) { return i, nil },
		})
		require.NoError(t, err)
		outs[i] = out
	}

	// Shutdown(true) runs concurrently with the single worker still blocked
	// on the first task, mirroring the window where queued work outlives
	// the shutdown signal.
	shutdownDone := make(chan struct{})
	go func() {
		p.Shutdown(true)
		close(shutdownDone)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case outcome := <-first:
		assert.NoError(t, outcome.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("first task's outcome was never delivered")
	}

	for i, out := range outs {
		select {
		case outcome := <-out:
			assert.NoError(t, outcome.Err)
			assert.Equal(t, i, outcome.Output)
		case <-time.After(2 * time.Second):
			t.Fatalf("queued task %d's outcome was never delivered after Shutdown(true)", i)
		}
	}

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown(true) did not return")
	}
	assert.True(t, p.Halted())
}

func TestPool_SubmitAfterShutdownFails(t *testing.T) {
	p := New(1, 1)
	p.Shutdown(true)

	_, err := p.Submit(context.Background(), executor.Work{
		Run: func(ctx context.Context) (any, error) { return nil, nil },
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.True(t, p.Halted())
}

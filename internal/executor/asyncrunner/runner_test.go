package asyncrunner

import (
	"context"
	"testing"
	"time"

	"github.com/rezkam/jobengine/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_FIFOOrdering(t *testing.T) {
	r := New(8)
	defer r.Shutdown(true)

	var order []int
	done := make(chan struct{})

	outs := make([]<-chan executor.Outcome, 3)
	for i := 0; i < 3; i++ {
		i := i
		out, err := r.Submit(context.Background(), executor.Work{
			Run: func(ctx context.Context) (any, error) {
				order = append(order, i)
				return i, nil
			},
		})
		require.NoError(t, err)
		outs[i] = out
	}

	go func() {
		for _, out := range outs {
			<-out
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestRunner_ShutdownHalts(t *testing.T) {
	r := New(1)
	r.Shutdown(true)
	assert.True(t, r.Halted())

	_, err := r.Submit(context.Background(), executor.Work{
		Run: func(ctx context.Context) (any, error) { return nil, nil },
	})
	assert.ErrorIs(t, err, ErrRunnerClosed)
}

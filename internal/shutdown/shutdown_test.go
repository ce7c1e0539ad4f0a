package shutdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_CallbacksRunInLIFOOrder(t *testing.T) {
	c := New()
	var order []int
	c.Register(func() error { order = append(order, 1); return nil })
	c.Register(func() error { order = append(order, 2); return nil })
	c.Register(func() error { order = append(order, 3); return nil })

	require.NoError(t, c.Shutdown())
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestCoordinator_AggregatesErrors(t *testing.T) {
	c := New()
	errA := errors.New("a")
	errB := errors.New("b")
	c.Register(func() error { return errA })
	c.Register(func() error { return errB })

	err := c.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestCoordinator_SignalIsOneShot(t *testing.T) {
	c := New()
	c.Signal()
	c.Signal()
	assert.True(t, c.Signalled())
	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel should be closed after Signal")
	}
}

package scheduler

import (
	"testing"
	"time"

	"github.com/rezkam/jobengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(id string, priority int) *domain.Job {
	return domain.NewJob(id, priority, domain.ModeThread, 3, map[string]any{"type": "noop"}, time.Now())
}

func TestScheduler_PriorityOrdering(t *testing.T) {
	s := New()
	s.Submit(job("A", 1))
	s.Submit(job("B", 5))
	s.Submit(job("C", 3))

	j, ok := s.NextJob()
	require.True(t, ok)
	assert.Equal(t, "B", j.ID)

	j, ok = s.NextJob()
	require.True(t, ok)
	assert.Equal(t, "C", j.ID)

	j, ok = s.NextJob()
	require.True(t, ok)
	assert.Equal(t, "A", j.ID)

	_, ok = s.NextJob()
	assert.False(t, ok)
}

func TestScheduler_FIFOTiebreak(t *testing.T) {
	s := New()
	s.Submit(job("first", 5))
	s.Submit(job("second", 5))

	j, ok := s.NextJob()
	require.True(t, ok)
	assert.Equal(t, "first", j.ID)
}

func TestScheduler_AgingPreventsStarvation(t *testing.T) {
	clock := time.Now()
	s := New(WithAging(time.Second, 1), withClock(func() time.Time { return clock }))

	s.Submit(job("low", 0))
	clock = clock.Add(11 * time.Second)
	s.Submit(job("high", 10))

	j, ok := s.NextJob()
	require.True(t, ok)
	assert.Equal(t, "low", j.ID, "low priority job should win after aging past a higher fixed priority")
}

func TestScheduler_SizeAndPeek(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Size())
	s.Submit(job("A", 1))
	assert.Equal(t, 1, s.Size())

	j, ok := s.Peek()
	require.True(t, ok)
	assert.Equal(t, "A", j.ID)
	assert.Equal(t, 1, s.Size(), "peek must not remove")
}

func TestScheduler_Remove(t *testing.T) {
	s := New()
	s.Submit(job("A", 1))
	s.Submit(job("B", 2))

	assert.True(t, s.Remove("A"))
	assert.False(t, s.Remove("A"))
	assert.Equal(t, 1, s.Size())

	j, ok := s.NextJob()
	require.True(t, ok)
	assert.Equal(t, "B", j.ID)
}

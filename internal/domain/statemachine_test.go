package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(maxRetries int) *Job {
	now := time.Now()
	return NewJob("job-1", 1, ModeThread, maxRetries, map[string]any{"type": "noop"}, now)
}

func TestTransition_LegalPath(t *testing.T) {
	j := newTestJob(3)
	now := time.Now().Add(time.Second)

	require.NoError(t, j.Transition(StatusPending, now))
	require.NoError(t, j.Transition(StatusRunning, now.Add(time.Second)))
	require.NoError(t, j.Transition(StatusCompleted, now.Add(2*time.Second)))
	assert.Equal(t, StatusCompleted, j.Status)
}

func TestTransition_IllegalFromTerminal(t *testing.T) {
	j := newTestJob(3)
	now := time.Now()
	require.NoError(t, j.Transition(StatusPending, now))
	require.NoError(t, j.Transition(StatusRunning, now.Add(time.Second)))
	require.NoError(t, j.Transition(StatusCompleted, now.Add(2*time.Second)))

	err := j.Transition(StatusRunning, now.Add(3*time.Second))
	require.Error(t, err)
	var illegal ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, StatusCompleted, j.Status)
}

func TestRecordFailure_RetryThenExhaust(t *testing.T) {
	j := newTestJob(3)
	now := time.Now()
	require.NoError(t, j.Transition(StatusPending, now))
	require.NoError(t, j.Transition(StatusRunning, now.Add(time.Second)))

	next, err := j.RecordFailure("boom", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, next)
	assert.Equal(t, 1, j.Attempts)

	require.NoError(t, j.Transition(StatusRunning, now.Add(3*time.Second)))
	next, err = j.RecordFailure("boom", now.Add(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, next)
	assert.Equal(t, 2, j.Attempts)

	require.NoError(t, j.Transition(StatusRunning, now.Add(5*time.Second)))
	next, err = j.RecordFailure("boom", now.Add(6*time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, next)
	assert.Equal(t, 3, j.Attempts)
	assert.Equal(t, j.MaxRetries, j.Attempts)
}

func TestCancel_FromPending(t *testing.T) {
	j := newTestJob(3)
	now := time.Now()
	require.NoError(t, j.Transition(StatusPending, now))
	require.NoError(t, j.Cancel(now.Add(time.Second)))
	assert.Equal(t, StatusCancelled, j.Status)
}

func TestCancel_FromRunningIsBestEffort(t *testing.T) {
	j := newTestJob(3)
	now := time.Now()
	require.NoError(t, j.Transition(StatusPending, now))
	require.NoError(t, j.Transition(StatusRunning, now.Add(time.Second)))
	require.NoError(t, j.Cancel(now.Add(2*time.Second)))
	assert.True(t, j.CancelRequested)
	assert.Equal(t, StatusRunning, j.Status)
}

func TestPipelineType_MissingFailsValidation(t *testing.T) {
	j := NewJob("job-2", 1, ModeThread, 1, map[string]any{}, time.Now())
	_, err := j.PipelineType()
	require.Error(t, err)
}

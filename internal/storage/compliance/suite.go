// Package compliance runs one shared test suite against any
// core.StateStore implementation, so the fs, sql, and any future backend
// all satisfy the same observable contract.
package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/jobengine/internal/core"
	"github.com/rezkam/jobengine/internal/domain"
)

// RunStateStoreComplianceTest runs a standard set of tests against a
// core.StateStore implementation. setup returns a fresh store instance and
// a teardown func invoked after each subtest.
func RunStateStoreComplianceTest(t *testing.T, setup func() (core.StateStore, func())) {
	t.Run("SaveAndGetJob", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newTestJob()
		require.NoError(t, store.SaveJob(ctx, job))

		fetched, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, fetched.ID)
		assert.Equal(t, job.Status, fetched.Status)
		assert.Equal(t, job.Priority, fetched.Priority)
	})

	t.Run("SaveJobOverwrites", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newTestJob()
		require.NoError(t, store.SaveJob(ctx, job))

		require.NoError(t, job.Transition(domain.StatusRunning, time.Now()))
		require.NoError(t, store.SaveJob(ctx, job))

		fetched, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, fetched.Status)
	})

	t.Run("GetNonExistentJob", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		_, err := store.GetJob(ctx, "non-existent-id")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("HasJob", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newTestJob()
		ok, err := store.HasJob(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.SaveJob(ctx, job))

		ok, err = store.HasJob(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("SaveResultIsWriteOnce", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		now := time.Now()
		result, err := domain.NewSuccessResult("job-1", "ok", now, now.Add(time.Second))
		require.NoError(t, err)
		require.NoError(t, store.SaveResult(ctx, result))

		second, err := domain.NewSuccessResult("job-1", "different", now, now.Add(time.Second))
		require.NoError(t, err)
		err = store.SaveResult(ctx, second)
		assert.ErrorIs(t, err, domain.ErrResultExists)

		fetched, err := store.GetResult(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "ok", fetched.Output)
	})

	t.Run("GetNonExistentResult", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		_, err := store.GetResult(ctx, "non-existent-id")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ListByStatus", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		pending := newTestJob()
		running := newTestJob()
		require.NoError(t, running.Transition(domain.StatusRunning, time.Now()))

		require.NoError(t, store.SaveJob(ctx, pending))
		require.NoError(t, store.SaveJob(ctx, running))

		jobs, err := store.ListByStatus(ctx, domain.StatusPending)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, pending.ID, jobs[0].ID)
	})

	t.Run("DeadLetterRoundTrip", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		entry := &core.DeadLetterEntry{
			ID:        uuid.New().String(),
			JobID:     "job-1",
			Class:     "fatal",
			Error:     "boom",
			Job:       newTestJob(),
			CreatedAt: time.Now().UnixNano(),
		}
		require.NoError(t, store.SaveDeadLetter(ctx, entry))

		fetched, err := store.GetDeadLetter(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.JobID, fetched.JobID)
		assert.Equal(t, entry.Class, fetched.Class)

		listed, err := store.ListDeadLetters(ctx, 10)
		require.NoError(t, err)
		require.Len(t, listed, 1)

		require.NoError(t, store.DeleteDeadLetter(ctx, entry.ID))
		_, err = store.GetDeadLetter(ctx, entry.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func newTestJob() *domain.Job {
	now := time.Now()
	job := domain.NewJob(uuid.New().String(), 5, domain.ModeThread, 3, map[string]any{"type": "noop"}, now)
	job.Status = domain.StatusPending
	return job
}

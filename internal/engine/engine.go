// Package engine implements the job execution engine (spec §4.6): the
// component that owns submission, the main processing loop, state
// transitions, persistence, and the retry/shutdown lifecycle around the
// scheduler, executor router, and pipeline registry.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rezkam/jobengine/internal/core"
	"github.com/rezkam/jobengine/internal/domain"
	"github.com/rezkam/jobengine/internal/executor"
	"github.com/rezkam/jobengine/internal/executor/processpool"
	"github.com/rezkam/jobengine/internal/metrics"
	"github.com/rezkam/jobengine/internal/ratelimit"
	"github.com/rezkam/jobengine/internal/scheduler"
	"github.com/rezkam/jobengine/internal/shutdown"
	"github.com/rezkam/jobengine/internal/storage/archive"
)

// Clock abstracts time.Now so tests can control aging/backoff-adjacent
// timestamps without sleeping.
type Clock func() time.Time

// Config configures an Engine's operational parameters (spec §4.6, §4.7).
type Config struct {
	// PollInterval is how long the loop sleeps after finding the scheduler
	// empty before polling again.
	PollInterval time.Duration
	Clock        Clock
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger

	// ProcessLeaseDuration bounds how long a job dispatched to the
	// isolated (process) backend may run before its execution context is
	// considered lost if no outcome arrives (§12.5).
	ProcessLeaseDuration time.Duration

	// ReclaimInterval is how often the engine sweeps RUNNING jobs for
	// expired process-backend leases (§12.5). Defaults to PollInterval.
	ReclaimInterval time.Duration

	// Archiver optionally hands every terminal result to a long-term
	// retention destination (§12.2), after it is durably written to the
	// state store. Defaults to archive.NoopArchiver.
	Archiver archive.Archiver

	// Backoff computes the wait before the k-th retry. Defaults to the
	// §4.7 exponential policy (2^k seconds); tests override it to avoid
	// real sleeps.
	Backoff func(attempt int) time.Duration
}

func (c *Config) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Archiver == nil {
		c.Archiver = archive.NoopArchiver{}
	}
	if c.Backoff == nil {
		c.Backoff = backoffForAttempt
	}
	if c.ProcessLeaseDuration <= 0 {
		c.ProcessLeaseDuration = 30 * time.Second
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = c.PollInterval
	}
}

// Engine wires the scheduler, state store, pipeline registry, and
// executor router into the submit/loop/finalize lifecycle described by
// §4.6.
type Engine struct {
	cfg         Config
	store       core.StateStore
	sched       *scheduler.Scheduler
	router      *executor.Router
	pl          core.PipelineRegistry
	metrics     *metrics.Registry
	sd          *shutdown.Coordinator
	lastReclaim time.Time

	// inFlight counts jobs dispatched to a backend whose finalization
	// goroutine has not yet returned. Shutdown waits on it after the
	// router drains, so a backend reporting an Outcome can never race the
	// store being closed behind it.
	inFlight sync.WaitGroup
}

// New builds an Engine over its collaborators. The caller owns starting
// Run in a goroutine and calling Shutdown (or signalling sd directly).
func New(store core.StateStore, sched *scheduler.Scheduler, router *executor.Router, pl core.PipelineRegistry, m *metrics.Registry, sd *shutdown.Coordinator, cfg Config) *Engine {
	cfg.withDefaults()
	e := &Engine{cfg: cfg, store: store, sched: sched, router: router, pl: pl, metrics: m, sd: sd}
	sd.Register(func() error {
		e.router.Shutdown(true)
		e.inFlight.Wait()
		return nil
	})
	return e
}

// Submit validates job, transitions it CREATED -> PENDING, persists it,
// and hands it to the scheduler. A duplicate job_id fails before any side
// effect (§4.6 step 1).
func (e *Engine) Submit(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	if e.cfg.Limiter != nil {
		pipelineType, _ := job.PipelineType()
		if _, err := e.cfg.Limiter.Allow(pipelineType); err != nil {
			return err
		}
	}

	exists, err := e.store.HasJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("checking for duplicate job_id: %w", err)
	}
	if exists {
		return domain.ErrDuplicateJobID
	}

	now := e.cfg.Clock()
	if err := job.Transition(domain.StatusPending, now); err != nil {
		return err
	}
	if err := e.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("persisting submitted job: %w", err)
	}

	e.sched.Submit(job)
	e.metrics.Inc("job.submitted", 1)
	return nil
}

// Run is the main loop (§4.6 step 2): while shutdown is not signalled,
// poll the scheduler; sleep for PollInterval when it is empty, otherwise
// process the next job. Run returns once the shutdown coordinator fires.
func (e *Engine) Run(ctx context.Context) {
	for {
		if e.sd.Signalled() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-e.sd.Done():
			return
		default:
		}

		e.reclaimIfDue(ctx)

		job, ok := e.sched.NextJob()
		if !ok {
			select {
			case <-time.After(e.cfg.PollInterval):
			case <-e.sd.Done():
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		e.processOne(ctx, job)
	}
}

// reclaimIfDue runs the §12.5 lease-reclaim sweep at most once per
// ReclaimInterval, piggybacking on the main loop rather than a second
// goroutine.
func (e *Engine) reclaimIfDue(ctx context.Context) {
	now := e.cfg.Clock()
	if now.Sub(e.lastReclaim) < e.cfg.ReclaimInterval {
		return
	}
	e.lastReclaim = now
	e.reclaimStuckJobs(ctx, now)
}

// reclaimStuckJobs treats any RUNNING job dispatched to the isolated
// backend whose lease has expired as a lost execution context (§12.5):
// classified transient, it re-enters the normal RecordFailure accounting
// exactly like any other failed attempt, so retry budget and dead-lettering
// behave identically whether a job failed in-process or vanished with its
// subprocess.
func (e *Engine) reclaimStuckJobs(ctx context.Context, now time.Time) {
	running, err := e.store.ListByStatus(ctx, domain.StatusRunning)
	if err != nil {
		e.cfg.Logger.Error("listing RUNNING jobs for reclaim sweep", slog.Any("error", err))
		return
	}
	for _, job := range running {
		if job.Mode != domain.ModeProcess || job.LeaseExpiresAt.IsZero() || now.Before(job.LeaseExpiresAt) {
			continue
		}
		e.reclaimJob(ctx, job, now)
	}
}

func (e *Engine) reclaimJob(ctx context.Context, job *domain.Job, now time.Time) {
	logger := e.cfg.Logger.With(slog.String("job_id", job.ID))
	next, err := job.RecordFailure(processpool.ErrLostContext.Error(), now)
	if err != nil {
		logger.Error("recording reclaimed job failure", slog.Any("error", err))
		return
	}
	if err := e.store.SaveJob(ctx, job); err != nil {
		logger.Error("persisting reclaimed job", slog.Any("error", err))
		return
	}

	e.metrics.Inc("job.reclaimed", 1)
	switch next {
	case domain.StatusFailed:
		result, err := domain.NewFailureResult(job.ID, processpool.ErrLostContext.Error(), job.UpdatedAt, now)
		if err != nil {
			logger.Error("building reclaimed failure result", slog.Any("error", err))
			return
		}
		if err := e.store.SaveResult(ctx, result); err != nil {
			logger.Error("persisting reclaimed failure result", slog.Any("error", err))
		} else {
			e.archive(ctx, logger, result)
		}
		e.deadLetter(ctx, job, false)
	case domain.StatusRetrying:
		logger.Warn("reclaiming job with lost execution context, retrying", slog.Int("attempt", job.Attempts))
		e.scheduleRetry(job, e.cfg.Backoff(job.Attempts))
	}
}

// processOne transitions a job to RUNNING and dispatches it to the backend
// implied by its mode, then returns without waiting for the outcome: the
// loop in Run is free to pull and dispatch the next job immediately, while
// a per-job goroutine waits for this one's single Outcome and finalizes it
// (§4.6 steps 3-4, §5's "processes one job at a time on the loop thread but
// fans out via backends"). Backend pool sizes, not the loop, bound how many
// jobs actually execute concurrently.
func (e *Engine) processOne(ctx context.Context, job *domain.Job) {
	logger := e.cfg.Logger.With(slog.String("job_id", job.ID))

	// RequestCancel works on the stored record: a job cancelled while queued
	// is dropped here instead of run, and a cancellation flag already on the
	// record is carried onto this in-memory job.
	if stored, err := e.store.GetJob(ctx, job.ID); err == nil {
		if stored.Status == domain.StatusCancelled {
			return
		}
		job.CancelRequested = job.CancelRequested || stored.CancelRequested
	}

	now := e.cfg.Clock()

	if err := job.Transition(domain.StatusRunning, now); err != nil {
		logger.Error("illegal transition to RUNNING", slog.Any("error", err))
		return
	}
	if job.Mode == domain.ModeProcess {
		job.LeaseExpiresAt = now.Add(e.cfg.ProcessLeaseDuration)
	}
	if err := e.store.SaveJob(ctx, job); err != nil {
		logger.Error("persisting RUNNING job", slog.Any("error", err))
		return
	}

	startedAt := e.cfg.Clock()

	factory, ok := e.pl.Resolve(mustPipelineType(job))
	if !ok {
		// Never reached a backend, so there is nothing to wait on: finalize
		// inline rather than spending a goroutine on it.
		outcome := executor.Outcome{
			Err:   fmt.Errorf("unknown pipeline type %q", mustPipelineType(job)),
			Fatal: true,
		}
		endedAt := e.cfg.Clock()
		e.metrics.Observe("job.execution", endedAt.Sub(startedAt))
		e.finalize(ctx, job, outcome, startedAt, endedAt)
		return
	}

	work := executor.Work{
		JobID:        job.ID,
		PipelineType: mustPipelineType(job),
		Payload:      job.Payload,
		Run: func(ctx context.Context) (any, error) {
			return factory().Run(ctx, job.Payload)
		},
	}

	ch, err := e.router.Route(ctx, job.Mode, work)
	if err != nil {
		outcome := executor.Outcome{Err: err, Fatal: true}
		endedAt := e.cfg.Clock()
		e.metrics.Observe("job.execution", endedAt.Sub(startedAt))
		e.finalize(ctx, job, outcome, startedAt, endedAt)
		return
	}

	e.inFlight.Add(1)
	go func() {
		defer e.inFlight.Done()
		var outcome executor.Outcome
		select {
		case out := <-ch:
			outcome = out
		case <-ctx.Done():
			outcome = executor.Outcome{Err: ctx.Err()}
		}
		endedAt := e.cfg.Clock()
		e.metrics.Observe("job.execution", endedAt.Sub(startedAt))
		e.finalize(ctx, job, outcome, startedAt, endedAt)
	}()
}

// finalize applies §4.6 step 4: success persists a COMPLETED result and
// transitions the job; failure increments attempts, records last_error,
// and transitions to RETRYING (re-submitting through the backoff policy)
// or FAILED.
func (e *Engine) finalize(ctx context.Context, job *domain.Job, outcome executor.Outcome, startedAt, endedAt time.Time) {
	logger := e.cfg.Logger.With(slog.String("job_id", job.ID))

	// A cancellation requested while the job was running is recorded on the
	// stored record, not on this in-memory job.
	if stored, err := e.store.GetJob(ctx, job.ID); err == nil && stored.CancelRequested {
		job.CancelRequested = true
	}

	if job.CancelRequested {
		// §4.1: RUNNING cancellation is best-effort. Execution was allowed
		// to finish naturally; its outcome (success or failure) is
		// discarded in favor of the CANCELLED terminal transition.
		if err := job.Transition(domain.StatusCancelled, e.cfg.Clock()); err != nil {
			logger.Error("transitioning to CANCELLED", slog.Any("error", err))
			return
		}
		if err := e.store.SaveJob(ctx, job); err != nil {
			logger.Error("persisting CANCELLED job", slog.Any("error", err))
		}
		e.metrics.Inc("job.cancelled", 1)
		return
	}

	if outcome.Err == nil {
		result, err := domain.NewSuccessResult(job.ID, outcome.Output, startedAt, endedAt)
		if err != nil {
			logger.Error("building success result", slog.Any("error", err))
			return
		}
		if err := e.store.SaveResult(ctx, result); err != nil {
			logger.Error("persisting result", slog.Any("error", err))
			return
		}
		e.archive(ctx, logger, result)
		if err := job.Transition(domain.StatusCompleted, e.cfg.Clock()); err != nil {
			logger.Error("transitioning to COMPLETED", slog.Any("error", err))
			return
		}
		if err := e.store.SaveJob(ctx, job); err != nil {
			logger.Error("persisting COMPLETED job", slog.Any("error", err))
		}
		e.metrics.Inc("job.success", 1)
		return
	}

	fatal := outcome.Fatal || IsFatal(outcome.Err)
	now := e.cfg.Clock()
	next, err := job.RecordFailure(outcome.Err.Error(), now)
	if err != nil {
		logger.Error("illegal transition recording failure", slog.Any("error", err))
		return
	}
	if fatal && next == domain.StatusRetrying {
		// A fatal classification overrides the attempts-based decision:
		// force FAILED regardless of remaining retry budget. RETRYING ->
		// FAILED is itself a legal transition, so this is a second
		// ordinary step, not a special case in the state machine.
		if err := job.Transition(domain.StatusFailed, e.cfg.Clock()); err != nil {
			logger.Error("forcing FAILED after fatal error", slog.Any("error", err))
			return
		}
		next = domain.StatusFailed
	}

	if err := e.store.SaveJob(ctx, job); err != nil {
		logger.Error("persisting failed job", slog.Any("error", err))
	}

	switch next {
	case domain.StatusFailed:
		result, err := domain.NewFailureResult(job.ID, outcome.Err.Error(), startedAt, endedAt)
		if err != nil {
			logger.Error("building failure result", slog.Any("error", err))
			return
		}
		if err := e.store.SaveResult(ctx, result); err != nil {
			logger.Error("persisting failure result", slog.Any("error", err))
		} else {
			e.archive(ctx, logger, result)
		}
		e.metrics.Inc("job.failure", 1)
		e.deadLetter(ctx, job, fatal)
	case domain.StatusRetrying:
		e.metrics.Inc("job.retries", 1)
		wait := e.cfg.Backoff(job.Attempts)
		logger.Warn("job failed, retrying",
			slog.Int("attempt", job.Attempts),
			slog.Duration("backoff", wait),
			slog.String("error", outcome.Err.Error()))
		e.scheduleRetry(job, wait)
	}
}

// scheduleRetry re-submits job to the scheduler after wait has elapsed,
// per §4.7's "delayed re-submission" option. The job remains RETRYING (a
// state observers can query) until it is handed back to the scheduler.
func (e *Engine) scheduleRetry(job *domain.Job, wait time.Duration) {
	if wait <= 0 {
		e.sched.Submit(job)
		return
	}
	go func() {
		select {
		case <-time.After(wait):
			e.sched.Submit(job)
		case <-e.sd.Done():
		}
	}()
}

// archive hands result to the configured long-term archiver. Archival
// failures are logged, never surfaced as a job failure (§12.2).
func (e *Engine) archive(ctx context.Context, logger *slog.Logger, result *domain.Result) {
	if err := e.cfg.Archiver.Archive(ctx, result); err != nil {
		logger.Error("archiving result", slog.Any("error", err))
	}
}

func (e *Engine) deadLetter(ctx context.Context, job *domain.Job, fatal bool) {
	class := "retry_exhausted"
	if fatal {
		class = "fatal"
	}
	entry := &core.DeadLetterEntry{
		ID:        job.ID + ":" + class,
		JobID:     job.ID,
		Class:     class,
		Error:     job.LastError,
		Job:       job.Clone(),
		CreatedAt: e.cfg.Clock().UnixNano(),
	}
	if err := e.store.SaveDeadLetter(ctx, entry); err != nil {
		e.cfg.Logger.Error("persisting dead letter entry", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

// Shutdown fires the shutdown coordinator: the loop stops polling, every
// backend drains, and registered cleanup callbacks run (§4.6 step 5).
func (e *Engine) Shutdown() error {
	return e.sd.Shutdown()
}

// Status returns the current job record and, if the job is COMPLETED or
// FAILED, its result. result is nil for any other status, including
// CANCELLED, which never produces a result.
func (e *Engine) Status(ctx context.Context, jobID string) (*domain.Job, *domain.Result, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != domain.StatusCompleted && job.Status != domain.StatusFailed {
		return job, nil, nil
	}
	result, err := e.store.GetResult(ctx, jobID)
	if err != nil {
		return job, nil, err
	}
	return job, result, nil
}

// RequestCancel marks job for best-effort cancellation (§ data model's
// CancelRequested field): a RUNNING job is allowed to finish naturally,
// but finalize discards its outcome in favor of a CANCELLED transition.
// A job that has not yet started is cancelled immediately.
func (e *Engine) RequestCancel(ctx context.Context, jobID string) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if domain.IsTerminal(job.Status) {
		return nil
	}
	if err := job.Cancel(e.cfg.Clock()); err != nil {
		return err
	}
	if err := e.store.SaveJob(ctx, job); err != nil {
		return err
	}
	if job.Status == domain.StatusCancelled {
		e.sched.Remove(jobID)
	}
	return nil
}

// ListDeadLetters returns up to limit dead-letter entries, most recent
// first (§12.1).
func (e *Engine) ListDeadLetters(ctx context.Context, limit int) ([]*core.DeadLetterEntry, error) {
	return e.store.ListDeadLetters(ctx, limit)
}

// RetryDeadLetter resubmits a dead-lettered job under a fresh ID, with
// attempts reset to zero and the same payload/mode/priority (§12.1). The
// original dead-letter entry is removed once the resubmit succeeds.
func (e *Engine) RetryDeadLetter(ctx context.Context, id string) (string, error) {
	entry, err := e.store.GetDeadLetter(ctx, id)
	if err != nil {
		return "", err
	}

	newID := uuid.NewString()
	job := domain.NewJob(newID, entry.Job.Priority, entry.Job.Mode, entry.Job.MaxRetries, entry.Job.Payload, e.cfg.Clock())
	if err := e.Submit(ctx, job); err != nil {
		return "", fmt.Errorf("resubmitting dead letter %s: %w", id, err)
	}

	if err := e.store.DeleteDeadLetter(ctx, id); err != nil {
		e.cfg.Logger.Error("removing retried dead letter entry", slog.String("dead_letter_id", id), slog.Any("error", err))
	}
	return newID, nil
}

// DiscardDeadLetter removes a dead-letter entry without resubmitting it.
// note is logged for operator audit trail but not otherwise persisted.
func (e *Engine) DiscardDeadLetter(ctx context.Context, id, note string) error {
	if _, err := e.store.GetDeadLetter(ctx, id); err != nil {
		return err
	}
	e.cfg.Logger.Info("discarding dead letter", slog.String("dead_letter_id", id), slog.String("note", note))
	return e.store.DeleteDeadLetter(ctx, id)
}

// mustPipelineType returns the payload's type field. Validate is required
// to have already succeeded for any job reaching this point, so the error
// case (already impossible) degrades to an empty string rather than a
// panic.
func mustPipelineType(job *domain.Job) string {
	t, _ := job.PipelineType()
	return t
}

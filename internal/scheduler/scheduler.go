// Package scheduler implements the priority-with-aging queue described in
// spec §4.2: a single mutex-guarded heap whose effective score combines a
// job's static priority with how long it has waited, so a long-queued
// low-priority job eventually outranks any fixed-priority newcomer.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rezkam/jobengine/internal/domain"
)

// DefaultAgingInterval and DefaultAgingBoost are the §4.2 defaults:
// effective score rises by AgingBoost for every AgingInterval a job waits.
const (
	DefaultAgingInterval = time.Second
	DefaultAgingBoost    = 1
)

// entry is a scheduler-owned reference to a job, plus the bookkeeping
// needed to compute its effective score. The scheduler references, not
// copies, the job (per the data model's ownership rule).
type entry struct {
	job         *domain.Job
	enqueuedAt  time.Time
	seq         int64
	cachedScore int
	index       int // heap index, maintained by container/heap
}

// Scheduler is a thread-safe priority queue with aging. A single mutex
// guards all state; submit and next_job are atomic with respect to each
// other.
type Scheduler struct {
	mu           sync.Mutex
	h            entryHeap
	nextSeq      int64
	agingInterval time.Duration
	agingBoost    int
	now           func() time.Time
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithAging overrides the default aging interval/boost.
func WithAging(interval time.Duration, boost int) Option {
	return func(s *Scheduler) {
		s.agingInterval = interval
		s.agingBoost = boost
	}
}

// withClock overrides the time source; used by tests to control aging.
func withClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns an empty Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		agingInterval: DefaultAgingInterval,
		agingBoost:    DefaultAgingBoost,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	heap.Init(&s.h)
	return s
}

// Submit records the job's enqueue timestamp and inserts an entry. O(log n).
func (s *Scheduler) Submit(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job.EnqueuedAt = now
	s.nextSeq++
	heap.Push(&s.h, &entry{
		job:        job,
		enqueuedAt: now,
		seq:        s.nextSeq,
	})
}

// score computes the effective score of e at evaluation time now:
// priority + floor((now - enqueued_at) / aging_interval) * aging_boost.
func (s *Scheduler) score(e *entry, now time.Time) int {
	if s.agingInterval <= 0 {
		return e.job.Priority
	}
	waited := now.Sub(e.enqueuedAt)
	if waited <= 0 {
		return e.job.Priority
	}
	ticks := int(waited / s.agingInterval)
	return e.job.Priority + ticks*s.agingBoost
}

// NextJob returns the highest-ranked queued job, or (nil, false) if empty.
// Never blocks. Because a heap cannot represent a moving score, NextJob
// recomputes every resident entry's score and re-heapifies under the
// single lock before popping — O(n log n), deliberate per §4.2/§9.
func (s *Scheduler) NextJob() (*domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.h) == 0 {
		return nil, false
	}

	now := s.now()
	for _, e := range s.h {
		e.cachedScore = s.score(e, now)
	}
	heap.Init(&s.h)

	top := heap.Pop(&s.h).(*entry)
	return top.job, true
}

// Peek observes top-of-queue without removing it. Used by tests and
// metrics.
func (s *Scheduler) Peek() (*domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.h) == 0 {
		return nil, false
	}
	now := s.now()
	for _, e := range s.h {
		e.cachedScore = s.score(e, now)
	}
	heap.Init(&s.h)
	return s.h[0].job, true
}

// Size returns the queued count.
func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// Remove removes the entry for jobID if present, used to fulfil
// cancellation from PENDING (§4.1): a cancelled job must never execute.
// Returns true if an entry was found and removed.
func (s *Scheduler) Remove(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.h {
		if e.job.ID == jobID {
			heap.Remove(&s.h, i)
			return true
		}
	}
	return false
}

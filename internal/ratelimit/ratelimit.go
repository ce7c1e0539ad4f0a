// Package ratelimit implements submission-time admission control (spec
// §12.4): a thin wrapper over a sliding-window limiter keyed by payload
// type, consulted by the engine's Submit after a job is validated.
// Gating at submission time rather than dequeue time preserves
// scheduler.next_job()'s never-blocks contract.
package ratelimit

import (
	"errors"
	"time"

	"github.com/joeycumines/go-catrate"
)

// ErrRateLimited is returned by Allow when category has exceeded its
// configured rate. Classified like a validation error: fatal to the
// submit call, no side effect.
var ErrRateLimited = errors.New("submission rate limit exceeded")

// Limiter wraps a *catrate.Limiter. A nil *Limiter (returned by New when
// rates is empty) allows everything, so callers never need a presence check.
type Limiter struct {
	inner *catrate.Limiter
}

// New builds a Limiter with one sliding window per duration->count pair
// in rates, applied independently per category (payload type).
func New(rates map[time.Duration]int) *Limiter {
	if len(rates) == 0 {
		return nil
	}
	return &Limiter{inner: catrate.NewLimiter(rates)}
}

// Allow registers one submission attempt for category (the payload
// "type"). It returns ErrRateLimited, with the time the category will
// next be allowed, if the configured rate is exceeded.
func (l *Limiter) Allow(category string) (retryAfter time.Time, err error) {
	if l == nil || l.inner == nil {
		return time.Time{}, nil
	}
	next, ok := l.inner.Allow(category)
	if !ok {
		return next, ErrRateLimited
	}
	return time.Time{}, nil
}

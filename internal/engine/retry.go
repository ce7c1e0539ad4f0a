package engine

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// backoffBase is the exponential backoff base from §4.7: the k-th retry
// (k starting at 1) waits 2^k seconds.
const backoffBase = 2 * time.Second

// backoffForAttempt returns the wait before the k-th retry. It builds a
// fresh exponential backoff and steps it k times rather than keeping a
// generator alive across a job's lifetime, since a job's retry state must
// survive a process restart (persisted as Attempts, not as a live object).
func backoffForAttempt(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	b := retry.NewExponential(backoffBase)
	var d time.Duration
	for i := 0; i < k; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}

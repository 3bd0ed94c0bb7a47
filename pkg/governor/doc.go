/*
Package governor implements the per-host rate limiter and circuit breaker
shared by every fetch attempt, direct or resolver-originated.

Each host_key gets its own token bucket (golang.org/x/time/rate), circuit
breaker (sony/gobreaker, two-step so Acquire and the eventual Release can be
two separate calls), and concurrency semaphore. A host's substate is
guarded by its own lock, never held across I/O — Acquire only ever touches
in-memory state and returns immediately with a Decision: proceed now, wait
until an instant, or blocked by an open breaker.

	g := governor.New(governor.Config{DefaultRate: 2, DefaultBurst: 4})
	decision, lease := g.Acquire(host, time.Now())
	switch decision.Kind {
	case governor.DecisionProceed:
		result := doFetch()
		lease.Release(result)
	case governor.DecisionWait:
		requeueAt(decision.WaitUntil)
	case governor.DecisionBlocked:
		requeueAt(decision.WaitUntil)
	}
*/
package governor

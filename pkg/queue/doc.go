/*
Package queue implements the Work Queue & Scheduler (C7): enqueue, lease,
ack, and nack-lost-lease on top of pkg/index's queue table, plus the loop
that drives them.

The scheduler itself is a time.Ticker-driven run loop with a stopCh for
Stop(), a zerolog component logger, and a prometheus Timer around each
cycle — the same shape a container-reconciliation ticker takes, generalized
from "one ticker scheduling containers" to "a worker pool leasing
references." Each cycle reclaims expired leases, promotes due retries (via
Index.LeaseBatch, which does this internally), leases a batch, and hands
every leased Reference to a bounded worker pool that calls the caller's
Processor and Acks the result. A plain sync.WaitGroup plus a counting
semaphore channel bounds concurrency; no generic worker-pool library is
introduced for this, matching the rest of the module's plain-goroutine
style.
*/
package queue

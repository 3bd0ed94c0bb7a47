package index

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/cuemby/ingestengine/pkg/stage"
	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/jmoiron/sqlx"
)

// EnqueueStatus is the result of an Enqueue call.
type EnqueueStatus string

const (
	EnqueueStatusEnqueued EnqueueStatus = "enqueued"
	EnqueueStatusDuplicate EnqueueStatus = "duplicate"
	EnqueueStatusRejected  EnqueueStatus = "rejected_non_processable"
)

// EnqueueOptions controls Enqueue's dedup/priority behavior.
type EnqueueOptions struct {
	Priority     int
	Deduplicate  bool
}

// backoffBase/backoffCap bound the exponential retry schedule computed by Ack.
const (
	backoffBase = 30 * time.Second
	backoffCap  = 2 * time.Hour
	maxAttempts = 8
)

// Enqueue inserts a new Reference and its queue row in one transaction. If
// Deduplicate is set and a processable row already claims the same
// canonical_url, Enqueue reports EnqueueStatusDuplicate and does not insert a
// second row. A Reference whose scheme/host the caller has already marked
// non-processable should never reach Enqueue; callers reject those before
// calling in, so EnqueueStatusRejected exists for completeness here but
// Enqueue itself only ever returns it if ref.Processable is false.
func (idx *Index) Enqueue(ctx context.Context, ref types.Reference, opts EnqueueOptions) (EnqueueStatus, error) {
	if !ref.Processable {
		return EnqueueStatusRejected, nil
	}

	tx, err := idx.writer.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("index: enqueue: begin: %w", err)
	}
	defer tx.Rollback()

	if opts.Deduplicate {
		var existing string
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM refs WHERE canonical_url = ? AND processable = 1", ref.CanonicalURL).Scan(&existing)
		if err == nil {
			return EnqueueStatusDuplicate, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("index: enqueue: dedup check: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refs (id, kind, source_url, canonical_url, host, content_hash, stage,
			processable, failure_reason, priority, dedup_policy_marginal, created_at, updated_at,
			next_retry_at, attempts, last_attempt_outcome)
		VALUES (?, ?, ?, ?, ?, '', ?, 1, '', ?, ?, ?, ?, NULL, 0, '')`,
		ref.ReferenceID, string(ref.Kind), ref.SourceURL, ref.CanonicalURL, ref.Host,
		int(stage.StageReceived), opts.Priority, ref.DedupPolicyMarginal, ref.CreatedAt, ref.CreatedAt); err != nil {
		if isUniqueConstraint(err) {
			return EnqueueStatusDuplicate, nil
		}
		return "", fmt.Errorf("index: enqueue: insert reference: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO queue (reference_id, lease_owner, lease_expires_at, ready_at, attempts, priority, classification)
		VALUES (?, '', NULL, ?, 0, ?, ?)`,
		ref.ReferenceID, ref.CreatedAt, opts.Priority, types.ClassificationProcessable); err != nil {
		return "", fmt.Errorf("index: enqueue: insert queue row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("index: enqueue: commit: %w", err)
	}
	return EnqueueStatusEnqueued, nil
}

// subStageFailureMarkers lists the sub-phase failure stages a Reference can
// be parked at between Ack scheduling a retry and the retry actually
// becoming due; promoteReadyRetries moves a row out of one of these and
// back to StageReceived once its next_retry_at has passed.
var subStageFailureMarkers = []stage.Stage{stage.StageLeaseFailed, stage.StageVerifyFailed, stage.StageRateLimited}

// promoteReadyRetries transitions every Reference parked at a sub-stage
// failure marker whose next_retry_at has passed back to StageReceived, and
// mirrors that on the queue row so LeaseBatch's candidate query sees it.
// Must run inside tx so promotion and leasing observe a consistent snapshot.
func promoteReadyRetries(ctx context.Context, tx *sqlx.Tx, now time.Time) error {
	for _, marker := range subStageFailureMarkers {
		rows, err := tx.QueryContext(ctx,
			"SELECT id, next_retry_at FROM refs WHERE stage = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			int(marker), now)
		if err != nil {
			return fmt.Errorf("promote ready retries: select %s: %w", marker, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			var readyAt time.Time
			if err := rows.Scan(&id, &readyAt); err != nil {
				rows.Close()
				return fmt.Errorf("promote ready retries: scan: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE refs SET stage = ?, updated_at = ? WHERE id = ? AND stage = ?`,
				int(stage.StageReceived), now, id, int(marker)); err != nil {
				return fmt.Errorf("promote ready retries: transition %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE queue SET classification = ? WHERE reference_id = ?`,
				types.ClassificationProcessable, id); err != nil {
				return fmt.Errorf("promote ready retries: queue row %s: %w", id, err)
			}
		}
	}
	return nil
}

// LeaseBatch claims up to batchSize unleased, ready queue rows for workerID
// and transitions each Reference from StageReceived to StageLeased in the
// same transaction as the lease claim, so a crash between the two can never
// happen. It first promotes any Reference whose scheduled retry has come
// due back to StageReceived.
func (idx *Index) LeaseBatch(ctx context.Context, batchSize int, workerID string, leaseTTL time.Duration, now time.Time) ([]types.Reference, error) {
	tx, err := idx.writer.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("index: lease batch: begin: %w", err)
	}
	defer tx.Rollback()

	if err := promoteReadyRetries(ctx, tx, now); err != nil {
		return nil, fmt.Errorf("index: lease batch: %w", err)
	}

	var ids []string
	rows, err := tx.QueryContext(ctx, `
		SELECT reference_id FROM queue
		WHERE classification = ? AND ready_at <= ?
			AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
		ORDER BY priority DESC, ready_at ASC
		LIMIT ?`,
		types.ClassificationProcessable, now, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("index: lease batch: select candidates: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("index: lease batch: scan candidate: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	leased := make([]types.Reference, 0, len(ids))
	expiresAt := now.Add(leaseTTL)
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE queue SET lease_owner = ?, lease_expires_at = ?
			WHERE reference_id = ? AND classification = ? AND ready_at <= ?
				AND (lease_expires_at IS NULL OR lease_expires_at <= ?)`,
			workerID, expiresAt, id, types.ClassificationProcessable, now, now)
		if err != nil {
			return nil, fmt.Errorf("index: lease batch: claim %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			continue // lost the race to another worker
		}

		var r row
		if err := tx.GetContext(ctx, &r, "SELECT * FROM refs WHERE id = ?", id); err != nil {
			return nil, fmt.Errorf("index: lease batch: read reference %s: %w", id, err)
		}
		if !stage.Allow(stage.Stage(r.Stage), stage.StageLeased) {
			continue // a retried/resurrected item not presently at StageReceived
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE refs SET stage = ?, updated_at = ? WHERE id = ? AND stage = ?`,
			int(stage.StageLeased), now, id, r.Stage); err != nil {
			return nil, fmt.Errorf("index: lease batch: transition %s: %w", id, err)
		}
		r.Stage = int(stage.StageLeased)
		leased = append(leased, r.toReference())
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("index: lease batch: commit: %w", err)
	}
	return leased, nil
}

// Ack records a worker's outcome for referenceID, given the stage it was
// leased at (fromStage), the stage a success should land on (successStage),
// and the sub-phase failure marker a retryable failure should park at
// (failStage — e.g. StageLeaseFailed while resolver+fetch is retried,
// StageVerifyFailed while verification is retried) until its backoff
// elapses and promoteReadyRetries moves it back to StageReceived. A
// rate_limited outcome schedules the retry at exactly RetryAfter without
// counting as an attempt (budget, not fault); a transient outcome that has
// exhausted maxAttempts, or any permanent/structural/internal outcome,
// dead-letters the Reference instead.
func (idx *Index) Ack(ctx context.Context, referenceID string, fromStage, successStage, failStage stage.Stage, o outcome.Outcome, now time.Time) error {
	tx, err := idx.writer.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: ack: begin: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	if err := tx.GetContext(ctx, &attempts, "SELECT attempts FROM queue WHERE reference_id = ?", referenceID); err != nil {
		return fmt.Errorf("index: ack: read attempts: %w", err)
	}

	var nextStage stage.Stage
	var readyAt time.Time
	classification := types.ClassificationProcessable
	incrementAttempt := true

	switch o.Kind {
	case outcome.KindSuccess:
		nextStage = successStage
		readyAt = now
	case outcome.KindRateLimited:
		nextStage = stage.StageRateLimited
		readyAt = o.RetryAfter
		incrementAttempt = false
	case outcome.KindTransient:
		if attempts+1 >= maxAttempts {
			nextStage = stage.StagePermanentError
			classification = types.ClassificationDeadLetter
		} else {
			nextStage = failStage
			readyAt = now.Add(backoffDelay(attempts))
		}
	default: // KindPermanent, KindStructural, KindInternal
		nextStage = stage.StagePermanentError
		classification = types.ClassificationDeadLetter
	}

	if !stage.Allow(fromStage, nextStage) && nextStage != stage.StagePermanentError {
		return fmt.Errorf("index: ack %s: %s -> %s not allowed", referenceID, fromStage, nextStage)
	}

	newAttempts := attempts
	if incrementAttempt {
		newAttempts++
	}

	failureReason := ""
	if o.Kind != outcome.KindSuccess {
		failureReason = string(o.Reason)
	}
	processable := nextStage != stage.StagePermanentError

	if _, err := tx.ExecContext(ctx, `
		UPDATE refs SET stage = ?, processable = ?, failure_reason = ?, updated_at = ?,
			next_retry_at = ?, attempts = ?, last_attempt_outcome = ?
		WHERE id = ? AND stage = ?`,
		int(nextStage), processable, failureReason, now, readyAt, newAttempts, string(o.Kind), referenceID, int(fromStage)); err != nil {
		return fmt.Errorf("index: ack %s: update reference: %w", referenceID, err)
	}

	if classification == types.ClassificationDeadLetter {
		if _, err := tx.ExecContext(ctx, `
			UPDATE queue SET lease_owner = '', lease_expires_at = NULL, classification = ?, attempts = ?
			WHERE reference_id = ?`, classification, newAttempts, referenceID); err != nil {
			return fmt.Errorf("index: ack %s: dead-letter queue row: %w", referenceID, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE queue SET lease_owner = '', lease_expires_at = NULL, ready_at = ?, attempts = ?, classification = ?
			WHERE reference_id = ?`, readyAt, newAttempts, classification, referenceID); err != nil {
			return fmt.Errorf("index: ack %s: update queue row: %w", referenceID, err)
		}
	}

	return tx.Commit()
}

// NackExpiredLeases reclaims every queue row whose lease has expired without
// an Ack, making it ready again at its prior ready_at floor (it is never
// pushed later than that floor; only an explicit Ack moves ready_at
// forward).
func (idx *Index) NackExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	tx, err := idx.writer.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("index: nack expired leases: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE refs SET stage = ?, updated_at = ?
		WHERE stage IN (?, ?, ?) AND id IN (SELECT reference_id FROM queue
			WHERE lease_expires_at IS NOT NULL AND lease_expires_at <= ?)`,
		int(stage.StageReceived), now, int(crashRecoverableStages[0]), int(crashRecoverableStages[1]), int(crashRecoverableStages[2]), now); err != nil {
		return 0, fmt.Errorf("index: nack expired leases: reset stage: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE queue SET lease_owner = '', lease_expires_at = NULL
		WHERE lease_expires_at IS NOT NULL AND lease_expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("index: nack expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), tx.Commit()
}

// crashRecoverableStages lists the worker-owned, mid-pipeline stages a
// Reference can be parked at when its owning process dies without ever
// Acking: past StageReceived (so its lease is no longer visible to
// LeaseBatch's candidate query once cleared) but before any stage that
// already has its own automatic retry path (StageLeaseFailed,
// StageVerifyFailed, StageRateLimited all self-heal via
// promoteReadyRetries).
var crashRecoverableStages = []stage.Stage{stage.StageLeased, stage.StageAcquired, stage.StageSidecarWritten}

// RecoverCrashed resets every Reference parked at a crash-recoverable stage
// back to StageReceived and clears its queue lease, so a process that died
// mid-pipeline leaves nothing stuck until some future lease-TTL deadline.
// This bypasses the ordinary worker-driven transition table the same way
// dead-letter resurrection does: it is an explicit boot-time sweep, not a
// transition a worker performs on itself, so the caller is responsible for
// invoking it only once, before leasing begins.
func (idx *Index) RecoverCrashed(ctx context.Context, now time.Time) (int, error) {
	tx, err := idx.writer.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("index: recover crashed: begin: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	for _, s := range crashRecoverableStages {
		rows, err := tx.QueryContext(ctx, "SELECT id FROM refs WHERE stage = ?", int(s))
		if err != nil {
			return 0, fmt.Errorf("index: recover crashed: select %s: %w", s, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return 0, fmt.Errorf("index: recover crashed: scan: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE refs SET stage = ?, updated_at = ?, next_retry_at = NULL WHERE id = ?`,
			int(stage.StageReceived), now, id); err != nil {
			return 0, fmt.Errorf("index: recover crashed: transition %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE queue SET lease_owner = '', lease_expires_at = NULL, ready_at = ?, classification = ?
			WHERE reference_id = ?`, now, types.ClassificationProcessable, id); err != nil {
			return 0, fmt.Errorf("index: recover crashed: queue row %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("index: recover crashed: commit: %w", err)
	}
	return len(ids), nil
}

// QueueDepth returns the count of processable queue rows, used by the
// Scheduler's backpressure admission signal.
func (idx *Index) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := idx.reader.GetContext(ctx, &n, "SELECT COUNT(*) FROM queue WHERE classification = ?", types.ClassificationProcessable)
	return n, err
}

// backoffDelay computes base*2^attempts, jittered by up to 20%, capped.
func backoffDelay(attempts int) time.Duration {
	delay := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempts)))
	if delay > backoffCap {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	return delay + jitter
}

// Package index is the durable system of record for References and their
// Artifacts: a single SQLite database opened in WAL mode, with exactly one
// writer connection so every mutation serializes through Go rather than
// through SQLITE_BUSY retries.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/cuemby/ingestengine/pkg/stage"
	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// lockHeartbeatTTL is how stale engine_lock's heartbeat_at may be before a
// new process is allowed to reclaim the lock from one that died without
// releasing it.
const lockHeartbeatTTL = 30 * time.Second

// Index is the handle to the database. writer is the single read-write
// connection (SetMaxOpenConns(1)); reader is a separate pool (same DSN, not
// read-only, SetMaxOpenConns(4)) so queries like ListByStage never queue
// behind a writer transaction.
type Index struct {
	writer *sqlx.DB
	reader *sqlx.DB
	path   string
}

// Open opens (creating if absent) the SQLite database at path, applies WAL
// mode and a 5s busy_timeout, and runs the schema's CREATE TABLE/INDEX IF NOT
// EXISTS statements. It does not itself acquire the advisory lock; call
// AcquireLock once the caller is ready to run as the sole writer.
func Open(path string) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)

	writer, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("index: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	idx := &Index{writer: writer, reader: reader, path: path}
	if _, err := idx.writer.Exec(schema); err != nil {
		idx.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return idx, nil
}

// Close releases both connection pools.
func (idx *Index) Close() error {
	err1 := idx.writer.Close()
	err2 := idx.reader.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// AcquireLock takes the single-writer advisory lock recorded in the
// engine_lock table, stealing it from a prior holder only if that holder's
// heartbeat has gone stale for longer than lockHeartbeatTTL. It returns an
// error if another live process holds the lock.
func (idx *Index) AcquireLock(ctx context.Context) error {
	// The writer pool is pinned to a single connection, so BeginTx alone
	// already serializes every lock attempt through this one transaction;
	// there is no second process sharing this *sql.DB to race against.
	tx, err := idx.writer.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("index: begin lock tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	pid := os.Getpid()

	var existing struct {
		PID         int       `db:"pid"`
		HeartbeatAt time.Time `db:"heartbeat_at"`
	}
	err = tx.QueryRowContext(ctx, "SELECT pid, heartbeat_at FROM engine_lock WHERE id = 1").
		Scan(&existing.PID, &existing.HeartbeatAt)
	switch {
	case err == sql.ErrNoRows:
		// no holder yet
	case err != nil:
		return fmt.Errorf("index: read lock row: %w", err)
	default:
		if now.Sub(existing.HeartbeatAt) < lockHeartbeatTTL {
			return fmt.Errorf("index: lock held by pid %d, heartbeat %s ago", existing.PID, now.Sub(existing.HeartbeatAt))
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO engine_lock (id, pid, heartbeat_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET pid = excluded.pid, heartbeat_at = excluded.heartbeat_at`,
		pid, now); err != nil {
		return fmt.Errorf("index: write lock row: %w", err)
	}

	return tx.Commit()
}

// Heartbeat refreshes engine_lock's heartbeat_at so a live process is never
// mistaken for dead by AcquireLock.
func (idx *Index) Heartbeat(ctx context.Context) error {
	_, err := idx.writer.ExecContext(ctx,
		"UPDATE engine_lock SET heartbeat_at = ? WHERE id = 1 AND pid = ?", time.Now().UTC(), os.Getpid())
	return err
}

// row is the flat scan target mirroring the refs table; Get/list operations
// convert it to types.Reference.
type row struct {
	ID                  string     `db:"id"`
	Kind                string     `db:"kind"`
	SourceURL           string     `db:"source_url"`
	CanonicalURL        string     `db:"canonical_url"`
	Host                string     `db:"host"`
	ContentHash         string     `db:"content_hash"`
	Stage               int        `db:"stage"`
	Processable         bool       `db:"processable"`
	FailureReason       string     `db:"failure_reason"`
	Priority            int        `db:"priority"`
	DedupPolicyMarginal *bool      `db:"dedup_policy_marginal"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	NextRetryAt         *time.Time `db:"next_retry_at"`
	Attempts            int        `db:"attempts"`
	LastAttemptOutcome  string     `db:"last_attempt_outcome"`
}

func (r row) toReference() types.Reference {
	ref := types.Reference{
		ReferenceID:         r.ID,
		Kind:                types.Kind(r.Kind),
		SourceURL:           r.SourceURL,
		CanonicalURL:        r.CanonicalURL,
		Host:                r.Host,
		ContentHash:         r.ContentHash,
		Stage:               stage.Stage(r.Stage),
		Processable:         r.Processable,
		FailureReason:       r.FailureReason,
		Priority:            r.Priority,
		DedupPolicyMarginal: r.DedupPolicyMarginal,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		Attempts:            r.Attempts,
		LastAttemptOutcome:  r.LastAttemptOutcome,
	}
	if r.NextRetryAt != nil {
		ref.NextRetryAt = *r.NextRetryAt
	}
	return ref
}

// UpsertNew inserts a fresh Reference at StageReceived, or does nothing if a
// processable row already carries the same canonical_url (enforced by the
// partial unique index, surfaced here as ErrDuplicateCanonicalURL rather
// than a raw sqlite3 constraint error).
func (idx *Index) UpsertNew(ctx context.Context, ref types.Reference) error {
	_, err := idx.writer.ExecContext(ctx, `
		INSERT INTO refs (id, kind, source_url, canonical_url, host, content_hash, stage,
			processable, failure_reason, priority, dedup_policy_marginal, created_at, updated_at,
			next_retry_at, attempts, last_attempt_outcome)
		VALUES (?, ?, ?, ?, ?, '', ?, 1, '', ?, ?, ?, ?, NULL, 0, '')`,
		ref.ReferenceID, string(ref.Kind), ref.SourceURL, ref.CanonicalURL, ref.Host,
		int(stage.StageReceived), ref.Priority, ref.DedupPolicyMarginal, ref.CreatedAt, ref.CreatedAt)
	if err != nil {
		if isUniqueConstraint(err) {
			return ErrDuplicateCanonicalURL
		}
		return fmt.Errorf("index: upsert new: %w", err)
	}
	return nil
}

// Transition moves a Reference from one stage to another using an optimistic
// concurrency check: the UPDATE only succeeds if the row is still at
// `from`, so a concurrent lease-holder transitioning the same row loses the
// race cleanly instead of corrupting state. ErrStaleTransition is returned
// when the row has already moved.
func (idx *Index) Transition(ctx context.Context, referenceID string, from, to stage.Stage, o outcome.Outcome, now time.Time) error {
	if !stage.Allow(from, to) {
		return fmt.Errorf("index: transition %s: %s -> %s not allowed", referenceID, from, to)
	}

	var nextRetryAt interface{}
	if o.Kind == outcome.KindRateLimited && !o.RetryAfter.IsZero() {
		nextRetryAt = o.RetryAfter
	}

	processable := to != stage.StagePermanentError
	failureReason := ""
	if o.Kind != outcome.KindSuccess {
		failureReason = string(o.Reason)
	}
	attemptIncrement := 1
	if o.Kind == outcome.KindRateLimited {
		attemptIncrement = 0
	}

	res, err := idx.writer.ExecContext(ctx, `
		UPDATE refs SET stage = ?, processable = ?, failure_reason = ?, updated_at = ?,
			next_retry_at = ?, attempts = attempts + ?, last_attempt_outcome = ?
		WHERE id = ? AND stage = ?`,
		int(to), processable, failureReason, now, nextRetryAt, attemptIncrement, string(o.Kind), referenceID, int(from))
	if err != nil {
		return fmt.Errorf("index: transition %s: %w", referenceID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("index: transition %s: rows affected: %w", referenceID, err)
	}
	if affected != 1 {
		return ErrStaleTransition
	}
	return nil
}

// CommitArtifact records a finished Artifact and marks its Reference's
// content_hash, in a single transaction.
func (idx *Index) CommitArtifact(ctx context.Context, artifact types.Artifact) error {
	tx, err := idx.writer.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: commit artifact: begin: %w", err)
	}
	defer tx.Rollback()

	reasonsJSON, err := marshalReasons(artifact.QualityReasons)
	if err != nil {
		return fmt.Errorf("index: commit artifact: marshal reasons: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (artifact_id, reference_id, raw_bytes_ref, cleaned_markdown_ref,
			sidecar_ref, byte_count, word_count, content_hash, quality, quality_reasons,
			obtained_via_resolver, obtained_via_transport, obtained_from, fetch_latency_ms,
			attempts_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ArtifactID, artifact.ReferenceID, artifact.RawBytesRef, artifact.CleanedMarkdownRef,
		artifact.SidecarRef, artifact.ByteCount, artifact.WordCount, artifact.ContentHash,
		string(artifact.Quality), reasonsJSON, artifact.ObtainedViaResolver, artifact.ObtainedViaTransport,
		string(artifact.ObtainedFrom), artifact.FetchLatencyMS, artifact.AttemptsUsed, artifact.CreatedAt); err != nil {
		return fmt.Errorf("index: commit artifact: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE refs SET content_hash = ?, updated_at = ? WHERE id = ?`,
		artifact.ContentHash, artifact.CreatedAt, artifact.ReferenceID); err != nil {
		return fmt.Errorf("index: commit artifact: update reference: %w", err)
	}

	return tx.Commit()
}

// Get returns a single Reference by ID.
func (idx *Index) Get(ctx context.Context, referenceID string) (types.Reference, error) {
	var r row
	err := idx.reader.GetContext(ctx, &r, "SELECT * FROM refs WHERE id = ?", referenceID)
	if err == sql.ErrNoRows {
		return types.Reference{}, ErrNotFound
	}
	if err != nil {
		return types.Reference{}, fmt.Errorf("index: get %s: %w", referenceID, err)
	}
	return r.toReference(), nil
}

// QueryReady returns References ready to be picked up by the scheduler:
// processable, and either never attempted or past next_retry_at, ordered by
// priority then age, capped at limit.
func (idx *Index) QueryReady(ctx context.Context, now time.Time, limit int) ([]types.Reference, error) {
	var rows []row
	err := idx.reader.SelectContext(ctx, &rows, `
		SELECT * FROM refs
		WHERE processable = 1 AND stage NOT IN (?, ?)
			AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`,
		int(stage.StageFinalized), int(stage.StageDuplicate), now, limit)
	if err != nil {
		return nil, fmt.Errorf("index: query ready: %w", err)
	}
	return toReferences(rows), nil
}

// ListByStage returns every Reference currently at stage s.
func (idx *Index) ListByStage(ctx context.Context, s stage.Stage) ([]types.Reference, error) {
	var rows []row
	if err := idx.reader.SelectContext(ctx, &rows, "SELECT * FROM refs WHERE stage = ? ORDER BY updated_at DESC", int(s)); err != nil {
		return nil, fmt.Errorf("index: list by stage: %w", err)
	}
	return toReferences(rows), nil
}

// ListByHost returns every Reference whose host matches hostKey.
func (idx *Index) ListByHost(ctx context.Context, hostKey string) ([]types.Reference, error) {
	var rows []row
	if err := idx.reader.SelectContext(ctx, &rows, "SELECT * FROM refs WHERE host = ? ORDER BY updated_at DESC", hostKey); err != nil {
		return nil, fmt.Errorf("index: list by host: %w", err)
	}
	return toReferences(rows), nil
}

// ListDeadLetter returns every Reference parked at StagePermanentError.
func (idx *Index) ListDeadLetter(ctx context.Context) ([]types.Reference, error) {
	return idx.ListByStage(ctx, stage.StagePermanentError)
}

func toReferences(rows []row) []types.Reference {
	out := make([]types.Reference, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toReference())
	}
	return out
}

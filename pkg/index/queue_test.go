package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/cuemby/ingestengine/pkg/stage"
	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openQueueTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "queue-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestEnqueueThenLeaseMovesStageToLeased(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ref := newRef("r1", "https://example.com/a", now)
	status, err := idx.Enqueue(ctx, ref, EnqueueOptions{Priority: 1, Deduplicate: true})
	require.NoError(t, err)
	assert.Equal(t, EnqueueStatusEnqueued, status)

	leased, err := idx.LeaseBatch(ctx, 10, "worker-1", time.Minute, now)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, stage.StageLeased, leased[0].Stage)
}

func TestEnqueueDeduplicatesByCanonicalURL(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newRef("r1", "https://example.com/a", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)

	status, err := idx.Enqueue(ctx, newRef("r2", "https://example.com/a", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)
	assert.Equal(t, EnqueueStatusDuplicate, status)
}

func TestLeaseBatchDoesNotDoubleLease(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newRef("r1", "https://example.com/a", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)

	first, err := idx.LeaseBatch(ctx, 10, "worker-1", time.Minute, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := idx.LeaseBatch(ctx, 10, "worker-2", time.Minute, now)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestAckSuccessTransitionsToSuccessStage(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newRef("r1", "https://example.com/a", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)
	_, err = idx.LeaseBatch(ctx, 10, "worker-1", time.Minute, now)
	require.NoError(t, err)

	err = idx.Ack(ctx, "r1", stage.StageLeased, stage.StageAcquired, stage.StageLeaseFailed, outcome.Success(), now)
	require.NoError(t, err)

	got, err := idx.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, stage.StageAcquired, got.Stage)
}

func TestAckTransientSchedulesRetryThenPromotesWhenDue(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newRef("r1", "https://example.com/a", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)
	_, err = idx.LeaseBatch(ctx, 10, "worker-1", time.Minute, now)
	require.NoError(t, err)

	err = idx.Ack(ctx, "r1", stage.StageLeased, stage.StageAcquired, stage.StageLeaseFailed,
		outcome.Transient(outcome.ReasonTimeout, nil), now)
	require.NoError(t, err)

	got, err := idx.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, stage.StageLeaseFailed, got.Stage)

	future := now.Add(time.Hour)
	leased, err := idx.LeaseBatch(ctx, 10, "worker-1", time.Minute, future)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, stage.StageLeased, leased[0].Stage)
}

func TestAckTransientDeadLettersAfterMaxAttempts(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newRef("r1", "https://example.com/a", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)

	at := now
	for i := 0; i < maxAttempts; i++ {
		_, err := idx.LeaseBatch(ctx, 10, "worker-1", time.Minute, at)
		require.NoError(t, err)
		err = idx.Ack(ctx, "r1", stage.StageLeased, stage.StageAcquired, stage.StageLeaseFailed,
			outcome.Transient(outcome.ReasonTimeout, nil), at)
		require.NoError(t, err)
		at = at.Add(3 * time.Hour)
	}

	got, err := idx.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, stage.StagePermanentError, got.Stage)
	assert.False(t, got.Processable)

	dead, err := idx.ListDeadLetter(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
}

func TestAckRateLimitedDoesNotCountAsAttempt(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newRef("r1", "https://example.com/a", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)
	_, err = idx.LeaseBatch(ctx, 10, "worker-1", time.Minute, now)
	require.NoError(t, err)

	retryAt := now.Add(10 * time.Minute)
	err = idx.Ack(ctx, "r1", stage.StageLeased, stage.StageAcquired, stage.StageLeaseFailed,
		outcome.RateLimited(retryAt, "server asked to wait"), now)
	require.NoError(t, err)

	got, err := idx.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, stage.StageRateLimited, got.Stage)
	assert.Equal(t, 0, got.Attempts)
}

func TestNackExpiredLeasesReclaimsUnackedItems(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newRef("r1", "https://example.com/a", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)
	_, err = idx.LeaseBatch(ctx, 10, "worker-1", time.Minute, now)
	require.NoError(t, err)

	reclaimed, err := idx.NackExpiredLeases(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	leased, err := idx.LeaseBatch(ctx, 10, "worker-2", time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, leased, 1)
}

func TestQueueDepthCountsProcessableRows(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newRef("r1", "https://example.com/a", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)
	_, err = idx.Enqueue(ctx, newRef("r2", "https://example.com/b", now), EnqueueOptions{Deduplicate: true})
	require.NoError(t, err)

	depth, err := idx.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func newRef(id, canonicalURL string, now time.Time) types.Reference {
	return types.Reference{
		ReferenceID:  id,
		Kind:         types.KindArticle,
		SourceURL:    canonicalURL,
		CanonicalURL: canonicalURL,
		Host:         "example.com",
		Processable:  true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestRecoverCrashedResetsMidPipelineStagesToReceived(t *testing.T) {
	idx := openQueueTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newRef("r1", "https://example.com/a", now), EnqueueOptions{})
	require.NoError(t, err)
	leased, err := idx.LeaseBatch(ctx, 10, "worker-1", time.Minute, now)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	n, err := idx.RecoverCrashed(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := idx.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, stage.StageReceived, got.Stage)

	relea, err := idx.LeaseBatch(ctx, 10, "worker-2", time.Minute, now.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, relea, 1)
	assert.Equal(t, "r1", relea[0].ReferenceID)
}

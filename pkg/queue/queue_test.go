package queue

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/ingestengine/pkg/events"
	"github.com/cuemby/ingestengine/pkg/index"
	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/cuemby/ingestengine/pkg/stage"
	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *index.Index {
	t.Helper()
	idx, err := index.Open(filepath.Join(t.TempDir(), "queue-sched-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func newTestRef(id, url string, now time.Time) types.Reference {
	return types.Reference{
		ReferenceID:  id,
		Kind:         types.KindArticle,
		SourceURL:    url,
		CanonicalURL: url,
		Host:         "example.com",
		Processable:  true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSchedulerRunCycleProcessesLeasedBatch(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newTestRef("r1", "https://example.com/a", now), index.EnqueueOptions{Priority: 1})
	require.NoError(t, err)

	var calls int32
	processor := func(_ context.Context, ref types.Reference) Result {
		atomic.AddInt32(&calls, 1)
		return Result{SuccessStage: stage.StageAcquired, FailStage: stage.StageLeaseFailed, Outcome: outcome.Success()}
	}

	sched := New(idx, processor, nil, Config{})
	require.NoError(t, sched.runCycle(ctx))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	ref, err := idx.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, stage.StageAcquired, ref.Stage)
}

func TestSchedulerRunCycleDeadLettersPermanentOutcome(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newTestRef("r1", "https://example.com/a", now), index.EnqueueOptions{})
	require.NoError(t, err)

	processor := func(_ context.Context, ref types.Reference) Result {
		return Result{
			SuccessStage: stage.StageFinalized,
			FailStage:    stage.StageLeaseFailed,
			Outcome:      outcome.Permanent(outcome.ReasonNotFoundAfterAll, nil),
		}
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	sched := New(idx, processor, broker, Config{})
	require.NoError(t, sched.runCycle(ctx))

	ref, err := idx.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, stage.StagePermanentError, ref.Stage)
	assert.False(t, ref.Processable)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventReferenceDeadLetter, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a dead-letter event")
	}
}

func TestSchedulerRunCycleRecoversProcessorPanic(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := idx.Enqueue(ctx, newTestRef("r1", "https://example.com/a", now), index.EnqueueOptions{})
	require.NoError(t, err)

	processor := func(_ context.Context, ref types.Reference) Result {
		panic("boom")
	}

	sched := New(idx, processor, nil, Config{})
	require.NoError(t, sched.runCycle(ctx))

	ref, err := idx.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, stage.StagePermanentError, ref.Stage)
	assert.Equal(t, string(outcome.ReasonPanic), ref.FailureReason)
}

func TestSchedulerRunCycleWithEmptyQueueIsNoop(t *testing.T) {
	idx := openTestIndex(t)
	sched := New(idx, func(context.Context, types.Reference) Result { return Result{} }, nil, Config{})
	require.NoError(t, sched.runCycle(context.Background()))
}

func TestSchedulerEnqueuePublishesEvent(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	sched := New(idx, func(context.Context, types.Reference) Result { return Result{} }, broker, Config{})
	status, err := sched.Enqueue(ctx, newTestRef("r1", "https://example.com/a", now), index.EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, index.EnqueueStatusEnqueued, status)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventReferenceEnqueued, ev.Type)
		assert.Equal(t, "r1", ev.ReferenceID)
	case <-time.After(time.Second):
		t.Fatal("expected an enqueued event")
	}
}

func TestSchedulerEnqueueRejectsDisallowedScheme(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sched := New(idx, func(context.Context, types.Reference) Result { return Result{} }, nil, Config{})
	ref := newTestRef("r1", "file:///etc/passwd", now)
	status, err := sched.Enqueue(ctx, ref, index.EnqueueOptions{})
	require.Error(t, err)
	assert.Equal(t, index.EnqueueStatusRejected, status)

	depth, err := idx.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestSchedulerStartStop(t *testing.T) {
	idx := openTestIndex(t)
	sched := New(idx, func(context.Context, types.Reference) Result { return Result{} }, nil, Config{PollInterval: 10 * time.Millisecond})
	sched.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sched.Stop()
}

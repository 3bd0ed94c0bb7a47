package governor

import (
	"testing"
	"time"

	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireProceedsUnderBudget(t *testing.T) {
	g := New(Config{DefaultRate: 10, DefaultBurst: 10, ConcurrentLeasesMax: 2})

	decision, lease := g.Acquire("example.com", time.Now())

	assert.Equal(t, DecisionProceed, decision.Kind)
	require.NotNil(t, lease)
	lease.Release(outcome.Success())
}

func TestAcquireWaitsWhenBucketEmpty(t *testing.T) {
	g := New(Config{DefaultRate: 1, DefaultBurst: 1, ConcurrentLeasesMax: 4})
	now := time.Now()

	decision, lease := g.Acquire("example.com", now)
	assert.Equal(t, DecisionProceed, decision.Kind)
	lease.Release(outcome.Success())

	decision, lease = g.Acquire("example.com", now)
	assert.Equal(t, DecisionWait, decision.Kind)
	assert.Nil(t, lease)
	assert.True(t, decision.WaitUntil.After(now))
}

func TestAcquireRespectsConcurrencyCap(t *testing.T) {
	g := New(Config{DefaultRate: 100, DefaultBurst: 100, ConcurrentLeasesMax: 1})
	now := time.Now()

	_, lease1 := g.Acquire("example.com", now)
	require.NotNil(t, lease1)

	decision, lease2 := g.Acquire("example.com", now)
	assert.Equal(t, DecisionWait, decision.Kind)
	assert.Nil(t, lease2)

	lease1.Release(outcome.Success())

	decision, lease3 := g.Acquire("example.com", now)
	assert.Equal(t, DecisionProceed, decision.Kind)
	require.NotNil(t, lease3)
	lease3.Release(outcome.Success())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	g := New(Config{
		DefaultRate:         100,
		DefaultBurst:        100,
		ConcurrentLeasesMax: 4,
		Breaker:             BreakerConfig{Threshold: 2, CooldownBase: time.Minute, CooldownCap: time.Hour},
	})
	now := time.Now()

	for i := 0; i < 2; i++ {
		decision, lease := g.Acquire("flaky.example", now)
		require.Equal(t, DecisionProceed, decision.Kind)
		lease.Release(outcome.Transient(outcome.ReasonTimeout, nil))
	}

	decision, lease := g.Acquire("flaky.example", now)
	assert.Equal(t, DecisionBlocked, decision.Kind)
	assert.Nil(t, lease)
}

func TestIndependentHostsDoNotShareBudget(t *testing.T) {
	g := New(Config{DefaultRate: 1, DefaultBurst: 1, ConcurrentLeasesMax: 4})
	now := time.Now()

	decision, lease := g.Acquire("a.example", now)
	assert.Equal(t, DecisionProceed, decision.Kind)
	lease.Release(outcome.Success())

	decision, lease = g.Acquire("b.example", now)
	assert.Equal(t, DecisionProceed, decision.Kind)
	lease.Release(outcome.Success())
}

func TestSnapshotReflectsBreakerState(t *testing.T) {
	g := New(Config{DefaultRate: 10, DefaultBurst: 10, ConcurrentLeasesMax: 2})
	now := time.Now()

	_, lease := g.Acquire("c.example", now)
	lease.Release(outcome.Success())

	snap := g.Snapshot()
	require.Contains(t, snap, "c.example")
	assert.Equal(t, 0, snap["c.example"].ConsecutiveFailures)
}

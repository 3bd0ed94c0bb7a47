package metrics

import (
	"context"
	"time"

	"github.com/cuemby/ingestengine/pkg/types"
)

// IndexSource is the subset of the Index Store a Collector samples
// periodically. Satisfied by *pkg/index.Index.
type IndexSource interface {
	QueueDepth(ctx context.Context) (int, error)
	ListDeadLetter(ctx context.Context) ([]types.Reference, error)
}

// GovernorSource is the subset of the Governor a Collector samples
// periodically. Satisfied by *pkg/governor.Governor.
type GovernorSource interface {
	Snapshot() map[string]types.HostBudget
}

var breakerStateValue = map[types.BreakerState]float64{
	types.BreakerClosed:   0,
	types.BreakerHalfOpen: 1,
	types.BreakerOpen:     2,
}

// Collector periodically samples the Index Store and Governor into the
// gauges Handler exposes, so queue depth and breaker state are visible
// between worker-driven updates rather than only at the moment they change.
type Collector struct {
	idx    IndexSource
	gov    GovernorSource
	period time.Duration
	stopCh chan struct{}
}

// NewCollector builds a Collector. A nil gov skips breaker-state sampling
// (useful for a scheduler-only process with no direct Governor handle).
func NewCollector(idx IndexSource, gov GovernorSource, period time.Duration) *Collector {
	if period <= 0 {
		period = 15 * time.Second
	}
	return &Collector{idx: idx, gov: gov, period: period, stopCh: make(chan struct{})}
}

// Start begins periodic sampling in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends periodic sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.idx != nil {
		if depth, err := c.idx.QueueDepth(ctx); err == nil {
			QueueDepth.WithLabelValues(string(types.ClassificationProcessable)).Set(float64(depth))
		}
		if dead, err := c.idx.ListDeadLetter(ctx); err == nil {
			DeadLetterTotal.Set(float64(len(dead)))
		}
	}

	if c.gov != nil {
		for host, budget := range c.gov.Snapshot() {
			if v, ok := breakerStateValue[budget.BreakerState]; ok {
				BreakerState.WithLabelValues(host).Set(v)
			}
		}
	}
}

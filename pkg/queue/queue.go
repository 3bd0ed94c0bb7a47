package queue

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/ingestengine/pkg/events"
	"github.com/cuemby/ingestengine/pkg/index"
	"github.com/cuemby/ingestengine/pkg/log"
	"github.com/cuemby/ingestengine/pkg/metrics"
	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/cuemby/ingestengine/pkg/stage"
	"github.com/cuemby/ingestengine/pkg/types"
)

// Result is what a Processor reports back for one leased Reference. The
// Scheduler doesn't know the pipeline's internal stage semantics — a real
// Processor typically advances a Reference through several intermediate
// stages itself via Index.Transition before returning — so it supplies the
// stage the Reference actually sits at when the call returns (FromStage),
// the stage a success should land on next, and the sub-stage marker a
// retryable failure should park at.
type Result struct {
	FromStage    stage.Stage
	SuccessStage stage.Stage
	FailStage    stage.Stage
	Outcome      outcome.Outcome
}

func (r Result) fromStageOrDefault() stage.Stage {
	if r.FromStage == stage.StageUnknown {
		return stage.StageLeased
	}
	return r.FromStage
}

// Processor drives one leased Reference to a Result. It must not block past
// ctx's deadline; the Scheduler cancels ctx at the lease TTL boundary.
type Processor func(ctx context.Context, ref types.Reference) Result

// Config configures the Scheduler's poll cadence and worker pool.
type Config struct {
	BatchSize      int
	LeaseTTL       time.Duration
	PollInterval   time.Duration
	WorkerCount    int
	WorkerIDPrefix string
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 4
	}
	if c.WorkerIDPrefix == "" {
		c.WorkerIDPrefix = "worker"
	}
	return c
}

// Scheduler owns the lease/process/ack cycle: a ticker-driven run loop that
// leases a batch of ready references each tick and fans them out to a
// bounded worker pool.
type Scheduler struct {
	idx       *index.Index
	processor Processor
	broker    *events.Broker
	cfg       Config

	stopCh chan struct{}
	wg     sync.WaitGroup
	leaseN int // monotonic counter, gives each lease call a distinct worker_id
	mu     sync.Mutex
}

// New builds a Scheduler over idx. broker may be nil if no subscriber needs
// the change stream.
func New(idx *index.Index, processor Processor, broker *events.Broker, cfg Config) *Scheduler {
	return &Scheduler{
		idx:       idx,
		processor: processor,
		broker:    broker,
		cfg:       cfg.withDefaults(),
		stopCh:    make(chan struct{}),
	}
}

// allowedSchemes are the only schemes a Reference may carry past enqueue;
// anything else (file://, javascript:, data:, ...) is unprocessable at
// enqueue time per outcome.Structural and never reaches the queue table.
var allowedSchemes = map[string]bool{"http": true, "https": true}

// Enqueue validates the Reference's scheme, inserts it, and publishes
// EventReferenceEnqueued on success. A disallowed scheme is rejected before
// ever touching the Index Store, matching outcome.Structural's contract
// that a structural failure never entered the queue.
func (s *Scheduler) Enqueue(ctx context.Context, ref types.Reference, opts index.EnqueueOptions) (index.EnqueueStatus, error) {
	u, err := url.Parse(ref.CanonicalURL)
	if err != nil || !allowedSchemes[strings.ToLower(u.Scheme)] {
		o := outcome.Structural(outcome.ReasonDisallowedScheme, fmt.Sprintf("scheme of %q is not allowed", ref.CanonicalURL))
		return index.EnqueueStatusRejected, fmt.Errorf("queue: enqueue: %s: %s", o.Reason, o.Detail)
	}

	status, err := s.idx.Enqueue(ctx, ref, opts)
	if err == nil && status == index.EnqueueStatusEnqueued {
		s.publish(events.EventReferenceEnqueued, ref.ReferenceID, "", "enqueued")
	}
	return status, err
}

// QueueDepth delegates to the Index's processable-row count, used by
// callers implementing backpressure admission.
func (s *Scheduler) QueueDepth(ctx context.Context) (int, error) {
	return s.idx.QueueDepth(ctx)
}

// Start launches the ticker-driven run loop in a background goroutine and
// returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the run loop to exit and waits for in-flight cycles (and
// their worker pools) to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	logger := log.WithComponent("scheduler")
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduler cycle failed")
			}
		}
	}
}

// runCycle reclaims expired leases, leases one batch, processes it through
// the worker pool, and updates the queue-depth gauge. It is a separate
// method rather than folded into run so tests can drive a single
// cycle deterministically without waiting on the ticker.
func (s *Scheduler) runCycle(ctx context.Context) error {
	timer := metrics.NewTimer()
	now := time.Now()

	reclaimed, err := s.idx.NackExpiredLeases(ctx, now)
	if err != nil {
		return fmt.Errorf("queue: reclaim expired leases: %w", err)
	}
	if reclaimed > 0 {
		metrics.LeaseRenewalsTotal.Add(float64(reclaimed))
	}

	workerID := s.nextWorkerID()
	batch, err := s.idx.LeaseBatch(ctx, s.cfg.BatchSize, workerID, s.cfg.LeaseTTL, now)
	if err != nil {
		return fmt.Errorf("queue: lease batch: %w", err)
	}

	if depth, err := s.idx.QueueDepth(ctx); err == nil {
		metrics.QueueDepth.WithLabelValues(string(types.ClassificationProcessable)).Set(float64(depth))
	}

	if len(batch) == 0 {
		timer.ObserveDuration(metrics.IndexTransitionDuration)
		return nil
	}

	sem := make(chan struct{}, s.cfg.WorkerCount)
	var wg sync.WaitGroup
	for _, ref := range batch {
		ref := ref
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.processOne(ctx, ref, now)
		}()
	}
	wg.Wait()
	timer.ObserveDuration(metrics.IndexTransitionDuration)
	return nil
}

// processOne runs the Processor for one leased Reference and Acks its
// Result, recovering from a Processor panic as outcome.Internal so one
// worker's bug never takes down the run loop.
func (s *Scheduler) processOne(ctx context.Context, ref types.Reference, now time.Time) {
	logger := log.WithReferenceID(ref.ReferenceID)
	metrics.ReferencesScheduledTotal.WithLabelValues(string(ref.Kind)).Inc()

	pctx, cancel := context.WithTimeout(ctx, s.cfg.LeaseTTL)
	result := s.invokeProcessor(pctx, ref)
	cancel()

	if err := s.idx.Ack(ctx, ref.ReferenceID, result.fromStageOrDefault(), result.SuccessStage, result.FailStage, result.Outcome, now); err != nil {
		logger.Error().Err(err).Msg("ack failed")
		return
	}

	switch {
	case result.Outcome.Kind == outcome.KindSuccess:
		s.publish(events.EventArtifactStored, ref.ReferenceID, ref.ContentHash, "")
	case isDeadLetterBound(result):
		metrics.ReferencesDeadLetteredTotal.WithLabelValues(string(result.Outcome.Reason)).Inc()
		s.publish(events.EventReferenceDeadLetter, ref.ReferenceID, "", string(result.Outcome.Reason))
	default:
		s.publish(events.EventReferenceRetried, ref.ReferenceID, "", string(result.Outcome.Reason))
	}
}

// isDeadLetterBound reports whether o's Kind is one Ack always routes to
// StagePermanentError for, independent of the caller-supplied FailStage.
func isDeadLetterBound(r Result) bool {
	switch r.Outcome.Kind {
	case outcome.KindPermanent, outcome.KindStructural, outcome.KindInternal:
		return true
	default:
		return false
	}
}

func (s *Scheduler) invokeProcessor(ctx context.Context, ref types.Reference) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				SuccessStage: stage.StageFinalized,
				FailStage:    stage.StageLeaseFailed,
				Outcome:      outcome.Internal(outcome.ReasonPanic, fmt.Errorf("queue: processor panic: %v", r)),
			}
		}
	}()
	return s.processor(ctx, ref)
}

func (s *Scheduler) nextWorkerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaseN++
	return fmt.Sprintf("%s-%d", s.cfg.WorkerIDPrefix, s.leaseN)
}

func (s *Scheduler) publish(t events.EventType, referenceID, contentHash, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:        t,
		ReferenceID: referenceID,
		ContentHash: contentHash,
		Message:     message,
	})
}

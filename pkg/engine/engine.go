package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/ingestengine/pkg/content"
	"github.com/cuemby/ingestengine/pkg/events"
	"github.com/cuemby/ingestengine/pkg/fetch"
	"github.com/cuemby/ingestengine/pkg/governor"
	"github.com/cuemby/ingestengine/pkg/index"
	"github.com/cuemby/ingestengine/pkg/log"
	"github.com/cuemby/ingestengine/pkg/metrics"
	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/cuemby/ingestengine/pkg/quality"
	"github.com/cuemby/ingestengine/pkg/queue"
	"github.com/cuemby/ingestengine/pkg/resolver"
	"github.com/cuemby/ingestengine/pkg/stage"
	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config is the Engine's construction-time configuration: where its
// persisted state lives and the construction-time knobs for every
// component it wires together.
type Config struct {
	DBPath      string
	ContentRoot string
	ResolverCap int
	Governor    governor.Config
	Fetch       fetch.Config
	Quality     quality.Config
	Queue       queue.Config
}

// Option customizes an Engine at construction time, in place of a
// process-wide singleton.
type Option func(*Engine)

// WithResolvers registers the resolvers the chain tries, in addition to the
// original locator every Reference always carries.
func WithResolvers(rs ...resolver.Resolver) Option {
	return func(e *Engine) { e.resolvers = append(e.resolvers, rs...) }
}

// WithResolverContext supplies the collaborators (fetch/credential lookup)
// a resolver's Locate call may need.
func WithResolverContext(rctx resolver.Context) Option {
	return func(e *Engine) { e.resolverCtx = rctx }
}

// WithBroker overrides the default, internally-constructed event broker —
// useful for tests that want to subscribe before Start.
func WithBroker(b *events.Broker) Option {
	return func(e *Engine) { e.broker = b }
}

// Engine is a fully wired ingestion pipeline: Index Store, content Store,
// Governor, Resolver Chain, Fetcher, Quality Verifier, and Scheduler.
type Engine struct {
	cfg Config

	idx     *index.Index
	content *content.Store
	gov     *governor.Governor
	chain   *resolver.Chain
	fetcher *fetch.Fetcher
	verifier *quality.Verifier
	sched   *queue.Scheduler
	broker  *events.Broker

	resolvers   []resolver.Resolver
	resolverCtx resolver.Context

	heartbeatStop chan struct{}
}

// New opens every persisted store and wires the pipeline together. It does
// not start the scheduler; call Start for that.
func New(cfg Config, opts ...Option) (*Engine, error) {
	idx, err := index.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open index: %w", err)
	}
	store, err := content.Open(cfg.ContentRoot)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("engine: open content store: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		idx:     idx,
		content: store,
		gov:     governor.New(cfg.Governor),
		broker:  events.NewBroker(),
	}
	for _, o := range opts {
		o(e)
	}

	e.chain = resolver.New(e.resolvers, e.resolverCtx, cfg.ResolverCap)
	e.fetcher = fetch.New(cfg.Fetch, e.gov)
	e.verifier = quality.New(cfg.Quality)
	e.sched = queue.New(idx, e.process, e.broker, cfg.Queue)

	return e, nil
}

// Handle is the external surface a caller gets from an Engine: enqueue new
// work, observe a Reference's current state, and subscribe to the terminal
// change stream.
type Handle struct {
	Enqueue   func(ctx context.Context, ref types.Reference, opts index.EnqueueOptions) (index.EnqueueStatus, error)
	Observe   func(ctx context.Context, referenceID string) (types.Reference, error)
	Subscribe func() events.Subscriber
}

// Handle returns the Engine's external surface.
func (e *Engine) Handle() Handle {
	return Handle{
		Enqueue:   e.sched.Enqueue,
		Observe:   e.idx.Get,
		Subscribe: e.broker.Subscribe,
	}
}

// Start takes the single-writer advisory lock (so a second Engine pointed
// at the same database file refuses to run concurrently), runs the
// boot-time crash-recovery sweep (every Reference stuck at a worker-owned
// mid-pipeline stage from a prior process's crash is reset to
// StageReceived), and starts the broker, lock heartbeat, and scheduler.
// Per I4, recovery always runs before leasing begins.
func (e *Engine) Start(ctx context.Context) error {
	logger := log.WithComponent("engine")

	if err := e.idx.AcquireLock(ctx); err != nil {
		return fmt.Errorf("engine: acquire lock: %w", err)
	}

	n, err := e.idx.RecoverCrashed(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("engine: crash recovery sweep: %w", err)
	}
	if n > 0 {
		logger.Warn().Int("count", n).Msg("recovered in-flight references from a prior crash")
	}

	e.heartbeatStop = make(chan struct{})
	go e.runHeartbeat(logger)

	e.broker.Start()
	e.sched.Start(ctx)
	return nil
}

// runHeartbeat keeps the advisory lock's heartbeat fresh so this process is
// never mistaken for dead by a would-be successor's AcquireLock call.
func (e *Engine) runHeartbeat(logger zerolog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.idx.Heartbeat(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("lock heartbeat failed")
			}
		case <-e.heartbeatStop:
			return
		}
	}
}

// Shutdown stops the scheduler, heartbeat, and broker, waiting up to grace
// for in-flight work to finish, and closes the Index Store.
func (e *Engine) Shutdown(ctx context.Context, grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		log.WithComponent("engine").Warn().Msg("shutdown grace period elapsed with workers still in flight")
	case <-ctx.Done():
	}

	if e.heartbeatStop != nil {
		close(e.heartbeatStop)
	}
	e.broker.Stop()
	return e.idx.Close()
}

// process drives one leased Reference through resolve -> fetch -> verify ->
// store, advancing its stage via Index.Transition at each boundary, and
// reports the final hop for the Scheduler's Ack call.
func (e *Engine) process(ctx context.Context, ref types.Reference) queue.Result {
	logger := log.WithReferenceID(ref.ReferenceID)
	now := time.Now()
	timer := metrics.NewTimer()

	locators := append([]types.Locator{{LocatorURL: ref.CanonicalURL, TransportHint: types.TransportDirect}},
		e.chain.Run(ctx, ref)...)

	fetched, fetchOutcome := e.fetcher.Fetch(ctx, locators, now)
	if fetchOutcome.IsFailure() {
		return queue.Result{FromStage: stage.StageLeased, FailStage: stage.StageLeaseFailed, Outcome: fetchOutcome}
	}

	if err := e.idx.Transition(ctx, ref.ReferenceID, stage.StageLeased, stage.StageAcquired, outcome.Success(), now); err != nil {
		return queue.Result{FromStage: stage.StageLeased, FailStage: stage.StageLeaseFailed,
			Outcome: outcome.Internal(outcome.ReasonStorageFault, err)}
	}

	verdict := e.verifier.Verify(fetched.Bytes, ref.Kind, ref.Host)
	if verdict.Quality == types.QualityBad {
		logger.Info().Strs("reasons", verdict.Reasons).Msg("quality verifier rejected artifact")
		return queue.Result{FromStage: stage.StageAcquired, FailStage: stage.StageVerifyFailed,
			Outcome: outcome.Permanent(outcome.ReasonVerifierBad, fmt.Errorf("quality: %v", verdict.Reasons))}
	}

	if err := e.idx.Transition(ctx, ref.ReferenceID, stage.StageAcquired, stage.StageSidecarWritten, outcome.Success(), now); err != nil {
		return queue.Result{FromStage: stage.StageAcquired, FailStage: stage.StageVerifyFailed,
			Outcome: outcome.Internal(outcome.ReasonStorageFault, err)}
	}

	artifact, err := e.content.Commit(ref, content.Files{RawBytes: fetched.Bytes, RawExt: "html"}, now)
	if err != nil {
		return queue.Result{FromStage: stage.StageSidecarWritten, FailStage: stage.StageVerifyFailed,
			Outcome: outcome.Internal(outcome.ReasonStorageFault, err)}
	}
	artifact.ArtifactID = uuid.NewString()
	artifact.Quality = verdict.Quality
	artifact.QualityReasons = verdict.Reasons
	artifact.WordCount = verdict.WordCount
	artifact.ObtainedFrom = fetched.ObtainedFrom
	artifact.ObtainedViaTransport = string(fetched.Via)
	artifact.ObtainedViaResolver = fetched.Locator.SourceResolver
	artifact.FetchLatencyMS = timer.Duration().Milliseconds()
	artifact.AttemptsUsed = ref.Attempts + 1

	if err := e.idx.Transition(ctx, ref.ReferenceID, stage.StageSidecarWritten, stage.StageVerified, outcome.Success(), now); err != nil {
		return queue.Result{FromStage: stage.StageSidecarWritten, FailStage: stage.StageVerifyFailed,
			Outcome: outcome.Internal(outcome.ReasonStorageFault, err)}
	}

	if err := e.idx.CommitArtifact(ctx, artifact); err != nil {
		return queue.Result{FromStage: stage.StageVerified, FailStage: stage.StageVerifyFailed,
			Outcome: outcome.Internal(outcome.ReasonStorageFault, err)}
	}

	if err := e.idx.Transition(ctx, ref.ReferenceID, stage.StageVerified, stage.StageStored, outcome.Success(), now); err != nil {
		return queue.Result{FromStage: stage.StageVerified, FailStage: stage.StageVerifyFailed,
			Outcome: outcome.Internal(outcome.ReasonStorageFault, err)}
	}

	if err := e.idx.Transition(ctx, ref.ReferenceID, stage.StageStored, stage.StagePostProcessed, outcome.Success(), now); err != nil {
		return queue.Result{FromStage: stage.StageStored, FailStage: stage.StageVerifyFailed,
			Outcome: outcome.Internal(outcome.ReasonStorageFault, err)}
	}

	return queue.Result{
		FromStage:    stage.StagePostProcessed,
		SuccessStage: stage.StageFinalized,
		FailStage:    stage.StageVerifyFailed,
		Outcome:      outcome.Success(),
	}
}

package governor

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/ingestengine/pkg/log"
	"github.com/cuemby/ingestengine/pkg/metrics"
	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DecisionKind is the result of an Acquire call.
type DecisionKind string

const (
	DecisionProceed DecisionKind = "proceed"
	DecisionWait    DecisionKind = "wait"
	DecisionBlocked DecisionKind = "blocked"
)

// Decision tells the caller whether it may proceed now, should retry at
// WaitUntil, or is blocked by an open breaker.
type Decision struct {
	Kind      DecisionKind
	WaitUntil time.Time
}

// HostOverride customizes the token bucket for one host_key.
type HostOverride struct {
	Rate  float64
	Burst int
}

// BreakerConfig configures the per-host circuit breaker.
type BreakerConfig struct {
	Threshold   int
	CooldownBase time.Duration
	CooldownCap  time.Duration
}

// Config is the Governor's construction-time configuration.
type Config struct {
	DefaultRate        float64
	DefaultBurst       int
	PerHost            map[string]HostOverride
	Breaker            BreakerConfig
	ConcurrentLeasesMax int
	// ShortRetryDelay is how soon a concurrency-exhausted Acquire is retried.
	ShortRetryDelay time.Duration
	// Snapshot, if non-nil, persists breaker state across restarts.
	Snapshot Store
}

func (c Config) withDefaults() Config {
	if c.ShortRetryDelay == 0 {
		c.ShortRetryDelay = 2 * time.Second
	}
	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.CooldownBase == 0 {
		c.Breaker.CooldownBase = 30 * time.Second
	}
	if c.Breaker.CooldownCap == 0 {
		c.Breaker.CooldownCap = 30 * time.Minute
	}
	if c.ConcurrentLeasesMax == 0 {
		c.ConcurrentLeasesMax = 4
	}
	return c
}

// Governor owns one token bucket, one circuit breaker, and one concurrency
// semaphore per host_key. Each host's substate is guarded by its own lock;
// the lock is never held across I/O — Acquire only ever touches in-memory
// limiter/breaker/semaphore state.
type Governor struct {
	cfg   Config
	mu    sync.RWMutex // guards the hosts map itself, not its entries
	hosts map[string]*hostState
}

type hostState struct {
	key      string
	mu       sync.Mutex
	limiter  *rate.Limiter
	sem      chan struct{}
	breaker  *hostBreaker
	cooldown time.Duration
}

// New constructs a Governor. If cfg.Snapshot is set, prior breaker state is
// read back so a restart does not silently reset every open breaker to
// closed.
func New(cfg Config) *Governor {
	cfg = cfg.withDefaults()
	g := &Governor{cfg: cfg, hosts: make(map[string]*hostState)}
	if cfg.Snapshot != nil {
		for hostKey, snap := range cfg.Snapshot.LoadAll() {
			hs := g.newHostState(hostKey)
			if snap.BreakerState == types.BreakerOpen {
				hs.breaker = newHostBreaker(hostKey, cfg.Breaker.CooldownBase, cfg.Breaker)
				for i := 0; i < cfg.Breaker.Threshold; i++ {
					done, err := hs.breaker.cb.Allow()
					if err != nil {
						break
					}
					done(false)
				}
			}
		}
	}
	return g
}

// Lease is returned by a successful Acquire; the caller must Release it
// exactly once with the outcome of the attempt it guarded.
type Lease struct {
	hostKey string
	done    func(success bool)
	sem     chan struct{}
}

// Release reports the attempt's outcome to the breaker and frees the
// host's concurrency slot.
func (l *Lease) Release(o outcome.Outcome) {
	if l == nil {
		return
	}
	if l.done != nil {
		l.done(o.Kind == outcome.KindSuccess)
	}
	if l.sem != nil {
		<-l.sem
	}
}

func (g *Governor) newHostState(hostKey string) *hostState {
	g.mu.Lock()
	defer g.mu.Unlock()

	if hs, ok := g.hosts[hostKey]; ok {
		return hs
	}

	r, burst := g.cfg.DefaultRate, g.cfg.DefaultBurst
	if override, ok := g.cfg.PerHost[hostKey]; ok {
		r, burst = override.Rate, override.Burst
	}

	hs := &hostState{
		key:      hostKey,
		limiter:  rate.NewLimiter(rate.Limit(r), burst),
		sem:      make(chan struct{}, g.cfg.ConcurrentLeasesMax),
		cooldown: g.cfg.Breaker.CooldownBase,
	}
	hs.breaker = newHostBreaker(hostKey, hs.cooldown, g.cfg.Breaker)
	g.hosts[hostKey] = hs
	return hs
}

func (g *Governor) hostState(hostKey string) *hostState {
	g.mu.RLock()
	hs, ok := g.hosts[hostKey]
	g.mu.RUnlock()
	if ok {
		return hs
	}
	return g.newHostState(hostKey)
}

// Acquire decrements hostKey's token bucket and checks its breaker and
// concurrency cap. It never blocks — a caller that cannot proceed gets a
// WaitUntil instant to retry at instead.
func (g *Governor) Acquire(hostKey string, now time.Time) (Decision, *Lease) {
	hs := g.hostState(hostKey)

	hs.mu.Lock()
	defer hs.mu.Unlock()

	select {
	case hs.sem <- struct{}{}:
	default:
		return Decision{Kind: DecisionWait, WaitUntil: now.Add(g.cfg.ShortRetryDelay)}, nil
	}

	reservation := hs.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.Cancel()
		<-hs.sem
		metrics.RateLimitDeferredTotal.WithLabelValues(hostKey).Inc()
		return Decision{Kind: DecisionWait, WaitUntil: now.Add(delay)}, nil
	}

	done, err := hs.breaker.cb.Allow()
	if err != nil {
		reservation.Cancel()
		<-hs.sem
		return Decision{Kind: DecisionBlocked, WaitUntil: hs.breaker.openUntil}, nil
	}

	return Decision{Kind: DecisionProceed}, &Lease{hostKey: hostKey, done: g.wrapDone(hs, done), sem: hs.sem}
}

// wrapDone reports success/failure to gobreaker, then reconciles the
// doubling-cooldown policy gobreaker has no native concept of: a fresh trip
// to open gets its breaker instance rebuilt with a longer Timeout, and a
// successful close after a half-open probe resets the cooldown to base. It
// also persists a snapshot and updates the ingest_breaker_state gauge.
// Release happens after Acquire's critical section has already ended, so
// the reconciliation takes hs.mu itself.
func (g *Governor) wrapDone(hs *hostState, done func(success bool)) func(success bool) {
	return func(success bool) {
		done(success)

		hs.mu.Lock()
		state := hs.breaker.cb.State()
		switch state {
		case gobreaker.StateOpen:
			cooldown := g.nextCooldown(hs)
			hs.breaker = newHostBreaker(hs.key, cooldown, g.cfg.Breaker)
			for i := 0; i < g.cfg.Breaker.Threshold; i++ {
				d, err := hs.breaker.cb.Allow()
				if err != nil {
					break
				}
				d(false)
			}
		case gobreaker.StateClosed:
			hs.cooldown = g.cfg.Breaker.CooldownBase
		}
		hs.mu.Unlock()

		metrics.BreakerState.WithLabelValues(hs.key).Set(breakerStateGauge(state))
		if g.cfg.Snapshot != nil {
			g.cfg.Snapshot.Save(hs.key, hs.snapshot())
		}
	}
}

func (hs *hostState) snapshot() types.HostBudget {
	return types.HostBudget{
		BreakerState:        fromGobreakerState(hs.breaker.cb.State()),
		ConsecutiveFailures: int(hs.breaker.cb.Counts().ConsecutiveFailures),
	}
}

func breakerStateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

func fromGobreakerState(s gobreaker.State) types.BreakerState {
	switch s {
	case gobreaker.StateClosed:
		return types.BreakerClosed
	case gobreaker.StateHalfOpen:
		return types.BreakerHalfOpen
	default:
		return types.BreakerOpen
	}
}

// hostBreaker wraps gobreaker's two-step breaker with the doubling-cooldown-
// with-jitter policy the spec describes: gobreaker's own Timeout is fixed
// per instance, so a new instance is built with a longer Timeout every time
// this host's breaker re-opens.
type hostBreaker struct {
	cb        *gobreaker.TwoStepCircuitBreaker
	openUntil time.Time
}

func newHostBreaker(hostKey string, cooldown time.Duration, cfg BreakerConfig) *hostBreaker {
	hb := &hostBreaker{}
	hb.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        hostKey,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.Threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				hb.openUntil = time.Now().Add(cooldown)
				logger := log.WithHost(name)
				logger.Warn().Msg(fmt.Sprintf("breaker opened, cooldown %s", cooldown))
			}
		},
	})
	return hb
}

// nextCooldown doubles hs's cooldown up to the configured cap and adds up
// to 20% jitter, so hosts that keep failing back off further apart instead
// of all retrying in lockstep.
func (g *Governor) nextCooldown(hs *hostState) time.Duration {
	next := hs.cooldown * 2
	if next > g.cfg.Breaker.CooldownCap {
		next = g.cfg.Breaker.CooldownCap
	}
	var jitter time.Duration
	if span := int64(next) / 5; span > 0 {
		jitter = time.Duration(rand.Int63n(span)) // up to 20% jitter
	}
	hs.cooldown = next
	return next + jitter
}

// ForceReset restores hostKey's breaker to a fresh closed state with the
// base cooldown. It exists for an operator who knows a host has recovered
// and does not want to wait out the remaining cooldown.
func (g *Governor) ForceReset(hostKey string) {
	hs := g.hostState(hostKey)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.cooldown = g.cfg.Breaker.CooldownBase
	hs.breaker = newHostBreaker(hostKey, hs.cooldown, g.cfg.Breaker)
}

// Snapshot returns the current per-host budget state for observability.
func (g *Governor) Snapshot() map[string]types.HostBudget {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]types.HostBudget, len(g.hosts))
	for hostKey, hs := range g.hosts {
		hs.mu.Lock()
		out[hostKey] = hs.snapshot()
		hs.mu.Unlock()
	}
	return out
}

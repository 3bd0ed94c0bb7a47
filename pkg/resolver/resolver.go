package resolver

import (
	"context"
	"sort"

	"github.com/cuemby/ingestengine/pkg/log"
	"github.com/cuemby/ingestengine/pkg/metrics"
	"github.com/cuemby/ingestengine/pkg/types"
)

// Status is a resolver's report on a single locate call.
type Status string

const (
	StatusNotApplicable Status = "not_applicable"
	StatusOK            Status = "ok"
	StatusTransient     Status = "transient"
	StatusPermanent     Status = "permanent"
)

// Context is the bounded set of collaborators a Resolver may use. Resolvers
// must be side-effect-free except through Context — no package-level
// clients, no ambient globals.
type Context struct {
	// Fetch retrieves bytes for url under the Governor's per-host budget.
	// Resolvers that only ever return derived URLs (no lookups) may leave
	// this unused.
	Fetch func(ctx context.Context, url string) ([]byte, error)
	// CredentialFor returns a host-scoped credential, if one is configured.
	CredentialFor func(host string) (string, bool)
}

// Resolver is one locator-producing strategy in the chain. Applies is the
// chain's predicate filter; Locate must never panic across the chain
// boundary — Chain.Run recovers and treats a panic as transient.
type Resolver interface {
	Name() string
	Priority() int
	Applies(ref types.Reference) bool
	Locate(ctx context.Context, ref types.Reference, rctx Context) ([]types.Locator, Status, error)
}

// Chain runs registered resolvers in priority order and merges their
// output into a bounded, deduplicated Locator list.
type Chain struct {
	resolvers []Resolver
	cap       int
	rctx      Context
}

// New builds a Chain. capN is the maximum number of Locators Run returns;
// a value <= 0 defaults to 8, matching the spec's "default small, e.g. 8".
func New(resolvers []Resolver, rctx Context, capN int) *Chain {
	if capN <= 0 {
		capN = 8
	}
	return &Chain{resolvers: resolvers, cap: capN, rctx: rctx}
}

// Run executes the chain for ref: filter by predicate, stable sort by
// (priority asc, name asc), invoke Locate in that sorted order, merge
// preserving first-seen order deduplicated by LocatorURL, cap to Chain.cap.
func (c *Chain) Run(ctx context.Context, ref types.Reference) []types.Locator {
	candidates := make([]Resolver, 0, len(c.resolvers))
	for _, r := range c.resolvers {
		if r.Applies(ref) {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority() != candidates[j].Priority() {
			return candidates[i].Priority() < candidates[j].Priority()
		}
		return candidates[i].Name() < candidates[j].Name()
	})

	chainLog := log.WithComponent("resolver_chain")
	seen := make(map[string]struct{})
	merged := make([]types.Locator, 0, c.cap)

	for _, r := range candidates {
		locators, status := c.invoke(ctx, r, ref)
		switch status {
		case StatusNotApplicable:
			continue
		case StatusTransient, StatusPermanent:
			chainLog.Warn().Str("resolver", r.Name()).Str("status", string(status)).
				Str("reference_id", ref.ReferenceID).Msg("resolver did not produce locators")
		}
		metrics.ResolverLocatorsTotal.WithLabelValues(r.Name()).Add(float64(len(locators)))
		for _, loc := range locators {
			if _, dup := seen[loc.LocatorURL]; dup {
				continue
			}
			seen[loc.LocatorURL] = struct{}{}
			merged = append(merged, loc)
			if len(merged) >= c.cap {
				return merged
			}
		}
	}
	return merged
}

// invoke calls r.Locate with panic isolation: a panicking resolver is
// logged and treated exactly like a transient error, never propagated.
func (c *Chain) invoke(ctx context.Context, r Resolver, ref types.Reference) (locators []types.Locator, status Status) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithComponent("resolver_chain").Error().
				Str("resolver", r.Name()).Str("reference_id", ref.ReferenceID).
				Interface("panic", rec).Msg("resolver panicked")
			locators, status = nil, StatusTransient
		}
	}()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ResolverDuration, r.Name())

	locs, st, err := r.Locate(ctx, ref, c.rctx)
	if err != nil && (st == StatusOK || st == "") {
		st = StatusTransient
	}
	if st == StatusOK || st == "" {
		return locs, StatusOK
	}
	return locs, st
}

// baseDescriptor is embedded by resolver families to supply Name/Priority
// without repeating the boilerplate in every implementation.
type baseDescriptor struct {
	name     string
	priority int
}

func (b baseDescriptor) Name() string  { return b.name }
func (b baseDescriptor) Priority() int { return b.priority }

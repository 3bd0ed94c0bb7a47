package resolver

import (
	"context"

	"github.com/cuemby/ingestengine/pkg/types"
)

// AggregatorLookup builds a candidate aggregator URL from an episode's
// identity fields (host, canonical URL). Implementations cover a single
// aggregator each; MirrorResolver runs every registered lookup.
type AggregatorLookup interface {
	Name() string
	Lookup(ref types.Reference) (string, bool)
}

// MirrorResolver yields known aggregator URLs for a podcast episode
// identity — a second, independently-hosted copy of the same content that
// a publisher mirrors episodes to.
type MirrorResolver struct {
	baseDescriptor
	lookups []AggregatorLookup
}

// NewMirrorResolver builds the resolver from a set of aggregator lookups.
func NewMirrorResolver(lookups []AggregatorLookup) *MirrorResolver {
	return &MirrorResolver{
		baseDescriptor: baseDescriptor{name: "mirror_aggregator", priority: 40},
		lookups:        lookups,
	}
}

func (m *MirrorResolver) Applies(ref types.Reference) bool {
	return ref.Kind == types.KindPodcastEpisode
}

func (m *MirrorResolver) Locate(_ context.Context, ref types.Reference, _ Context) ([]types.Locator, Status, error) {
	var locators []types.Locator
	for _, lookup := range m.lookups {
		url, ok := lookup.Lookup(ref)
		if !ok {
			continue
		}
		locators = append(locators, types.Locator{
			LocatorURL:     url,
			TransportHint:  types.TransportMirror,
			SourceResolver: m.Name(),
			Confidence:     0.3,
		})
	}
	if len(locators) == 0 {
		return nil, StatusNotApplicable, nil
	}
	return locators, StatusOK, nil
}

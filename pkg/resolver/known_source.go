package resolver

import (
	"context"

	"github.com/cuemby/ingestengine/pkg/types"
)

// SourceRule maps a host to a direct-content URL. Rewrite returns that URL,
// or false when the rule does not apply to ref; a nil Rewrite means the
// canonical URL already is the direct content URL and the rule exists only
// to attach a higher confidence.
type SourceRule struct {
	Confidence float64
	Rewrite    func(ref types.Reference) (string, bool)
}

// KnownSourceResolver yields a direct content URL for hosts with a
// registered rewrite rule, e.g. a podcast host whose canonical episode
// page always links its MP3/transcript at a predictable path.
type KnownSourceResolver struct {
	baseDescriptor
	rules map[string]SourceRule
}

// NewKnownSourceResolver builds a resolver from a per-host rule table.
func NewKnownSourceResolver(rules map[string]SourceRule) *KnownSourceResolver {
	return &KnownSourceResolver{
		baseDescriptor: baseDescriptor{name: "known_source", priority: 10},
		rules:          rules,
	}
}

func (k *KnownSourceResolver) Applies(ref types.Reference) bool {
	_, ok := k.rules[ref.Host]
	return ok
}

func (k *KnownSourceResolver) Locate(_ context.Context, ref types.Reference, _ Context) ([]types.Locator, Status, error) {
	rule, ok := k.rules[ref.Host]
	if !ok {
		return nil, StatusNotApplicable, nil
	}
	url := ref.CanonicalURL
	if rule.Rewrite != nil {
		rewritten, ok := rule.Rewrite(ref)
		if !ok {
			return nil, StatusNotApplicable, nil
		}
		url = rewritten
	}
	return []types.Locator{{
		LocatorURL:     url,
		TransportHint:  types.TransportDirect,
		SourceResolver: k.Name(),
		Confidence:     rule.Confidence,
	}}, StatusOK, nil
}

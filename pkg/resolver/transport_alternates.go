package resolver

import (
	"context"
	"net/url"

	"github.com/cuemby/ingestengine/pkg/types"
)

// TransportAlternatesResolver yields archive.is and Wayback lookup
// candidates for any URL that might be paywalled. It never fetches
// anything itself — the Robust Fetcher decides whether these candidates
// are needed, so this resolver runs unconditionally rather than trying to
// predict paywall status up front.
type TransportAlternatesResolver struct {
	baseDescriptor
}

// NewTransportAlternatesResolver builds the archive.is/Wayback fallback
// resolver. It runs after known-source and feed-link resolvers (priority
// 50) since those tend to yield the canonical content directly.
func NewTransportAlternatesResolver() *TransportAlternatesResolver {
	return &TransportAlternatesResolver{baseDescriptor{name: "transport_alternates", priority: 50}}
}

func (t *TransportAlternatesResolver) Applies(ref types.Reference) bool {
	return ref.Kind == types.KindArticle || ref.Kind == types.KindNewsletter || ref.Kind == types.KindGenericURL
}

func (t *TransportAlternatesResolver) Locate(_ context.Context, ref types.Reference, _ Context) ([]types.Locator, Status, error) {
	escaped := url.QueryEscape(ref.CanonicalURL)
	return []types.Locator{
		{
			LocatorURL:     "https://archive.ph/newest/" + ref.CanonicalURL,
			TransportHint:  types.TransportArchive,
			SourceResolver: t.Name(),
			Confidence:     0.4,
		},
		{
			LocatorURL:     "https://archive.org/wayback/available?url=" + escaped,
			TransportHint:  types.TransportArchive,
			SourceResolver: t.Name(),
			Confidence:     0.35,
		},
	}, StatusOK, nil
}

package resolver

import (
	"context"
	"path"
	"strings"

	"github.com/cuemby/ingestengine/pkg/types"
)

// SearchProvider is the injected web-search collaborator used to
// resurrect a URL that has gone missing from its original host. The
// engine does not implement search itself; this seam exists so an
// operator can wire in whatever search API their deployment has access
// to.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// ResurrectionResolver derives a slug/title from the canonical URL and
// issues a web search for alternate hosts carrying the same content. It
// runs last (lowest priority) since it is the least precise family — a
// last resort once every more specific resolver has been tried.
type ResurrectionResolver struct {
	baseDescriptor
	search SearchProvider
}

// NewResurrectionResolver builds the resolver. A nil search provider
// makes it permanently not_applicable.
func NewResurrectionResolver(search SearchProvider) *ResurrectionResolver {
	return &ResurrectionResolver{
		baseDescriptor: baseDescriptor{name: "url_resurrection", priority: 90},
		search:         search,
	}
}

func (r *ResurrectionResolver) Applies(ref types.Reference) bool {
	return r.search != nil
}

func (r *ResurrectionResolver) Locate(ctx context.Context, ref types.Reference, _ Context) ([]types.Locator, Status, error) {
	slug := slugFromURL(ref.CanonicalURL)
	if slug == "" {
		return nil, StatusNotApplicable, nil
	}

	urls, err := r.search.Search(ctx, slug)
	if err != nil {
		return nil, StatusTransient, err
	}

	locators := make([]types.Locator, 0, len(urls))
	for _, u := range urls {
		locators = append(locators, types.Locator{
			LocatorURL:     u,
			TransportHint:  types.TransportDirect,
			SourceResolver: r.Name(),
			Confidence:     0.2,
		})
	}
	if len(locators) == 0 {
		return nil, StatusNotApplicable, nil
	}
	return locators, StatusOK, nil
}

// slugFromURL extracts a search-friendly phrase from a URL's final path
// segment, e.g. "/2026/07/why-observability-matters" -> "why observability
// matters".
func slugFromURL(rawURL string) string {
	segment := path.Base(strings.TrimSuffix(rawURL, "/"))
	segment = strings.TrimSuffix(segment, path.Ext(segment))
	segment = strings.ReplaceAll(segment, "-", " ")
	segment = strings.ReplaceAll(segment, "_", " ")
	return strings.TrimSpace(segment)
}

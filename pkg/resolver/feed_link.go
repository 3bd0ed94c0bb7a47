package resolver

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cuemby/ingestengine/pkg/types"
)

// FeedShowNotesFetcher retrieves the raw show-notes/description HTML for a
// podcast episode reference. It is an external collaborator: the engine
// does not own feed polling, only the resolver step that reads a feed
// entry already associated with the reference.
type FeedShowNotesFetcher interface {
	ShowNotesHTML(ctx context.Context, ref types.Reference) (string, error)
}

// FeedLinkResolver pulls a transcript (or full-article) link out of a
// podcast episode's show-notes HTML. It walks the parsed DOM with goquery
// rather than regexing raw HTML, since show-notes markup is arbitrary
// third-party HTML and anchor text is the only reliable signal.
type FeedLinkResolver struct {
	baseDescriptor
	fetcher FeedShowNotesFetcher
}

// NewFeedLinkResolver builds the resolver. fetcher supplies the episode's
// show-notes HTML; a nil fetcher makes the resolver permanently
// not_applicable rather than panic.
func NewFeedLinkResolver(fetcher FeedShowNotesFetcher) *FeedLinkResolver {
	return &FeedLinkResolver{
		baseDescriptor: baseDescriptor{name: "feed_link", priority: 20},
		fetcher:        fetcher,
	}
}

func (f *FeedLinkResolver) Applies(ref types.Reference) bool {
	return f.fetcher != nil && ref.Kind == types.KindPodcastEpisode
}

// transcriptAnchorHints is the set of anchor-text substrings (matched
// case-insensitively) that identify a transcript or show-notes link as
// opposed to a sponsor link, a player embed, or a social share button.
var transcriptAnchorHints = []string{"transcript", "show notes", "read more", "full episode", "episode notes"}

func (f *FeedLinkResolver) Locate(ctx context.Context, ref types.Reference, _ Context) ([]types.Locator, Status, error) {
	html, err := f.fetcher.ShowNotesHTML(ctx, ref)
	if err != nil {
		return nil, StatusTransient, err
	}
	if html == "" {
		return nil, StatusNotApplicable, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, StatusTransient, err
	}

	var locators []types.Locator
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		for _, hint := range transcriptAnchorHints {
			if strings.Contains(text, hint) {
				locators = append(locators, types.Locator{
					LocatorURL:     href,
					TransportHint:  types.TransportDirect,
					SourceResolver: f.Name(),
					Confidence:     0.6,
				})
				return
			}
		}
	})
	if len(locators) == 0 {
		return nil, StatusNotApplicable, nil
	}
	return locators, StatusOK, nil
}

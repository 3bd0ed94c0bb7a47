package quality

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cuemby/ingestengine/pkg/types"
)

// ReasonCode is a stable tag explaining a quality verdict, recorded on
// the Artifact's quality_reasons.
type ReasonCode string

const (
	ReasonTooSmall       ReasonCode = "too_small"
	ReasonThin           ReasonCode = "thin"
	ReasonPaywall        ReasonCode = "paywall"
	ReasonSoftNotFound   ReasonCode = "soft_404"
	ReasonJSBlocked      ReasonCode = "js_blocked"
	ReasonNoParagraph    ReasonCode = "no_paragraph"
	ReasonPaywallSignal  ReasonCode = "paywall_signal" // marginal-only: exactly one signal seen
)

// Config is the Verifier's rule-table configuration. Every floor is
// per-kind; a kind absent from the map falls back to a sane default.
type Config struct {
	MinBytes             map[types.Kind]int
	MinWords             map[types.Kind]int
	PaywallPatterns      []string
	SoftNotFoundPatterns map[string][]string // host -> patterns
	JSBlockPatterns      []string
	JSBlockWordExemption int
	MinParagraphChars    int
}

func (c Config) withDefaults() Config {
	if c.MinBytes == nil {
		c.MinBytes = map[types.Kind]int{}
	}
	if c.MinWords == nil {
		c.MinWords = map[types.Kind]int{}
	}
	if _, ok := c.MinWords[types.KindArticle]; !ok {
		c.MinWords[types.KindArticle] = 100
	}
	if _, ok := c.MinWords[types.KindPodcastEpisode]; !ok {
		c.MinWords[types.KindPodcastEpisode] = 500
	}
	if c.JSBlockWordExemption == 0 {
		c.JSBlockWordExemption = 5000
	}
	if c.MinParagraphChars == 0 {
		c.MinParagraphChars = 40
	}
	if len(c.JSBlockPatterns) == 0 {
		c.JSBlockPatterns = []string{"enable javascript", "please enable js", "requires javascript"}
	}
	return c
}

func (c Config) minBytesFor(kind types.Kind) int {
	if n, ok := c.MinBytes[kind]; ok {
		return n
	}
	return 500
}

func (c Config) minWordsFor(kind types.Kind) int {
	if n, ok := c.MinWords[kind]; ok {
		return n
	}
	return 100
}

// Verdict is the Verifier's classification of one artifact.
type Verdict struct {
	Quality   types.Quality
	Reasons   []string
	WordCount int
}

// Verifier implements the Quality Verifier (C6).
type Verifier struct {
	cfg Config
}

// New builds a Verifier from cfg.
func New(cfg Config) *Verifier {
	return &Verifier{cfg: cfg.withDefaults()}
}

// Verify classifies body (raw HTML bytes) for a reference of the given
// kind and host, returning good/marginal/bad with reason codes. The
// first hard ("bad") failure still runs every remaining check so the
// caller gets the complete diagnosis, not just the first one found.
func (v *Verifier) Verify(body []byte, kind types.Kind, host string) Verdict {
	var badReasons []string
	var marginalReasons []string

	if len(body) < v.cfg.minBytesFor(kind) {
		badReasons = append(badReasons, string(ReasonTooSmall))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return Verdict{Quality: types.QualityBad, Reasons: []string{string(ReasonTooSmall)}}
	}

	text := doc.Text()
	wordCount := len(strings.Fields(text))
	if wordCount < v.cfg.minWordsFor(kind) {
		badReasons = append(badReasons, string(ReasonThin))
	}

	lowerText := strings.ToLower(text)
	paywallHits := 0
	for _, p := range v.cfg.PaywallPatterns {
		if strings.Contains(lowerText, strings.ToLower(p)) {
			paywallHits++
		}
	}
	switch {
	case paywallHits >= 2:
		badReasons = append(badReasons, string(ReasonPaywall))
	case paywallHits == 1:
		marginalReasons = append(marginalReasons, string(ReasonPaywallSignal))
	}

	if patterns, ok := v.cfg.SoftNotFoundPatterns[host]; ok {
		for _, p := range patterns {
			if strings.Contains(lowerText, strings.ToLower(p)) {
				badReasons = append(badReasons, string(ReasonSoftNotFound))
				break
			}
		}
	}

	if wordCount <= v.cfg.JSBlockWordExemption {
		for _, p := range v.cfg.JSBlockPatterns {
			if strings.Contains(lowerText, strings.ToLower(p)) {
				badReasons = append(badReasons, string(ReasonJSBlocked))
				break
			}
		}
	}

	if !hasNonTrivialParagraph(doc, v.cfg.MinParagraphChars) {
		badReasons = append(badReasons, string(ReasonNoParagraph))
	}

	switch {
	case len(badReasons) > 0:
		return Verdict{Quality: types.QualityBad, Reasons: badReasons, WordCount: wordCount}
	case len(marginalReasons) > 0:
		return Verdict{Quality: types.QualityMarginal, Reasons: marginalReasons, WordCount: wordCount}
	default:
		return Verdict{Quality: types.QualityGood, WordCount: wordCount}
	}
}

// hasNonTrivialParagraph reports whether doc contains at least one <p>
// whose trimmed text is at least minChars long.
func hasNonTrivialParagraph(doc *goquery.Document, minChars int) bool {
	found := false
	doc.Find("p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(strings.TrimSpace(sel.Text())) >= minChars {
			found = true
			return false
		}
		return true
	})
	return found
}

package quality

import (
	"strings"
	"testing"

	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/stretchr/testify/assert"
)

func longParagraph(words int) string {
	return "<p>" + strings.Repeat("word ", words) + "</p>"
}

func TestVerifyGoodArticle(t *testing.T) {
	v := New(Config{})
	body := []byte("<html><body>" + longParagraph(200) + "</body></html>")
	got := v.Verify(body, types.KindArticle, "example.com")
	assert.Equal(t, types.QualityGood, got.Quality)
	assert.Empty(t, got.Reasons)
}

func TestVerifyTooSmall(t *testing.T) {
	v := New(Config{})
	got := v.Verify([]byte("<p>hi</p>"), types.KindArticle, "example.com")
	assert.Equal(t, types.QualityBad, got.Quality)
	assert.Contains(t, got.Reasons, string(ReasonTooSmall))
}

func TestVerifyThinWordCount(t *testing.T) {
	v := New(Config{})
	body := []byte("<html><body>" + longParagraph(20) + strings.Repeat("x", 500) + "</body></html>")
	got := v.Verify(body, types.KindArticle, "example.com")
	assert.Equal(t, types.QualityBad, got.Quality)
	assert.Contains(t, got.Reasons, string(ReasonThin))
}

func TestVerifyTwoPaywallSignalsIsBad(t *testing.T) {
	v := New(Config{PaywallPatterns: []string{"subscribe to continue", "this content is for subscribers"}})
	body := []byte("<html><body>" + longParagraph(200) + " subscribe to continue reading. this content is for subscribers only.</body></html>")
	got := v.Verify(body, types.KindArticle, "example.com")
	assert.Equal(t, types.QualityBad, got.Quality)
	assert.Contains(t, got.Reasons, string(ReasonPaywall))
}

func TestVerifyOnePaywallSignalIsMarginal(t *testing.T) {
	v := New(Config{PaywallPatterns: []string{"subscribe to continue", "this content is for subscribers"}})
	body := []byte("<html><body>" + longParagraph(200) + " subscribe to continue reading.</body></html>")
	got := v.Verify(body, types.KindArticle, "example.com")
	assert.Equal(t, types.QualityMarginal, got.Quality)
	assert.Contains(t, got.Reasons, string(ReasonPaywallSignal))
}

func TestVerifySoftNotFoundHostPattern(t *testing.T) {
	v := New(Config{SoftNotFoundPatterns: map[string][]string{"example.com": {"page not found"}}})
	body := []byte("<html><body>" + longParagraph(200) + " sorry, page not found on this server.</body></html>")
	got := v.Verify(body, types.KindArticle, "example.com")
	assert.Equal(t, types.QualityBad, got.Quality)
	assert.Contains(t, got.Reasons, string(ReasonSoftNotFound))
}

func TestVerifySoftNotFoundDoesNotApplyToOtherHosts(t *testing.T) {
	v := New(Config{SoftNotFoundPatterns: map[string][]string{"other.example": {"page not found"}}})
	body := []byte("<html><body>" + longParagraph(200) + " sorry, page not found on this server.</body></html>")
	got := v.Verify(body, types.KindArticle, "example.com")
	assert.NotContains(t, got.Reasons, string(ReasonSoftNotFound))
}

func TestVerifyJSBlockedBelowExemption(t *testing.T) {
	v := New(Config{JSBlockWordExemption: 5000})
	body := []byte("<html><body>" + longParagraph(150) + " please enable javascript to view this page.</body></html>")
	got := v.Verify(body, types.KindArticle, "example.com")
	assert.Equal(t, types.QualityBad, got.Quality)
	assert.Contains(t, got.Reasons, string(ReasonJSBlocked))
}

func TestVerifyJSBlockedExemptAboveWordCount(t *testing.T) {
	v := New(Config{JSBlockWordExemption: 100})
	body := []byte("<html><body>" + longParagraph(200) + " please enable javascript to view this page.</body></html>")
	got := v.Verify(body, types.KindArticle, "example.com")
	assert.NotContains(t, got.Reasons, string(ReasonJSBlocked))
}

func TestVerifyNoParagraphIsBad(t *testing.T) {
	v := New(Config{})
	body := []byte("<html><body><div>" + strings.Repeat("word ", 200) + "</div></body></html>")
	got := v.Verify(body, types.KindArticle, "example.com")
	assert.Equal(t, types.QualityBad, got.Quality)
	assert.Contains(t, got.Reasons, string(ReasonNoParagraph))
}

func TestVerifyPodcastEpisodeUsesTranscriptWordFloor(t *testing.T) {
	v := New(Config{})
	body := []byte("<html><body>" + longParagraph(200) + "</body></html>")
	got := v.Verify(body, types.KindPodcastEpisode, "example.com")
	assert.Equal(t, types.QualityBad, got.Quality)
	assert.Contains(t, got.Reasons, string(ReasonThin))
}

package fetch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/ingestengine/pkg/governor"
	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/cuemby/ingestengine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, allowlist []string) *Fetcher {
	t.Helper()
	gov := governor.New(governor.Config{DefaultRate: 1000, DefaultBurst: 1000, ConcurrentLeasesMax: 10})
	return New(Config{SSRFAllowlist: allowlist}, gov)
}

func TestFetchSucceedsAgainstLoopbackServerWithAllowlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(strings.Repeat("hello world ", 200)))
	}))
	defer srv.Close()

	host, _, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)

	f := newTestFetcher(t, []string{host, "127.0.0.1", "::1"})
	loc := types.Locator{LocatorURL: srv.URL, TransportHint: types.TransportDirect}

	res, o := f.Fetch(context.Background(), []types.Locator{loc}, time.Now())
	require.Equal(t, outcome.KindSuccess, o.Kind)
	assert.NotEmpty(t, res.Bytes)
	assert.Equal(t, types.ObtainedFromOrigin, res.ObtainedFrom)
}

func TestFetchBlocksLoopbackWithoutAllowlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newTestFetcher(t, nil)
	loc := types.Locator{LocatorURL: srv.URL, TransportHint: types.TransportDirect}

	_, o := f.Fetch(context.Background(), []types.Locator{loc}, time.Now())
	assert.Equal(t, outcome.KindPermanent, o.Kind)
	assert.Equal(t, outcome.ReasonSSRFBlocked, o.Reason)
}

func TestFetchClassifiesNotFoundAsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	host, _, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)

	f := newTestFetcher(t, []string{host, "127.0.0.1", "::1"})
	loc := types.Locator{LocatorURL: srv.URL, TransportHint: types.TransportMirror}

	_, o := f.Fetch(context.Background(), []types.Locator{loc}, time.Now())
	assert.Equal(t, outcome.KindPermanent, o.Kind)
}

func TestFetchRejectsDisallowedScheme(t *testing.T) {
	f := newTestFetcher(t, nil)
	loc := types.Locator{LocatorURL: "file:///etc/passwd", TransportHint: types.TransportDirect}

	_, o := f.Fetch(context.Background(), []types.Locator{loc}, time.Now())
	assert.Equal(t, outcome.KindPermanent, o.Kind)
}

func TestTransportsForHonorsHint(t *testing.T) {
	archive := transportsFor(types.Locator{TransportHint: types.TransportArchive})
	assert.Equal(t, []Transport{TransportArchiveIs, TransportWayback}, archive)

	browser := transportsFor(types.Locator{TransportHint: types.TransportBrowser})
	assert.Equal(t, []Transport{TransportBrowserRender}, browser)
}

func TestLooksLikeSoftNotFound(t *testing.T) {
	assert.True(t, looksLikeSoftNotFound([]byte("page not found"), 40))
	assert.False(t, looksLikeSoftNotFound([]byte(strings.Repeat("word ", 100)), 40))
	assert.False(t, looksLikeSoftNotFound(nil, 40))
}

func TestSSRFGuardBlocksPrivateRanges(t *testing.T) {
	guard := newSSRFGuard(nil)
	assert.True(t, guard.blocked(net.ParseIP("127.0.0.1")))
	assert.True(t, guard.blocked(net.ParseIP("10.0.0.5")))
	assert.True(t, guard.blocked(net.ParseIP("169.254.1.1")))
	assert.False(t, guard.blocked(net.ParseIP("93.184.216.34")))
}

func TestSSRFGuardAllowlistOverridesPrivateCheck(t *testing.T) {
	guard := newSSRFGuard([]string{"127.0.0.1"})
	assert.False(t, guard.blocked(net.ParseIP("127.0.0.1")))
}

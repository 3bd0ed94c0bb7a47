package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/ingestengine/pkg/governor"
	"github.com/cuemby/ingestengine/pkg/log"
	"github.com/cuemby/ingestengine/pkg/metrics"
	"github.com/cuemby/ingestengine/pkg/outcome"
	"github.com/cuemby/ingestengine/pkg/types"
)

var (
	errSSRFBlocked = errors.New("fetch: destination resolves to a blocked address range")
	errDNSSoftFail = errors.New("fetch: dns lookup failed")
)

// Transport identifies which cascade step produced (or attempted) a
// result; recorded on the Artifact as obtained_via_transport.
type Transport string

const (
	TransportDirectHTTP    Transport = "direct_http"
	TransportDirectCookies Transport = "direct_cookies"
	TransportBrowserRender Transport = "browser_render"
	TransportArchiveIs     Transport = "archive_is"
	TransportWayback       Transport = "wayback"
)

// Renderer is the injected headless-browser collaborator for JS-required
// or soft-paywalled pages. The engine ships no browser automation of its
// own (see DESIGN.md); noRenderer, the default when Config.Renderer is nil,
// always errors, so Fetch skips the browser_render step while it is in place.
type Renderer interface {
	Render(ctx context.Context, targetURL string) (body []byte, finalURL string, err error)
}

type noRenderer struct{}

func (noRenderer) Render(context.Context, string) ([]byte, string, error) {
	return nil, "", errors.New("fetch: no headless renderer configured")
}

// CredentialProvider supplies host-scoped cookies for the direct+cookies
// transport step.
type CredentialProvider interface {
	CookiesFor(host string) ([]*http.Cookie, bool)
}

type noCredentials struct{}

func (noCredentials) CookiesFor(string) ([]*http.Cookie, bool) { return nil, false }

// Timeouts bounds a single fetch attempt.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Total   time.Duration
}

// Config is the Fetcher's construction-time configuration.
type Config struct {
	UserAgent      string
	Timeouts       Timeouts
	SizeCap        int64
	RedirectCap    int
	SSRFAllowlist  []string // literal IPs permitted despite looking private (tests)
	Renderer       Renderer
	Credentials    CredentialProvider
	SoftNotFoundMinWords int // bodies at or below this word count are soft-404 candidates
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "ingestengine/1.0 (+https://github.com/cuemby/ingestengine)"
	}
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = 10 * time.Second
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 20 * time.Second
	}
	if c.Timeouts.Total == 0 {
		c.Timeouts.Total = 45 * time.Second
	}
	if c.SizeCap == 0 {
		c.SizeCap = 25 << 20 // 25MiB
	}
	if c.RedirectCap == 0 {
		c.RedirectCap = 10
	}
	if c.Renderer == nil {
		c.Renderer = noRenderer{}
	}
	if c.Credentials == nil {
		c.Credentials = noCredentials{}
	}
	if c.SoftNotFoundMinWords == 0 {
		c.SoftNotFoundMinWords = 40
	}
	return c
}

// Result is a successful fetch's raw output, prior to quality
// verification.
type Result struct {
	Bytes        []byte
	FinalURL     string
	Via          Transport
	ObtainedFrom types.ObtainedFrom
	Locator      types.Locator
	// SoftNotFound flags a 200 response whose body is implausibly short —
	// the Fetcher's own generic heuristic, independent of the Quality
	// Verifier's host-specific soft-404 pattern table.
	SoftNotFound bool
}

// Fetcher implements the Robust Fetcher (C5): a transport cascade over an
// ordered list of Locators, gated by a per-host Governor lease and
// defended against SSRF by resolving and re-validating every destination
// before connecting.
type Fetcher struct {
	cfg  Config
	gov  *governor.Governor
	ssrf ssrfGuard
	client *http.Client
}

// New builds a Fetcher. gov must not be nil — every attempt is gated by
// its per-host budget.
func New(cfg Config, gov *governor.Governor) *Fetcher {
	cfg = cfg.withDefaults()
	guard := newSSRFGuard(cfg.SSRFAllowlist)

	dialer := &net.Dialer{
		Timeout: cfg.Timeouts.Connect,
		Control: guard.dialerControl(),
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.Timeouts.Connect,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeouts.Total,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.RedirectCap {
				return fmt.Errorf("fetch: redirect cap (%d) exceeded", cfg.RedirectCap)
			}
			return nil
		},
	}

	return &Fetcher{cfg: cfg, gov: gov, ssrf: guard, client: client}
}

// Fetch drives the transport cascade over locators in order, honoring
// each Locator's TransportHint, and returns either a Result or a typed
// outcome.Outcome describing why every candidate failed.
func (f *Fetcher) Fetch(ctx context.Context, locators []types.Locator, now time.Time) (Result, outcome.Outcome) {
	fetchLog := log.WithComponent("fetcher")
	var earliestWait time.Time
	var lastTransient outcome.Outcome
	sawTransient := false
	sawOnlySSRF := true
	attempted := false

	for _, loc := range locators {
		if _, err := hostOf(loc.LocatorURL); err != nil {
			fetchLog.Warn().Str("locator_url", loc.LocatorURL).Err(err).Msg("unparseable locator")
			continue
		}

		for _, t := range transportsFor(loc) {
			if _, none := f.cfg.Renderer.(noRenderer); none && t == TransportBrowserRender {
				continue
			}
			timer := metrics.NewTimer()
			res, o := f.attempt(ctx, loc, t, now)
			timer.ObserveDurationVec(metrics.FetchDuration, string(t))
			metrics.FetchAttemptsTotal.WithLabelValues(string(t), string(o.Kind)).Inc()

			switch o.Kind {
			case outcome.KindSuccess:
				return res, o
			case outcome.KindRateLimited:
				attempted = true
				if earliestWait.IsZero() || o.RetryAfter.Before(earliestWait) {
					earliestWait = o.RetryAfter
				}
				continue
			case outcome.KindPermanent:
				attempted = true
				if o.Reason != outcome.ReasonSSRFBlocked {
					sawOnlySSRF = false
				}
				continue
			default:
				attempted = true
				sawOnlySSRF = false
				if o.Kind == outcome.KindTransient {
					lastTransient, sawTransient = o, true
				}
				continue
			}
		}
	}

	if !attempted {
		return Result{}, outcome.Permanent(outcome.ReasonNotFoundAfterAll, errors.New("fetch: no usable locators"))
	}
	if !earliestWait.IsZero() {
		return Result{}, outcome.RateLimited(earliestWait, "host budget exhausted across all candidates")
	}
	if sawTransient {
		return Result{}, lastTransient
	}
	if sawOnlySSRF {
		return Result{}, outcome.Permanent(outcome.ReasonSSRFBlocked, errSSRFBlocked)
	}
	return Result{}, outcome.Permanent(outcome.ReasonNotFoundAfterAll, errors.New("fetch: all transports exhausted"))
}

// transportsFor returns the cascade steps applicable to loc, honoring its
// TransportHint when one restricts the choice.
func transportsFor(loc types.Locator) []Transport {
	switch loc.TransportHint {
	case types.TransportArchive:
		return []Transport{TransportArchiveIs, TransportWayback}
	case types.TransportBrowser:
		return []Transport{TransportBrowserRender}
	case types.TransportMirror:
		return []Transport{TransportDirectHTTP}
	default:
		return []Transport{TransportDirectHTTP, TransportDirectCookies, TransportBrowserRender}
	}
}

func (f *Fetcher) attempt(ctx context.Context, loc types.Locator, t Transport, now time.Time) (Result, outcome.Outcome) {
	targetURL, withCookies := loc.LocatorURL, false
	switch t {
	case TransportArchiveIs:
		targetURL = "https://archive.ph/newest/" + loc.LocatorURL
	case TransportWayback:
		targetURL = "https://archive.org/wayback/available?url=" + url.QueryEscape(loc.LocatorURL)
	case TransportDirectCookies:
		withCookies = true
	}

	host, err := hostOf(targetURL)
	if err != nil {
		return Result{}, outcome.Permanent(outcome.ReasonDisallowedScheme, err)
	}

	if err := f.ssrf.checkHost(ctx, host); err != nil {
		if errors.Is(err, errDNSSoftFail) {
			return Result{}, outcome.Transient(outcome.ReasonDNSSoftFail, err)
		}
		return Result{}, outcome.Permanent(outcome.ReasonSSRFBlocked, err)
	}

	decision, lease := f.gov.Acquire(host, now)
	switch decision.Kind {
	case governor.DecisionWait:
		return Result{}, outcome.RateLimited(decision.WaitUntil, "governor token bucket exhausted")
	case governor.DecisionBlocked:
		return Result{}, outcome.RateLimited(decision.WaitUntil, "circuit breaker open")
	}

	switch t {
	case TransportBrowserRender:
		body, finalURL, err := f.cfg.Renderer.Render(ctx, targetURL)
		o := classifyRenderErr(err)
		lease.Release(o)
		if err != nil {
			return Result{}, o
		}
		return f.classifyBody(body, finalURL, t, loc), outcome.Success()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		lease.Release(outcome.Permanent(outcome.ReasonDisallowedScheme, err))
		return Result{}, outcome.Permanent(outcome.ReasonDisallowedScheme, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if withCookies {
		if cookies, ok := f.cfg.Credentials.CookiesFor(host); ok {
			for _, c := range cookies {
				req.AddCookie(c)
			}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		o := classifyTransportErr(err)
		lease.Release(o)
		return Result{}, o
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.SizeCap))
	if err != nil {
		o := outcome.Transient(outcome.ReasonTimeout, err)
		lease.Release(o)
		return Result{}, o
	}

	o := f.classifyStatus(resp)
	if o.IsFailure() {
		lease.Release(o)
		return Result{}, o
	}

	lease.Release(outcome.Success())
	return f.classifyBody(body, resp.Request.URL.String(), t, loc), outcome.Success()
}

func (f *Fetcher) classifyStatus(resp *http.Response) outcome.Outcome {
	switch {
	case resp.StatusCode == http.StatusOK:
		return outcome.Success()
	case resp.StatusCode == http.StatusTooManyRequests:
		return outcome.RateLimited(retryAfterFromHeader(resp), "server returned 429")
	case resp.StatusCode == http.StatusGone:
		return outcome.Permanent(outcome.ReasonGone, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == 451:
		return outcome.Permanent(outcome.ReasonUnavailableLegal, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return outcome.Permanent(outcome.ReasonNotFoundAfterAll, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return outcome.Transient(outcome.Reason5xx, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return outcome.Permanent(outcome.ReasonNotFoundAfterAll, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return outcome.Success()
	}
}

func (f *Fetcher) classifyBody(body []byte, finalURL string, t Transport, loc types.Locator) Result {
	return Result{
		Bytes:        body,
		FinalURL:     finalURL,
		Via:          t,
		ObtainedFrom: obtainedFromFor(t),
		Locator:      loc,
		SoftNotFound: looksLikeSoftNotFound(body, f.cfg.SoftNotFoundMinWords),
	}
}

func obtainedFromFor(t Transport) types.ObtainedFrom {
	switch t {
	case TransportArchiveIs:
		return types.ObtainedFromArchiveIs
	case TransportWayback:
		return types.ObtainedFromWayback
	default:
		return types.ObtainedFromOrigin
	}
}

func classifyTransportErr(err error) outcome.Outcome {
	if errors.Is(err, errSSRFBlocked) {
		return outcome.Permanent(outcome.ReasonSSRFBlocked, err)
	}
	return outcome.Transient(outcome.ReasonTimeout, err)
}

func classifyRenderErr(err error) outcome.Outcome {
	if err == nil {
		return outcome.Success()
	}
	return outcome.Transient(outcome.ReasonTimeout, err)
}

func retryAfterFromHeader(resp *http.Response) time.Time {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return time.Now().Add(time.Minute)
	}
	if secs, err := time.ParseDuration(raw + "s"); err == nil {
		return time.Now().Add(secs)
	}
	if when, err := http.ParseTime(raw); err == nil {
		return when
	}
	return time.Now().Add(time.Minute)
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch: parse locator url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("fetch: disallowed scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("fetch: empty host in %q", rawURL)
	}
	return host, nil
}

// looksLikeSoftNotFound is the Fetcher's own generic, host-agnostic
// soft-404 heuristic (very low word count); the Quality Verifier applies
// its own host-specific pattern table separately.
func looksLikeSoftNotFound(body []byte, minWords int) bool {
	text := strings.Fields(string(body))
	return len(text) > 0 && len(text) <= minWords
}

package types

import (
	"net/url"
	"strings"
)

// Canonicalize normalizes a raw URL the way the Index Store's canonical-url
// uniqueness constraint expects: lowercase scheme and host, http/https
// treated as equivalent, default ports dropped, and a bare trailing slash
// on the path stripped (but never the root "/"). It is idempotent:
// Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "https" {
		scheme = "http"
	}
	u.Scheme = scheme

	u.Host = strings.ToLower(u.Host)
	if i := strings.IndexByte(u.Host, ':'); i >= 0 {
		port := u.Host[i+1:]
		if port == "80" || port == "443" {
			u.Host = u.Host[:i]
		}
	}

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	u.Fragment = ""
	return u.String(), nil
}

// HostKey extracts the lowercase host (no port) a canonical URL belongs to,
// for Governor and Quality per-host lookups.
func HostKey(canonicalURL string) string {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return host
}

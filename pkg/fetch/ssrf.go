package fetch

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

// ssrfGuard centralizes the loopback/link-local/private address checks
// used both for the pre-attempt Locator resolution and for the dial-time
// revalidation. Allowlist entries are raw IP strings permitted despite
// looking private, so integration tests can point Locators at a local
// fixture server.
type ssrfGuard struct {
	allowlist map[string]struct{}
}

func newSSRFGuard(allowlistIPs []string) ssrfGuard {
	m := make(map[string]struct{}, len(allowlistIPs))
	for _, ip := range allowlistIPs {
		m[ip] = struct{}{}
	}
	return ssrfGuard{allowlist: m}
}

func (g ssrfGuard) blocked(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	addr = addr.Unmap()
	if _, allowed := g.allowlist[addr.String()]; allowed {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}

// checkHost resolves host and rejects if every resolved address (or any,
// conservatively) falls in a disallowed range. A host that fails to
// resolve at all is treated as a DNS soft-fail, not an SSRF block — the
// caller classifies that as transient.
func (g ssrfGuard) checkHost(ctx context.Context, host string) error {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return errDNSSoftFail
	}
	for _, a := range addrs {
		if g.blocked(a.IP) {
			return errSSRFBlocked
		}
	}
	return nil
}

// dialerControl returns a net.Dialer.Control callback that re-validates
// the address the runtime is about to connect to, independent of
// checkHost's earlier lookup. This closes the TOCTOU window between
// resolving a hostname for the SSRF check and actually dialing it.
func (g ssrfGuard) dialerControl() func(network, address string, c syscall.RawConn) error {
	return func(_, address string, _ syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return fmt.Errorf("fetch: dial address %q: %w", address, err)
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return fmt.Errorf("fetch: dial address %q: not a literal IP", address)
		}
		if g.blocked(ip) {
			return errSSRFBlocked
		}
		return nil
	}
}

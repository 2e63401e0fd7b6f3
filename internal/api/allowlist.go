package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
)

// Allowlist gates the read/query surface by client address. An empty
// allowlist permits everything.
type Allowlist struct {
	prefixes []netip.Prefix
}

// ParseAllowlist parses the configured CIDR strings. A bare address is
// accepted as a single-host prefix.
func ParseAllowlist(cidrs []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, s := range cidrs {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			addr, aerr := netip.ParseAddr(s)
			if aerr != nil {
				return nil, fmt.Errorf("invalid allowlist entry %q: %w", s, err)
			}
			prefix = netip.PrefixFrom(addr, addr.BitLen())
		}
		a.prefixes = append(a.prefixes, prefix)
	}
	return a, nil
}

// Permits reports whether the address may reach the API.
func (a *Allowlist) Permits(addr netip.Addr) bool {
	if len(a.prefixes) == 0 {
		return true
	}
	for _, prefix := range a.prefixes {
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

// Middleware rejects requests from non-matching client addresses with 403.
func (a *Allowlist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		addr, err := netip.ParseAddr(host)
		if err != nil || !a.Permits(addr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

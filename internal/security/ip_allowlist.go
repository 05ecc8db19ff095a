package security

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Allowlist is a set of client networks. The empty list allows every address.
type Allowlist []*net.IPNet

// ParseAllowlist reads CIDRs and bare addresses; a bare address admits just that host. Blank
// entries are skipped.
func ParseAllowlist(entries []string) (Allowlist, error) {
	var out Allowlist
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("allowlist entry %q: %w", entry, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Allows reports whether ip is inside one of the networks.
func (a Allowlist) Allows(ip net.IP) bool {
	if len(a) == 0 {
		return true
	}
	if ip == nil {
		return false
	}
	for _, n := range a {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Middleware answers 403 to clients whose remote address is outside the list.
func (a Allowlist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allows(remoteIP(r)) {
			WriteError(w, r, http.StatusForbidden, "forbidden", "client address is not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the real client IP address from the request.
// Supports X-Forwarded-For and X-Real-IP headers when behind a proxy.
//
// Only enable trustProxy behind a reverse proxy you control:
// X-Forwarded-For is attacker-settable on direct connections.
// trustedProxyCount is how many proxies at the right end of the
// X-Forwarded-For chain belong to you; the client IP sits immediately
// left of them.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromForwarded(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientIPFromForwarded picks the client IP out of an X-Forwarded-For
// chain of the form "client, proxy1, proxy2" where the rightmost
// trustedProxyCount entries are ours. Returns "" when the candidate is
// not a parseable IP, so spoofed garbage falls through to RemoteAddr.
func clientIPFromForwarded(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}
	idx := len(ips) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	candidate := strings.TrimSpace(ips[idx])
	if net.ParseIP(candidate) == nil {
		return ""
	}
	return candidate
}

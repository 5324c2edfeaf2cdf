package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller address from RemoteAddr. Proxy headers are not
// read here: the router runs chi's RealIP first, which already rewrote
// RemoteAddr from X-Forwarded-For or X-Real-IP.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	raw := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return raw
	}
	return addr.Unmap().String()
}

// ClientKey is the caller address used for rate limiting. IPv6 callers are
// grouped by /64 so one host cannot rotate addresses inside its own prefix
// to get a fresh coupon or login budget.
func ClientKey(r *http.Request) string {
	ip := ClientIP(r)
	addr, err := netip.ParseAddr(ip)
	if err != nil || addr.Is4() {
		return ip
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return ip
	}
	return prefix.String()
}

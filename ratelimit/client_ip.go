package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPFunc determines the client IP used for rate limiting.
//
// Returning an empty string means "unknown" and causes rate limiting to fail open.
type ClientIPFunc func(r *http.Request) string

// DefaultClientIP uses RemoteAddr only when it is a public address. Private and loopback
// peers are usually a reverse proxy, and limiting them would throttle every client at once.
func DefaultClientIP() ClientIPFunc {
	return func(r *http.Request) string {
		if a, ok := peerAddr(r); ok && isPublicAddr(a) {
			return a.String()
		}
		return ""
	}
}

// ClientIPFromForwardedHeaders reads the first public address from headers (in order) when
// the immediate peer is in trustedProxies. With no headers given, CF-Connecting-IP and
// X-Forwarded-For are used. Untrusted peers fall back to DefaultClientIP.
func ClientIPFromForwardedHeaders(trustedProxies []netip.Prefix, headers ...string) ClientIPFunc {
	if len(headers) == 0 {
		headers = []string{"CF-Connecting-IP", "X-Forwarded-For"}
	}
	fallback := DefaultClientIP()
	return func(r *http.Request) string {
		peer, ok := peerAddr(r)
		if !ok || !trusted(trustedProxies, peer) {
			return fallback(r)
		}
		for _, h := range headers {
			// Forwarded lists are comma-separated; the left-most entry is the original client.
			v, _, _ := strings.Cut(r.Header.Get(h), ",")
			if a, err := netip.ParseAddr(strings.TrimSpace(v)); err == nil && isPublicAddr(a) {
				return a.String()
			}
		}
		return fallback(r)
	}
}

func trusted(prefixes []netip.Prefix, a netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func peerAddr(r *http.Request) (netip.Addr, bool) {
	if r == nil || r.RemoteAddr == "" {
		return netip.Addr{}, false
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func isPublicAddr(a netip.Addr) bool {
	if !a.IsValid() {
		return false
	}
	return !(a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() ||
		a.IsMulticast() || a.IsUnspecified())
}

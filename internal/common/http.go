package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP derives the address the rate limiter keys sessions-per-caller on.
// Behind the RealIP middleware RemoteAddr is already the proxied client, but
// the forwarded headers are still honoured so the limiter keys correctly when
// that middleware is not mounted.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip := firstForwarded(r.Header.Get("X-Forwarded-For")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}

// firstForwarded picks the originating client out of an X-Forwarded-For
// chain; intermediaries append, so the first hop is the caller.
func firstForwarded(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if ip, _, found := strings.Cut(header, ","); found {
		return strings.TrimSpace(ip)
	}
	return header
}

package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller address from RemoteAddr. Forwarding headers are
// not consulted here; security.RealIP rewrites RemoteAddr for requests that
// arrive through a trusted proxy.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

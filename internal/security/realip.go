package security

import (
	"net/http"
	"net/netip"
	"strings"
)

// RealIP rewrites RemoteAddr from X-Forwarded-For or X-Real-IP, but only when
// the direct peer is one of TrustedProxies. X-Forwarded-For is walked from
// the right and the first address that is not a trusted proxy wins, so a
// client cannot choose its own address by prepending entries.
type RealIP struct {
	TrustedProxies []netip.Prefix
}

// Middleware implements the http.Handler middleware interface.
func (m RealIP) Middleware(next http.Handler) http.Handler {
	if len(m.TrustedProxies) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip, ok := m.clientAddr(r); ok {
			r.RemoteAddr = ip.String()
		}
		next.ServeHTTP(w, r)
	})
}

func (m RealIP) clientAddr(r *http.Request) (netip.Addr, bool) {
	peer, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok || !m.trusted(peer) {
		return netip.Addr{}, false
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return netip.Addr{}, false
		}
		addr = addr.Unmap()
		if i == 0 || !m.trusted(addr) {
			return addr, true
		}
	}

	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		if addr, err := netip.ParseAddr(v); err == nil {
			return addr.Unmap(), true
		}
	}
	return netip.Addr{}, false
}

func (m RealIP) trusted(addr netip.Addr) bool {
	for _, p := range m.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseRemoteAddr(remote string) (netip.Addr, bool) {
	remote = strings.TrimSpace(remote)
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

// Package middleware holds the gateway's request admission middleware:
// client address resolution and rate limiting.
package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"lms-gateway/pkg/config"
)

// ErrNoClientAddr is returned when no usable client address can be found.
var ErrNoClientAddr = errors.New("no client address")

// IPExtractor resolves the address a request is attributed to.
type IPExtractor interface {
	ExtractIP(r *http.Request) (netip.Addr, error)
}

// NewIPExtractor returns a TrustedProxyExtractor when cfg trusts proxies and
// a RemoteAddrExtractor otherwise.
func NewIPExtractor(cfg config.ProxyConfig) IPExtractor {
	if cfg.TrustProxy && len(cfg.Trusted) > 0 {
		return &TrustedProxyExtractor{trusted: cfg.Trusted}
	}
	return RemoteAddrExtractor{}
}

// RemoteAddrExtractor uses the socket peer address and ignores headers.
type RemoteAddrExtractor struct{}

func (RemoteAddrExtractor) ExtractIP(r *http.Request) (netip.Addr, error) {
	return parseRemoteAddr(r.RemoteAddr)
}

// TrustedProxyExtractor believes forwarding headers only when the peer is a
// trusted proxy.
//
// X-Forwarded-For is walked right to left and the first hop that is not
// itself a trusted proxy is the client; entries to its left are
// client-supplied and ignored. X-Real-IP is used when X-Forwarded-For is
// absent.
type TrustedProxyExtractor struct {
	trusted []netip.Prefix
}

func (e *TrustedProxyExtractor) ExtractIP(r *http.Request) (netip.Addr, error) {
	peer, err := parseRemoteAddr(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, err
	}
	if !e.isTrusted(peer) {
		return peer, nil
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				// a malformed hop ends the trusted chain
				break
			}
			addr = addr.Unmap()
			if !e.isTrusted(addr) {
				return addr, nil
			}
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if addr, err := netip.ParseAddr(realIP); err == nil {
			return addr.Unmap(), nil
		}
	}
	return peer, nil
}

func (e *TrustedProxyExtractor) isTrusted(addr netip.Addr) bool {
	for _, p := range e.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseRemoteAddr accepts "host:port", "[v6]:port" or a bare address.
func parseRemoteAddr(remote string) (netip.Addr, error) {
	if remote == "" {
		return netip.Addr{}, ErrNoClientAddr
	}
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrNoClientAddr, remote)
	}
	return addr.Unmap(), nil
}

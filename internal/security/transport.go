// Package security provides SSRF protection for outbound webhook requests.
//
// Webhook URLs are operator-supplied, so every connection is checked after
// DNS resolution against a blocklist of loopback, private, link-local and
// reserved ranges. Checking the dialed address (rather than the URL) also
// covers redirects and DNS rebinding.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// ErrBlockedAddress is returned when a connection targets a blocked range.
var ErrBlockedAddress = errors.New("ssrf: destination address is blocked")

// ErrTooManyRedirects is returned when the redirect limit is exceeded.
var ErrTooManyRedirects = errors.New("ssrf: too many redirects")

// BlockedPrefixes are the ranges no webhook connection may reach.
var BlockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// IsBlocked reports whether addr falls in any blocked prefix. IPv4-mapped
// IPv6 addresses are unmapped first.
func IsBlocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() {
		return true
	}
	for _, p := range BlockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// dialControl rejects the connection once the resolver has picked an
// address. It runs for every dial, including those made while following
// redirects.
func dialControl(_ string, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("ssrf: invalid address %q: %w", address, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("ssrf: unparseable address %q: %w", host, err)
	}
	if IsBlocked(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
	}
	return nil
}

// NewSafeTransport returns an http.Transport whose dialer refuses blocked
// destinations.
func NewSafeTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   dialControl,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	}
	return transport
}

// CheckRedirect returns an http.Client CheckRedirect function that caps the
// number of redirects followed.
func CheckRedirect(maxRedirects int) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		return nil
	}
}

// NewSafeHTTPClient builds the http.Client used by webhook senders. When
// allowPrivate is set (local development only) the blocklist is skipped.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int, allowPrivate bool) *http.Client {
	var transport http.RoundTripper = NewSafeTransport()
	if allowPrivate {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: CheckRedirect(maxRedirects),
	}
}

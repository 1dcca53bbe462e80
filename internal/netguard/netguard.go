// Package netguard validates outbound URLs before the gateway fetches them
// on a client's behalf (the media pipeline, used by the fetch_image tool),
// per spec §4.8's SSRF rejection list.
//
// Grounded on haasonsaas-nexus/internal/net/ssrf (ValidatePublicHostname /
// IsPrivateIPAddress shape), reimplemented over net.IP's built-in
// classification methods instead of hand-rolled octet arithmetic, and
// extended with a DNS-pinned Transport so the resolved address used for
// validation is the same one the outbound connection actually dials
// (defeats DNS-rebinding between check and connect).
package netguard

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// BlockedError marks a URL rejected by outbound policy.
type BlockedError struct {
	URL    string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("outbound request to %q blocked: %s", e.URL, e.Reason)
}

var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// cloudMetadataIP is the well-known link-local metadata endpoint used by
// every major cloud provider (AWS/GCP/Azure/DigitalOcean).
var cloudMetadataIP = net.ParseIP("169.254.169.254")

// isDisallowedIP implements the spec §4.8 rejection list: loopback,
// private (RFC1918), link-local (including cloud metadata), multicast,
// and unspecified addresses.
func isDisallowedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		// 100.64.0.0/10 carrier-grade NAT, not covered by net.IP.IsPrivate.
		if ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127 {
			return true
		}
	}
	return ip.Equal(cloudMetadataIP)
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return host
}

func isBlockedHostname(host string) bool {
	if blockedHostnames[host] {
		return true
	}
	for _, suf := range blockedHostSuffixes {
		if strings.HasSuffix(host, suf) {
			return true
		}
	}
	return false
}

// Resolver is the subset of net.Resolver used here, narrowed for testing.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard validates and dials outbound connections, refusing anything that
// resolves to an address on the §4.8 rejection list.
type Guard struct {
	Resolver Resolver
}

// New builds a Guard using the system resolver.
func New() *Guard {
	return &Guard{Resolver: net.DefaultResolver}
}

// ValidateURL checks scheme and hostname shape before any network I/O: only
// http/https are allowed, and the hostname must not be a blocked literal.
func (g *Guard) ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &BlockedError{URL: rawURL, Reason: "unparseable URL"}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, &BlockedError{URL: rawURL, Reason: fmt.Sprintf("scheme %q not allowed", scheme)}
	}
	host := normalizeHost(u.Hostname())
	if host == "" {
		return nil, &BlockedError{URL: rawURL, Reason: "empty hostname"}
	}
	if isBlockedHostname(host) {
		return nil, &BlockedError{URL: rawURL, Reason: "blocked hostname"}
	}
	if ip := net.ParseIP(host); ip != nil && isDisallowedIP(ip) {
		return nil, &BlockedError{URL: rawURL, Reason: "literal IP address is not publicly routable"}
	}
	return u, nil
}

// ResolvePinned resolves host and returns the first address that passes the
// rejection list, or an error if every resolved address is disallowed (DNS
// rebinding cannot smuggle a private address through, since every candidate
// is checked, not just the first).
func (g *Guard) ResolvePinned(ctx context.Context, host string) (net.IP, error) {
	addrs, err := g.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if !isDisallowedIP(a.IP) {
			return a.IP, nil
		}
	}
	return nil, &BlockedError{URL: host, Reason: "all resolved addresses are disallowed"}
}

// Transport returns an http.RoundTripper that re-validates and pins the DNS
// resolution for every dial. Redirects are refused by Client, not by the
// Transport itself.
func (g *Guard) Transport() *http.Transport {
	dialer := &net.Dialer{}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip, err := g.ResolvePinned(ctx, host)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		},
	}
}

// Client returns an *http.Client wired to Transport with redirects disabled.
func (g *Guard) Client() *http.Client {
	return &http.Client{
		Transport: g.Transport(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"tailscale.com/client/tailscale"
)

// WhoisClient is the subset of tailscale.com/client/tailscale used here,
// narrowed for testability.
type WhoisClient interface {
	WhoIs(ctx context.Context, remoteAddr string) (*tailscale.WhoIsResponse, error)
}

// LocalWhoisVerifier verifies Tailscale Serve proxy headers against a
// `tailscale whois` lookup performed via the local tsnet API, replacing the
// original implementation's shelling out to the tailscale CLI binary.
type LocalWhoisVerifier struct {
	Client  WhoisClient
	Timeout time.Duration
}

// Verify implements TailscaleVerifier. It requires: the connection is from
// loopback (the Tailscale Serve proxy always connects from 127.0.0.1), the
// Serve proxy headers are present, and the whois login for the forwarded
// client IP matches the header-claimed login.
func (v *LocalWhoisVerifier) Verify(headers http.Header, remoteIP net.IP) (string, bool) {
	if !isLoopback(remoteIP) {
		return "", false
	}
	if !hasTailscaleProxyHeaders(headers) {
		return "", false
	}
	userLogin := firstNonEmptyHeader(headers, "Tailscale-User-Login", "X-Tailscale-User")
	if userLogin == "" {
		return "", false
	}
	clientIP := firstForwardedFor(headers.Get("X-Forwarded-For"))
	if clientIP == "" {
		return "", false
	}

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	who, err := v.Client.WhoIs(ctx, clientIP)
	if err != nil || who == nil || who.UserProfile == nil {
		return "", false
	}
	whoisLogin := who.UserProfile.LoginName
	if whoisLogin == "" || !strings.EqualFold(normalizeLogin(whoisLogin), normalizeLogin(userLogin)) {
		return "", false
	}
	return whoisLogin, true
}

func hasTailscaleProxyHeaders(h http.Header) bool {
	return h.Get("X-Forwarded-For") != "" && h.Get("X-Forwarded-Proto") != "" && h.Get("X-Forwarded-Host") != ""
}

func firstNonEmptyHeader(h http.Header, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(h.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

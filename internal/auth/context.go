// Package auth implements connection-level authentication (token, password,
// Tailscale header verification) and per-method authorization for the
// gateway control protocol.
//
// Ported from the gateway's Rust authorization core (timing-safe credential
// comparison, Tailscale whois verification, local-direct detection) and
// generalized to the Go method catalog in pkg/protocol.
package auth

import (
	"net"
	"net/http"
	"strings"
)

// Role is the connection-level principal role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleWrite    Role = "write"
	RoleRead     Role = "read"
	RoleNode     Role = "node"
)

// roleRank orders roles admin > operator > write > read for the non-operator
// comparison branch of Authorize (spec §4.2 step 5). Node is not ranked; it
// is handled exclusively by the node-only gate in step 2.
var roleRank = map[Role]int{
	RoleAdmin:    4,
	RoleOperator: 3,
	RoleWrite:    2,
	RoleRead:     1,
}

// ClientIdentity identifies the calling client for idempotency scoping.
type ClientIdentity struct {
	ID string
}

// ConnectionContext is the authenticated identity attached to a control
// connection for the lifetime of that connection.
type ConnectionContext struct {
	Role     Role
	Scopes   []string
	DeviceID string
	Client   ClientIdentity
}

// HasScope reports whether ctx carries scope, honoring the wildcard rules
// from spec §4.2 step 4: exact match; "operator.*" and "operator.admin" act
// as wildcards; "operator.write" satisfies "operator.read".
func (c ConnectionContext) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope || s == "operator.*" || s == "operator.admin" {
			return true
		}
		if scope == "operator.read" && s == "operator.write" {
			return true
		}
	}
	return false
}

// TimingSafeEqual performs a constant-time comparison: it first checks
// length, then accumulates XOR over every byte regardless of an early
// mismatch, matching original_source's timing_safe_eq exactly.
func TimingSafeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var out byte
	for i := range a {
		out |= a[i] ^ b[i]
	}
	return out == 0
}

// TimingSafeEqualString is the string convenience form.
func TimingSafeEqualString(a, b string) bool {
	return TimingSafeEqual([]byte(a), []byte(b))
}

// Mode selects how gateway connections authenticate.
type Mode string

const (
	ModeToken    Mode = "token"
	ModePassword Mode = "password"
)

// FailureReason enumerates why authorize_gateway_connect rejected a request.
type FailureReason string

const (
	FailureTokenMissingConfig    FailureReason = "token_missing_config"
	FailureTokenMissing          FailureReason = "token_missing"
	FailureTokenMismatch         FailureReason = "token_mismatch"
	FailurePasswordMissingConfig FailureReason = "password_missing_config"
	FailurePasswordMissing       FailureReason = "password_missing"
	FailurePasswordMismatch      FailureReason = "password_mismatch"
	FailureUnauthorized          FailureReason = "unauthorized"
)

// Message returns the human-readable failure text, matching
// original_source's GatewayAuthFailure::message().
func (f FailureReason) Message() string {
	switch f {
	case FailureTokenMissingConfig:
		return "unauthorized: gateway token not configured on gateway (set gateway.auth.token)"
	case FailureTokenMissing:
		return "unauthorized: token missing"
	case FailureTokenMismatch:
		return "unauthorized: token mismatch"
	case FailurePasswordMissingConfig:
		return "unauthorized: gateway password not configured on gateway (set gateway.auth.password)"
	case FailurePasswordMissing:
		return "unauthorized: password missing"
	case FailurePasswordMismatch:
		return "unauthorized: password mismatch"
	default:
		return "unauthorized"
	}
}

// Method identifies how a connect attempt succeeded.
type Method string

const (
	MethodToken     Method = "token"
	MethodPassword  Method = "password"
	MethodTailscale Method = "tailscale"
)

// ResolvedGatewayAuth is the gateway's own configured auth policy.
type ResolvedGatewayAuth struct {
	Mode           Mode
	Token          string
	Password       string
	AllowTailscale bool
}

// ConnectResult is the outcome of authorize_gateway_connect.
type ConnectResult struct {
	OK     bool
	Method Method
	User   string
	Reason FailureReason
}

// AuthorizeConnect mirrors the gateway's token/password + Tailscale connect
// authorization. Tailscale verification is tried only for requests that are
// not local-direct; every request is still checked against the token or
// password.
func AuthorizeConnect(
	cfg ResolvedGatewayAuth,
	token, password string,
	tokenProvided, passwordProvided bool,
	headers http.Header,
	remoteAddr net.Addr,
	trustedProxies []string,
	tsVerifier TailscaleVerifier,
) ConnectResult {
	host, _, _ := net.SplitHostPort(remoteAddr.String())
	ip := net.ParseIP(host)

	if cfg.AllowTailscale && tsVerifier != nil && !isLocalDirectRequest(ip, headers, trustedProxies) {
		if ts, ok := tsVerifier.Verify(headers, ip); ok {
			return ConnectResult{OK: true, Method: MethodTailscale, User: ts}
		}
	}

	switch cfg.Mode {
	case ModePassword:
		if cfg.Password == "" {
			return ConnectResult{Reason: FailurePasswordMissingConfig}
		}
		if !passwordProvided {
			return ConnectResult{Reason: FailurePasswordMissing}
		}
		if TimingSafeEqualString(cfg.Password, password) {
			return ConnectResult{OK: true, Method: MethodPassword}
		}
		return ConnectResult{Reason: FailurePasswordMismatch}
	default: // ModeToken
		if cfg.Token == "" {
			return ConnectResult{Reason: FailureTokenMissingConfig}
		}
		if !tokenProvided {
			return ConnectResult{Reason: FailureTokenMissing}
		}
		if TimingSafeEqualString(cfg.Token, token) {
			return ConnectResult{OK: true, Method: MethodToken}
		}
		return ConnectResult{Reason: FailureTokenMismatch}
	}
}

// TailscaleVerifier abstracts "tailscale whois" verification so it can be
// backed by tailscale.com/client/tailscale in production and a fake in tests.
type TailscaleVerifier interface {
	// Verify returns the confirmed login and true if headers+ip pass
	// Tailscale Serve proxy verification.
	Verify(headers http.Header, remoteIP net.IP) (login string, ok bool)
}

func isLoopback(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		return v4[0] == 127
	}
	return false
}

func hasProxyHeaders(h http.Header) bool {
	return h.Get("X-Forwarded-For") != "" || h.Get("X-Forwarded-Proto") != "" || h.Get("X-Forwarded-Host") != ""
}

func isTrustedProxy(remote string, trusted []string) bool {
	if remote == "" || len(trusted) == 0 {
		return false
	}
	for _, p := range trusted {
		if normalizeIP(p) == normalizeIP(remote) {
			return true
		}
	}
	return false
}

func normalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	return strings.TrimPrefix(raw, "::ffff:")
}

func resolveClientIP(remote string, forwardedFor, realIP string, trusted []string) string {
	if !isTrustedProxy(remote, trusted) {
		return normalizeIP(remote)
	}
	if ff := firstForwardedFor(forwardedFor); ff != "" {
		return ff
	}
	return normalizeIP(realIP)
}

func firstForwardedFor(v string) string {
	parts := strings.Split(v, ",")
	if len(parts) == 0 {
		return ""
	}
	return normalizeIP(parts[0])
}

func isLoopbackAddrString(ip string) bool {
	return ip == "127.0.0.1" || strings.HasPrefix(ip, "127.") || ip == "::1" || strings.HasPrefix(ip, "::ffff:127.")
}

// isLocalDirectRequest mirrors original_source's is_local_direct_request:
// a request is "local direct" (AuthorizeConnect skips Tailscale verification
// for it; the token or password is still checked)
// only when the resolved client IP is loopback, the Host header names
// localhost/127.0.0.1/::1 or a *.ts.net name, and any forwarded-for header
// present came from a trusted proxy.
func isLocalDirectRequest(remoteIP net.IP, headers http.Header, trusted []string) bool {
	if remoteIP == nil {
		return false
	}
	remote := remoteIP.String()
	forwardedFor := headers.Get("X-Forwarded-For")
	realIP := headers.Get("X-Real-Ip")
	hasForwarded := forwardedFor != "" || realIP != ""

	host := hostName(headers.Get("Host"))
	hostIsLocal := host == "localhost" || host == "127.0.0.1" || host == "::1"
	hostIsTailscale := strings.HasSuffix(host, ".ts.net")

	clientIP := resolveClientIP(remote, forwardedFor, realIP, trusted)
	if clientIP == "" || !isLoopbackAddrString(clientIP) {
		return false
	}
	return (hostIsLocal || hostIsTailscale) && (!hasForwarded || isTrustedProxy(remote, trusted))
}

func hostName(hostHeader string) string {
	h := strings.TrimSpace(hostHeader)
	if strings.HasPrefix(h, "[") {
		if end := strings.Index(h, "]"); end >= 0 {
			return h[1:end]
		}
	}
	if idx := strings.Index(h, ":"); idx >= 0 {
		return h[:idx]
	}
	return h
}

// IsLoopbackRequest is the HTTP-only loopback check used outside the
// WS connect handshake (e.g. for local CLI helper endpoints).
func IsLoopbackRequest(remoteIP net.IP, headers http.Header) bool {
	return isLoopback(remoteIP) && !hasProxyHeaders(headers)
}

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/auth"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// HandlerFunc is the signature every registered RPC method implements.
type HandlerFunc func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// idempotentMethods dedupe on (caller, sessionKey, idempotencyKey) per spec
// §4.9: a repeated key returns the first call's response instead of
// re-running the handler.
var idempotentMethods = map[string]bool{
	protocol.MethodAgent:      true,
	protocol.MethodChatSend:   true,
	protocol.MethodSend:       true,
	protocol.MethodNodeInvoke: true,
}

// idempotencyTTL bounds how long a cached response is replayed before the
// key is eligible for reuse, preventing unbounded growth from long-lived
// connections that mint a fresh key per call.
const idempotencyTTL = 15 * time.Minute

type idempotencyEntry struct {
	response protocol.ResponseFrame
	storedAt time.Time
}

// MethodRouter dispatches inbound RequestFrames to registered handlers,
// enforcing the connect handshake, the §4.2 authorization gate, and §4.9
// idempotency before any handler runs.
type MethodRouter struct {
	server   *Server
	handlers map[string]HandlerFunc

	mu    sync.Mutex
	idemp map[string]idempotencyEntry
}

// NewMethodRouter creates a router bound to s, used to read connect-time
// auth configuration and rate limiting.
func NewMethodRouter(s *Server) *MethodRouter {
	return &MethodRouter{
		server:   s,
		handlers: make(map[string]HandlerFunc),
		idemp:    make(map[string]idempotencyEntry),
	}
}

// Register binds a handler to a method name, overwriting any prior handler.
func (r *MethodRouter) Register(method string, handler HandlerFunc) {
	r.handlers[method] = handler
}

// Has reports whether a handler is registered for method.
func (r *MethodRouter) Has(method string) bool {
	_, ok := r.handlers[method]
	return ok
}

// Dispatch runs the full request pipeline: rate limit, lookup, the §4.2
// authorization gate (skipped only for "connect" itself, which establishes
// the identity the gate checks), then §4.9 idempotency, then the handler.
func (r *MethodRouter) Dispatch(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	if r.server.rateLimiter != nil && !r.server.rateLimiter.Allow(client.CallerKey()) {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrRateLimited, "rate limit exceeded"))
		return
	}

	handler, ok := r.handlers[req.Method]
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrMethodNotFound, "unknown method: "+req.Method))
		return
	}

	if req.Method != protocol.MethodConnect {
		if !client.Authenticated() {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "connect required before "+req.Method))
			return
		}
		if err := auth.Authorize(req.Method, client.Identity()); err != nil {
			slog.Warn("gateway: authorization denied", "method", req.Method, "client", client.ID(), "error", err)
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, err.Error()))
			return
		}
	}

	if idempotentMethods[req.Method] && req.IdempotencyKey != "" {
		r.dispatchIdempotent(ctx, client, req, handler)
		return
	}

	handler(ctx, client, req)
}

type idempotentParams struct {
	SessionKey string `json:"sessionKey"`
}

func (r *MethodRouter) idempotencyCacheKey(client *Client, req *protocol.RequestFrame) string {
	var p idempotentParams
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &p)
	}
	return client.CallerKey() + "|" + p.SessionKey + "|" + req.IdempotencyKey
}

func (r *MethodRouter) dispatchIdempotent(ctx context.Context, client *Client, req *protocol.RequestFrame, handler HandlerFunc) {
	key := r.idempotencyCacheKey(client, req)

	r.mu.Lock()
	r.evictExpiredLocked()
	if entry, ok := r.idemp[key]; ok {
		r.mu.Unlock()
		replay := entry.response
		replay.ID = req.ID
		client.SendResponse(replay)
		return
	}
	r.mu.Unlock()

	var captured *protocol.ResponseFrame
	client.setIdemIntercept(func(resp protocol.ResponseFrame) {
		if captured == nil {
			c := resp
			captured = &c
		}
	})
	handler(ctx, client, req)
	client.setIdemIntercept(nil)

	if captured != nil && captured.OK {
		r.mu.Lock()
		r.idemp[key] = idempotencyEntry{response: *captured, storedAt: time.Now()}
		r.mu.Unlock()
	}
}

// evictExpiredLocked drops idempotency entries past their TTL. Caller must
// hold r.mu.
func (r *MethodRouter) evictExpiredLocked() {
	now := time.Now()
	for k, e := range r.idemp {
		if now.Sub(e.storedAt) > idempotencyTTL {
			delete(r.idemp, k)
		}
	}
}

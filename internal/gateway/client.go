package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goclaw/internal/auth"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

// writeQueueSize bounds how many outbound frames can be buffered for a slow
// client before the connection is dropped instead of blocking the server.
const writeQueueSize = 256

// Client is a single authenticated (or pre-auth) WebSocket control
// connection. It owns the read loop and a buffered write pump so a slow
// reader on the far end never blocks the goroutine that produced the frame.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	remoteAddr net.Addr
	headers    http.Header

	send chan []byte
	done chan struct{}
	once sync.Once

	mu            sync.Mutex
	authCtx       auth.ConnectionContext
	authenticated bool
	idemIntercept func(protocol.ResponseFrame)
}

// NewClient wraps an upgraded WebSocket connection. r is the original
// upgrade request, kept for AuthorizeConnect's header/remote-addr checks.
func NewClient(conn *websocket.Conn, s *Server, r *http.Request) *Client {
	c := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, writeQueueSize),
		done:   make(chan struct{}),
	}
	if r != nil {
		c.headers = r.Header
		if addr, err := net.ResolveTCPAddr("tcp", r.RemoteAddr); err == nil {
			c.remoteAddr = addr
		}
	}
	return c
}

// ID returns the connection's opaque identifier, used as the idempotency
// and rate-limit scoping key before a caller identity is established.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the resolved remote address captured at upgrade time,
// or nil if it could not be parsed.
func (c *Client) RemoteAddr() net.Addr { return c.remoteAddr }

// Headers returns the HTTP headers captured at upgrade time.
func (c *Client) Headers() http.Header { return c.headers }

// SetIdentity records the connection-level identity established by a
// successful "connect" handshake.
func (c *Client) SetIdentity(ctx auth.ConnectionContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authCtx = ctx
	c.authenticated = true
}

// Identity returns the connection's established identity. Zero value until
// SetIdentity has been called.
func (c *Client) Identity() auth.ConnectionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authCtx
}

// Authenticated reports whether SetIdentity has run for this connection.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// CallerKey returns the identity used to scope idempotency and per-caller
// rate limiting: the authenticated device/client ID once known, else the
// raw connection ID.
func (c *Client) CallerKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated && c.authCtx.Client.ID != "" {
		return c.authCtx.Client.ID
	}
	return c.id
}

// Run starts the write pump and blocks reading frames until the connection
// closes or ctx is cancelled, dispatching each request frame through the
// server's MethodRouter.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()

	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		frameType, err := protocol.ParseFrameType(raw)
		if err != nil {
			continue
		}
		if frameType != protocol.FrameTypeRequest {
			continue
		}
		var req protocol.RequestFrame
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		if c.server.router != nil {
			c.server.router.Dispatch(ctx, c, &req)
		}
	}
}

// SendResponse writes resp to the connection's write queue, first giving
// any idempotency interceptor installed by the router a chance to observe
// the final payload.
func (c *Client) SendResponse(resp protocol.ResponseFrame) {
	c.mu.Lock()
	interceptor := c.idemIntercept
	c.mu.Unlock()
	if interceptor != nil {
		interceptor(resp)
	}
	c.write(resp)
}

// SendEvent pushes an unsolicited event frame to the client.
func (c *Client) SendEvent(evt protocol.EventFrame) {
	c.write(evt)
}

func (c *Client) write(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("gateway: marshal frame failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		slog.Warn("gateway: client write queue full, dropping connection", "client", c.id)
		c.Close()
	}
}

// setIdemIntercept installs (or clears, with nil) a hook that observes every
// ResponseFrame sent to this client, used by the router to cache idempotent
// method results without changing the handler contract.
func (c *Client) setIdemIntercept(fn func(protocol.ResponseFrame)) {
	c.mu.Lock()
	c.idemIntercept = fn
	c.mu.Unlock()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close tears down the connection exactly once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

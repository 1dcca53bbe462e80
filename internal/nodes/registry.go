// Package nodes implements NodeRegistry: live-connection tracking and the
// node.invoke remote-command round trip (spec §4.4), layered on top of the
// pairing package's PairedNode records.
//
// Grounded on haasonsaas-nexus/internal/nodes/registry.go's Registry shape
// (sync.RWMutex + in-memory online-nodes cache over a persistent Store) and
// its audit-log pattern, adapted to the spec's PendingInvoke one-shot
// responder round trip instead of nexus's direct command dispatch.
package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw/internal/gatewayerr"
	"github.com/nextlevelbuilder/goclaw/internal/pairing"
)

// LiveNodeSession tracks a connected, handshake-complete node (spec §3).
// It refers to the paired node by id only — PairedNode (in pairing.Store)
// remains the single authoritative record, per spec §9's "arena/index"
// cyclic-ownership guidance.
type LiveNodeSession struct {
	NodeID       string
	ConnID       string
	Commands     map[string]bool
	Capabilities map[string]bool
	ConnectedAt  time.Time
}

// InvokeResult is what a node returns for node.invoke.result.
type InvokeResult struct {
	OK      bool
	Payload interface{}
	Error   string
}

// PendingInvoke is a one-shot round trip awaiting a node's response.
type PendingInvoke struct {
	InvokeID string
	NodeID   string
	Command  string
	deadline time.Time
	done     chan InvokeResult
	once     sync.Once
}

// resolve delivers result exactly once; subsequent calls are a no-op
// (spec §3 PendingInvoke invariant: exactly one resolution).
func (p *PendingInvoke) resolve(result InvokeResult) {
	p.once.Do(func() {
		p.done <- result
		close(p.done)
	})
}

// EventSink delivers a node.invoke.request (or audit/broadcast) event to a
// specific live connection. Implemented by the gateway dispatcher.
type EventSink interface {
	SendToConn(connID string, event string, payload interface{}) error
}

// AuditLogEntry records a sensitive node action for operator review,
// supplementing the spec per original_source (see SPEC_FULL.md §3).
type AuditLogEntry struct {
	Timestamp time.Time
	Actor     string
	Action    string
	SubjectID string
	Detail    string
}

// Registry tracks live node sessions and in-flight invokes over a
// pairing.Store of paired nodes.
type Registry struct {
	mu       sync.RWMutex
	pairing  *pairing.Store
	live     map[string]*LiveNodeSession // nodeID -> session
	pending  map[string]*PendingInvoke   // invokeID -> invoke
	audit    []AuditLogEntry
	sink     EventSink
	logger   *slog.Logger
}

// NewRegistry constructs a Registry backed by a pairing store (node subject
// kind) and an event sink used to push node.invoke.request frames.
func NewRegistry(pairingStore *pairing.Store, sink EventSink, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		pairing: pairingStore,
		live:    make(map[string]*LiveNodeSession),
		pending: make(map[string]*PendingInvoke),
		sink:    sink,
		logger:  logger,
	}
}

// NodeConnected registers a LiveNodeSession once a node completes
// handshake: the paired-node record must exist (spec §3 LiveNodeSession
// invariant).
func (r *Registry) NodeConnected(nodeID, connID string, commands, capabilities []string) error {
	if _, ok := r.pairing.Get(nodeID); !ok {
		return gatewayerr.NotPaired(fmt.Sprintf("node %s is not paired", nodeID))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cmdSet := make(map[string]bool, len(commands))
	for _, c := range commands {
		cmdSet[c] = true
	}
	capSet := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = true
	}
	r.live[nodeID] = &LiveNodeSession{
		NodeID: nodeID, ConnID: connID, Commands: cmdSet, Capabilities: capSet,
		ConnectedAt: time.Now(),
	}
	r.logAudit("system", "node.connected", nodeID, connID)
	return nil
}

// NodeDisconnected removes the live session and resolves any pending
// invokes addressed to it as unavailable, per spec §3's "deleted on ...
// connection closed" invariant.
func (r *Registry) NodeDisconnected(nodeID string) {
	r.mu.Lock()
	delete(r.live, nodeID)
	var toResolve []*PendingInvoke
	for id, p := range r.pending {
		if p.NodeID == nodeID {
			toResolve = append(toResolve, p)
			delete(r.pending, id)
		}
	}
	r.logAudit("system", "node.disconnected", nodeID, "")
	r.mu.Unlock()

	for _, p := range toResolve {
		p.resolve(InvokeResult{OK: false, Error: "node connection closed"})
	}
}

// IsLive reports whether nodeID currently has a completed live session.
func (r *Registry) IsLive(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.live[nodeID]
	return ok
}

// commandAllowed checks the spec §4.4 validity rule: a command is valid
// iff it is both advertised by the live node and present in the paired
// node's allow-list (modeled here as the paired node's scopes).
func (r *Registry) commandAllowed(nodeID, command string) bool {
	r.mu.RLock()
	live, ok := r.live[nodeID]
	r.mu.RUnlock()
	if !ok || !live.Commands[command] {
		return false
	}
	sub, ok := r.pairing.Get(nodeID)
	if !ok {
		return false
	}
	for _, s := range sub.Scopes {
		if s == command || s == "*" {
			return true
		}
	}
	return false
}

// DefaultInvokeTimeout is used when a node.invoke request omits timeoutMs
// (spec §4.4 step 4, and §5's "default 30 s for node invocations").
const DefaultInvokeTimeout = 30 * time.Second

// Invoke implements the 5-step node.invoke protocol from spec §4.4.
func (r *Registry) Invoke(ctx context.Context, nodeID, command string, idempotencyKey string, params interface{}, timeout time.Duration) (interface{}, error) {
	if !r.IsLive(nodeID) {
		return nil, gatewayerr.Unavailable(fmt.Sprintf("node %s is not connected", nodeID))
	}
	if !r.commandAllowed(nodeID, command) {
		return nil, gatewayerr.Forbidden(fmt.Sprintf("command %q not allowed for node %s", command, nodeID))
	}
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}

	invokeID := uuid.NewString()
	pending := &PendingInvoke{
		InvokeID: invokeID,
		NodeID:   nodeID,
		Command:  command,
		deadline: time.Now().Add(timeout),
		done:     make(chan InvokeResult, 1),
	}

	r.mu.Lock()
	live, ok := r.live[nodeID]
	if !ok {
		r.mu.Unlock()
		return nil, gatewayerr.Unavailable(fmt.Sprintf("node %s is not connected", nodeID))
	}
	r.pending[invokeID] = pending
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, invokeID)
		r.mu.Unlock()
	}()

	if err := r.sink.SendToConn(live.ConnID, "node.invoke.request", map[string]interface{}{
		"id":             invokeID,
		"command":        command,
		"idempotencyKey": idempotencyKey,
		"paramsJSON":     params,
		"timeoutMs":      timeout.Milliseconds(),
	}); err != nil {
		return nil, gatewayerr.Unavailable(fmt.Sprintf("failed to deliver invoke to node %s: %v", nodeID, err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pending.done:
		if !res.OK {
			return nil, gatewayerr.New(gatewayerr.CodeProviderError, res.Error)
		}
		return res.Payload, nil
	case <-timer.C:
		return nil, gatewayerr.Unavailable("node invoke timed out")
	case <-ctx.Done():
		return nil, gatewayerr.Cancelled()
	}
}

// ResolveInvokeResult implements the node-side completion of node.invoke:
// the dispatcher must already have verified the caller is paired and that
// callerNodeID matches the result's nodeId before calling this. Late or
// duplicate results (invoke already resolved/removed) are silently ignored
// per spec §4.4.
func (r *Registry) ResolveInvokeResult(invokeID, callerNodeID string, result InvokeResult) {
	r.mu.Lock()
	pending, ok := r.pending[invokeID]
	if !ok || pending.NodeID != callerNodeID {
		r.mu.Unlock()
		return // late, duplicate, or mismatched node — silently ignored
	}
	delete(r.pending, invokeID)
	r.mu.Unlock()

	pending.resolve(result)
}

// ListLive returns a snapshot of all currently live node sessions.
func (r *Registry) ListLive() []LiveNodeSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LiveNodeSession, 0, len(r.live))
	for _, s := range r.live {
		out = append(out, *s)
	}
	return out
}

func (r *Registry) logAudit(actor, action, subjectID, detail string) {
	r.audit = append(r.audit, AuditLogEntry{
		Timestamp: time.Now(), Actor: actor, Action: action, SubjectID: subjectID, Detail: detail,
	})
	r.logger.Debug("node audit", "actor", actor, "action", action, "subject", subjectID)
}

// AuditLog returns the in-memory audit trail (node.audit.list method).
func (r *Registry) AuditLog() []AuditLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AuditLogEntry, len(r.audit))
	copy(out, r.audit)
	return out
}

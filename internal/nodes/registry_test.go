package nodes

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/pairing"
)

type fakeSink struct {
	delivered chan map[string]interface{}
	fail      bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{delivered: make(chan map[string]interface{}, 1)}
}

func (f *fakeSink) SendToConn(connID string, event string, payload interface{}) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.delivered <- payload.(map[string]interface{})
	return nil
}

func pairedNode(t *testing.T, store *pairing.Store, nodeID string, scopes []string) {
	t.Helper()
	req, err := store.Request(nodeID, []string{"node"}, scopes, pairing.RequestOptions{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, _, err := store.Approve(req.RequestID, nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}
}

func TestInvokeRoundTripSuccess(t *testing.T) {
	dir := t.TempDir()
	store, err := pairing.NewStore(filepath.Join(dir, "nodes.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pairedNode(t, store, "n1", []string{"ping"})

	sink := newFakeSink()
	reg := NewRegistry(store, sink, nil)
	if err := reg.NodeConnected("n1", "conn-1", []string{"ping"}, nil); err != nil {
		t.Fatalf("NodeConnected: %v", err)
	}

	resultCh := make(chan error, 1)
	go func() {
		_, err := reg.Invoke(context.Background(), "n1", "ping", "idem-1", map[string]string{"x": "1"}, time.Second)
		resultCh <- err
	}()

	payload := <-sink.delivered
	invokeID := payload["id"].(string)
	if payload["command"] != "ping" {
		t.Fatalf("expected command ping, got %v", payload["command"])
	}
	reg.ResolveInvokeResult(invokeID, "n1", InvokeResult{OK: true, Payload: "pong"})

	if err := <-resultCh; err != nil {
		t.Fatalf("expected invoke success, got %v", err)
	}
}

func TestInvokeRejectsUnadvertisedCommand(t *testing.T) {
	dir := t.TempDir()
	store, _ := pairing.NewStore(filepath.Join(dir, "nodes.json"))
	pairedNode(t, store, "n1", []string{"ping"})

	reg := NewRegistry(store, newFakeSink(), nil)
	_ = reg.NodeConnected("n1", "conn-1", []string{"ping"}, nil)

	if _, err := reg.Invoke(context.Background(), "n1", "shell.exec", "idem", nil, time.Second); err == nil {
		t.Fatalf("expected rejection for a command the node did not advertise")
	}
}

func TestInvokeRejectsCommandOutsideAllowList(t *testing.T) {
	dir := t.TempDir()
	store, _ := pairing.NewStore(filepath.Join(dir, "nodes.json"))
	pairedNode(t, store, "n1", []string{"ping"}) // scopes do not include shell.exec

	reg := NewRegistry(store, newFakeSink(), nil)
	_ = reg.NodeConnected("n1", "conn-1", []string{"ping", "shell.exec"}, nil)

	if _, err := reg.Invoke(context.Background(), "n1", "shell.exec", "idem", nil, time.Second); err == nil {
		t.Fatalf("expected rejection for a command outside the paired allow-list")
	}
}

func TestInvokeTimesOutWhenNodeNeverResponds(t *testing.T) {
	dir := t.TempDir()
	store, _ := pairing.NewStore(filepath.Join(dir, "nodes.json"))
	pairedNode(t, store, "n1", []string{"ping"})

	reg := NewRegistry(store, newFakeSink(), nil)
	_ = reg.NodeConnected("n1", "conn-1", []string{"ping"}, nil)

	_, err := reg.Invoke(context.Background(), "n1", "ping", "idem", nil, 10*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestInvokeFailsWhenNodeNotLive(t *testing.T) {
	dir := t.TempDir()
	store, _ := pairing.NewStore(filepath.Join(dir, "nodes.json"))
	pairedNode(t, store, "n1", []string{"ping"})

	reg := NewRegistry(store, newFakeSink(), nil)
	if _, err := reg.Invoke(context.Background(), "n1", "ping", "idem", nil, time.Second); err == nil {
		t.Fatalf("expected unavailable error for a node with no live session")
	}
}

func TestNodeDisconnectedResolvesPendingInvokesAsFailed(t *testing.T) {
	dir := t.TempDir()
	store, _ := pairing.NewStore(filepath.Join(dir, "nodes.json"))
	pairedNode(t, store, "n1", []string{"ping"})

	reg := NewRegistry(store, newFakeSink(), nil)
	_ = reg.NodeConnected("n1", "conn-1", []string{"ping"}, nil)

	resultCh := make(chan error, 1)
	go func() {
		_, err := reg.Invoke(context.Background(), "n1", "ping", "idem", nil, time.Second)
		resultCh <- err
	}()
	time.Sleep(10 * time.Millisecond) // let Invoke register the pending entry
	reg.NodeDisconnected("n1")

	if err := <-resultCh; err == nil {
		t.Fatalf("expected invoke to fail once the node disconnects")
	}
}

func TestResolveInvokeResultIgnoresMismatchedNode(t *testing.T) {
	dir := t.TempDir()
	store, _ := pairing.NewStore(filepath.Join(dir, "nodes.json"))
	pairedNode(t, store, "n1", []string{"ping"})
	pairedNode(t, store, "n2", []string{"ping"})

	sink := newFakeSink()
	reg := NewRegistry(store, sink, nil)
	_ = reg.NodeConnected("n1", "conn-1", []string{"ping"}, nil)
	_ = reg.NodeConnected("n2", "conn-2", []string{"ping"}, nil)

	resultCh := make(chan error, 1)
	go func() {
		_, err := reg.Invoke(context.Background(), "n1", "ping", "idem", nil, 50*time.Millisecond)
		resultCh <- err
	}()
	payload := <-sink.delivered
	invokeID := payload["id"].(string)

	// A result claiming to be from n2 for n1's invoke must be ignored.
	reg.ResolveInvokeResult(invokeID, "n2", InvokeResult{OK: true, Payload: "spoofed"})

	if err := <-resultCh; err == nil {
		t.Fatalf("expected the invoke to time out, not accept the mismatched result")
	}
}

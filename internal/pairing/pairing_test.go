package pairing

import (
	"path/filepath"
	"testing"
)

// S2: pairing happy path — request → pending, approve → plaintext token,
// verify with the right token → ok, verify with the wrong token → not ok.
func TestPairingHappyPathScenarioS2(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "nodes.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	req, err := store.Request("n1", []string{"node"}, []string{"x"}, RequestOptions{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}

	_, token, err := store.Approve(req.RequestID, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty plaintext token")
	}

	if err := store.Verify("n1", token, 0); err != nil {
		t.Fatalf("expected verify ok, got %v", err)
	}
	if err := store.Verify("n1", "wrong", 0); err == nil {
		t.Fatalf("expected verify failure for wrong token")
	}
}

func TestPairingRotateInvalidatesOldToken(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "devices.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	req, _ := store.Request("d1", []string{"device"}, []string{"a"}, RequestOptions{})
	_, oldToken, _ := store.Approve(req.RequestID, nil)

	newToken, err := store.Rotate("d1", nil)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := store.Verify("d1", newToken, 0); err != nil {
		t.Fatalf("new token should verify: %v", err)
	}
	if err := store.Verify("d1", oldToken, 0); err == nil {
		t.Fatalf("old token must not verify after rotation")
	}
}

func TestPairingRequestDeduplicatesPendingByClient(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(filepath.Join(dir, "devices.json"))
	opts := RequestOptions{ClientID: "c1"}
	r1, _ := store.Request("d1", nil, nil, opts)
	r2, _ := store.Request("d1", nil, nil, opts)
	if r1.RequestID != r2.RequestID {
		t.Fatalf("expected deduplicated pending request for same subject+client")
	}
}

func TestPairingRevokePreventsVerification(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(filepath.Join(dir, "nodes.json"))
	req, _ := store.Request("n1", nil, nil, RequestOptions{})
	_, token, _ := store.Approve(req.RequestID, nil)
	if err := store.Revoke("n1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := store.Verify("n1", token, 0); err != VerifyRevoked {
		t.Fatalf("expected VerifyRevoked, got %v", err)
	}
}

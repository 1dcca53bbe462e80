// Package pairing implements the device/node pairing state machine shared
// by DevicePairing and NodePairing (spec §3/§4.3): pending → approved |
// rejected | expired, hash-only token persistence, and rotation.
//
// Grounded on haasonsaas-nexus/internal/pairing/store.go's atomic JSON file
// store and haasonsaas-nexus/internal/nodes/types.go's PairingToken shape,
// generalized so the same implementation backs both device and node
// pairing (the spec calls the two "structurally similar").
package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a PairingRequest's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// DefaultRequestTTL bounds how long a pending request survives before a
// sweep moves it to expired. No value is pinned by the spec; this matches
// haasonsaas-nexus's PendingTTL default.
const DefaultRequestTTL = time.Hour

// Request is spec §3's PairingRequest.
type Request struct {
	RequestID       string   `json:"request_id"`
	SubjectID       string   `json:"subject_id"`
	PublicKey       string   `json:"public_key,omitempty"`
	RequestedRoles  []string `json:"requested_roles"`
	RequestedScopes []string `json:"requested_scopes"`
	DisplayName     string   `json:"display_name,omitempty"`
	Platform        string   `json:"platform,omitempty"`
	ClientID        string   `json:"client_id,omitempty"`
	ChatID          string   `json:"chat_id,omitempty"`
	RemoteIP        string   `json:"remote_ip,omitempty"`
	Silent          bool     `json:"silent,omitempty"`
	IsRepair        bool     `json:"is_repair,omitempty"`
	CreatedAtMs     int64    `json:"created_at_ms"`
	Status          Status   `json:"status"`
}

// Token is one issued credential for a PairedSubject. Only TokenHash is
// ever persisted; the plaintext is returned exactly once at issuance or
// rotation (spec §3 PairedDevice/PairedNode invariant).
type Token struct {
	TokenHash       string   `json:"token_hash"`
	Scopes          []string `json:"scopes"`
	IssuedAtMs      int64    `json:"issued_at_ms"`
	LastRotatedAtMs int64    `json:"last_rotated_at_ms"`
	RevokedAtMs     int64    `json:"revoked_at_ms,omitempty"`
}

// Subject is spec §3's PairedDevice/PairedNode.
type Subject struct {
	SubjectID   string   `json:"subject_id"`
	Roles       []string `json:"roles"`
	Scopes      []string `json:"scopes"`
	PublicKey   string   `json:"public_key,omitempty"`
	Tokens      []Token  `json:"tokens"`
	PairedAtMs  int64    `json:"paired_at_ms"`
	LastSeenMs  int64    `json:"last_seen_ms"`
}

// VerifyFailure enumerates typed token-verify outcomes (spec §4.3).
type VerifyFailure string

const (
	VerifyNotPaired VerifyFailure = "not_paired"
	VerifyInvalid   VerifyFailure = "invalid"
	VerifyExpired   VerifyFailure = "expired"
	VerifyRevoked   VerifyFailure = "revoked"
)

func (f VerifyFailure) Error() string { return string(f) }

// state is the on-disk shape persisted atomically.
type state struct {
	Requests map[string]*Request `json:"requests"`
	Subjects map[string]*Subject `json:"subjects"`
}

// Store holds pairing requests and paired subjects for one subject kind
// (device or node), persisted atomically to a single JSON file.
type Store struct {
	mu       sync.RWMutex
	path     string
	ttl      time.Duration
	st       state
	nowFn    func() time.Time
	tokenGen func() ([]byte, error)
}

// NewStore loads (or initializes) a pairing store rooted at path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		ttl:  DefaultRequestTTL,
		st:   state{Requests: map[string]*Request{}, Subjects: map[string]*Subject{}},
		nowFn: time.Now,
		tokenGen: func() ([]byte, error) {
			b := make([]byte, 32) // 256 bits, exceeds the spec's 128-bit floor
			_, err := rand.Read(b)
			return b, err
		},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load pairing store: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse pairing store: %w", err)
	}
	if st.Requests == nil {
		st.Requests = map[string]*Request{}
	}
	if st.Subjects == nil {
		st.Subjects = map[string]*Subject{}
	}
	s.st = st
	return nil
}

// saveLocked atomically persists the store: write to a temp file in the
// same directory, fsync, then rename over the target (matches the
// teacher's sessions.Manager persistence idiom).
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".pairing-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *Store) now() int64 { return s.nowFn().UnixMilli() }

// Request creates a new pending PairingRequest for subjectID, unless one is
// already pending for the same (subjectID, clientID) pair (spec §3
// invariant: at most one pending request per subject+client).
func (s *Store) Request(subjectID string, roles, scopes []string, opts RequestOptions) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepExpiredLocked()

	for _, r := range s.st.Requests {
		if r.Status == StatusPending && r.SubjectID == subjectID && r.ClientID == opts.ClientID {
			return r, nil
		}
	}

	req := &Request{
		RequestID:       uuid.NewString(),
		SubjectID:       subjectID,
		PublicKey:       opts.PublicKey,
		RequestedRoles:  roles,
		RequestedScopes: scopes,
		DisplayName:     opts.DisplayName,
		Platform:        opts.Platform,
		ClientID:        opts.ClientID,
		ChatID:          opts.ChatID,
		RemoteIP:        opts.RemoteIP,
		Silent:          opts.Silent,
		IsRepair:        opts.IsRepair,
		CreatedAtMs:     s.now(),
		Status:          StatusPending,
	}
	s.st.Requests[req.RequestID] = req
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return req, nil
}

// RequestOptions carries the optional PairingRequest fields.
type RequestOptions struct {
	PublicKey   string
	DisplayName string
	Platform    string
	ClientID    string
	ChatID      string
	RemoteIP    string
	Silent      bool
	IsRepair    bool
}

// PolicyFilter optionally narrows an approved request's roles/scopes; nil
// means "grant exactly what was requested".
type PolicyFilter func(requestedRoles, requestedScopes []string) (roles, scopes []string)

// Approve transitions a pending request to approved, mints a token (scoped
// to the intersection of requested and policy-allowed roles/scopes), and
// returns the plaintext token exactly once.
func (s *Store) Approve(requestID string, policy PolicyFilter) (subject *Subject, plaintextToken string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepExpiredLocked()

	req, ok := s.st.Requests[requestID]
	if !ok {
		return nil, "", fmt.Errorf("pairing request %s not found", requestID)
	}
	if req.Status != StatusPending {
		return nil, "", fmt.Errorf("pairing request %s is not pending (status=%s)", requestID, req.Status)
	}

	roles, scopes := req.RequestedRoles, req.RequestedScopes
	if policy != nil {
		roles, scopes = policy(req.RequestedRoles, req.RequestedScopes)
	}

	raw, err := s.tokenGen()
	if err != nil {
		return nil, "", fmt.Errorf("generate pairing token: %w", err)
	}
	plaintext := hex.EncodeToString(raw)
	hash := hashToken(plaintext)

	now := s.now()
	tok := Token{TokenHash: hash, Scopes: scopes, IssuedAtMs: now, LastRotatedAtMs: now}

	sub, exists := s.st.Subjects[req.SubjectID]
	if !exists {
		sub = &Subject{SubjectID: req.SubjectID, PairedAtMs: now}
		s.st.Subjects[req.SubjectID] = sub
	}
	sub.Roles = roles
	sub.Scopes = scopes
	if req.PublicKey != "" {
		sub.PublicKey = req.PublicKey
	}
	sub.Tokens = append(sub.Tokens, tok)
	sub.LastSeenMs = now

	req.Status = StatusApproved

	if err := s.saveLocked(); err != nil {
		return nil, "", err
	}
	return sub, plaintext, nil
}

// Reject transitions a pending request to rejected.
func (s *Store) Reject(requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.st.Requests[requestID]
	if !ok {
		return fmt.Errorf("pairing request %s not found", requestID)
	}
	if req.Status != StatusPending {
		return fmt.Errorf("pairing request %s is not pending", requestID)
	}
	req.Status = StatusRejected
	return s.saveLocked()
}

// sweepExpiredLocked moves any pending request older than ttl to expired.
// Caller must hold s.mu.
func (s *Store) sweepExpiredLocked() {
	cutoff := s.now() - s.ttl.Milliseconds()
	for _, r := range s.st.Requests {
		if r.Status == StatusPending && r.CreatedAtMs < cutoff {
			r.Status = StatusExpired
		}
	}
}

// ListPending returns all currently pending requests (after sweeping
// expired ones).
func (s *Store) ListPending() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepExpiredLocked()
	out := make([]*Request, 0)
	for _, r := range s.st.Requests {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out
}

// Get returns a subject by id.
func (s *Store) Get(subjectID string) (*Subject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.st.Subjects[subjectID]
	return sub, ok
}

// Verify checks a plaintext token against subjectID's paired tokens. On
// success it updates LastSeenMs and persists. rotationInterval of zero
// disables the "not older than rotation interval" check.
func (s *Store) Verify(subjectID, plaintextToken string, rotationInterval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.st.Subjects[subjectID]
	if !ok {
		return VerifyNotPaired
	}
	hash := hashToken(plaintextToken)
	now := s.now()
	for i := range sub.Tokens {
		t := &sub.Tokens[i]
		if t.TokenHash != hash {
			continue
		}
		if t.RevokedAtMs != 0 {
			return VerifyRevoked
		}
		if rotationInterval > 0 {
			age := time.Duration(now-t.IssuedAtMs) * time.Millisecond
			if age > rotationInterval {
				return VerifyExpired
			}
		}
		sub.LastSeenMs = now
		_ = s.saveLocked()
		return nil
	}
	return VerifyInvalid
}

// Rotate issues a fresh token for subjectID, invalidating the prior one.
// If newScopes is nil the prior scopes are kept.
func (s *Store) Rotate(subjectID string, newScopes []string) (plaintext string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.st.Subjects[subjectID]
	if !ok {
		return "", VerifyNotPaired
	}
	// Revoke all previously-active tokens — only the newly rotated one verifies.
	now := s.now()
	for i := range sub.Tokens {
		if sub.Tokens[i].RevokedAtMs == 0 {
			sub.Tokens[i].RevokedAtMs = now
		}
	}

	raw, err := s.tokenGen()
	if err != nil {
		return "", fmt.Errorf("generate rotated token: %w", err)
	}
	plaintext = hex.EncodeToString(raw)
	scopes := newScopes
	if scopes == nil {
		scopes = sub.Scopes
	}
	sub.Tokens = append(sub.Tokens, Token{
		TokenHash:       hashToken(plaintext),
		Scopes:          scopes,
		IssuedAtMs:      now,
		LastRotatedAtMs: now,
	})
	sub.Scopes = scopes
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return plaintext, nil
}

// Revoke marks every active token for subjectID revoked, preventing future
// verification.
func (s *Store) Revoke(subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.st.Subjects[subjectID]
	if !ok {
		return VerifyNotPaired
	}
	now := s.now()
	for i := range sub.Tokens {
		if sub.Tokens[i].RevokedAtMs == 0 {
			sub.Tokens[i].RevokedAtMs = now
		}
	}
	return s.saveLocked()
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

package file

import (
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/pairing"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// FilePairingStore adapts pairing.Store (one JSON file per subject kind) to
// store.PairingStore.
type FilePairingStore struct {
	svc *pairing.Store
}

// NewFilePairingStore wraps an already-loaded pairing.Store.
func NewFilePairingStore(svc *pairing.Store) *FilePairingStore {
	return &FilePairingStore{svc: svc}
}

// IsPaired reports whether subjectID holds any active, unrevoked token.
// channel is accepted for interface symmetry with multi-namespace pairing
// backends; this store keeps one namespace per process (one JSON file per
// subject kind), so it is otherwise unused here.
func (f *FilePairingStore) IsPaired(subjectID, channel string) bool {
	sub, ok := f.svc.Get(subjectID)
	if !ok {
		return false
	}
	for _, t := range sub.Tokens {
		if t.RevokedAtMs == 0 {
			return true
		}
	}
	return false
}

// RequestPairing creates (or reuses) a pending request for subjectID and
// returns its request ID as the operator-facing pairing code.
func (f *FilePairingStore) RequestPairing(subjectID, channel, chatID, agentKey string) (string, error) {
	req, err := f.svc.Request(subjectID, []string{"operator." + agentKey}, nil, pairing.RequestOptions{
		ClientID: channel,
		ChatID:   chatID,
	})
	if err != nil {
		return "", err
	}
	return req.RequestID, nil
}

func (f *FilePairingStore) ListPending() []store.PairingRequestSummary {
	reqs := f.svc.ListPending()
	out := make([]store.PairingRequestSummary, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, store.PairingRequestSummary{
			RequestID:       r.RequestID,
			SubjectID:       r.SubjectID,
			DisplayName:     r.DisplayName,
			Platform:        r.Platform,
			ClientID:        r.ClientID,
			ChatID:          r.ChatID,
			RequestedRoles:  r.RequestedRoles,
			RequestedScopes: r.RequestedScopes,
			CreatedAt:       time.UnixMilli(r.CreatedAtMs),
		})
	}
	return out
}

func (f *FilePairingStore) Approve(requestID string) (string, string, error) {
	sub, token, err := f.svc.Approve(requestID, nil)
	if err != nil {
		return "", "", err
	}
	return sub.SubjectID, token, nil
}

func (f *FilePairingStore) Reject(requestID string) error {
	return f.svc.Reject(requestID)
}

func (f *FilePairingStore) Revoke(subjectID string) error {
	return f.svc.Revoke(subjectID)
}

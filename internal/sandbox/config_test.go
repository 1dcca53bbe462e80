package sandbox

import (
	"context"
	"testing"
)

func TestDefaultConfigIsOffByDefault(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Mode != ModeOff {
		t.Fatalf("expected default mode off, got %q", cfg.Mode)
	}
	if cfg.WorkspaceAccess != AccessRW {
		t.Fatalf("expected default workspace access rw, got %q", cfg.WorkspaceAccess)
	}
	if cfg.Scope != ScopeSession {
		t.Fatalf("expected default scope session, got %q", cfg.Scope)
	}
}

func TestDockerManagerGetReturnsErrSandboxDisabledWhenModeOff(t *testing.T) {
	mgr := NewDockerManager(DefaultConfig())
	_, err := mgr.Get(context.Background(), "k", "/tmp")
	if err != ErrSandboxDisabled {
		t.Fatalf("expected ErrSandboxDisabled, got %v", err)
	}
}

func TestSanitizeContainerSuffixStripsUnsafeChars(t *testing.T) {
	got := sanitizeContainerSuffix("session:abc/123")
	for _, r := range got {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			t.Fatalf("unexpected character %q in sanitized suffix %q", r, got)
		}
	}
}

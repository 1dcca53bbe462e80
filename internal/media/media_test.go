package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

type stubVisionProvider struct {
	response string
	calls    int
}

func (s *stubVisionProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.calls++
	return &providers.ChatResponse{Content: s.response}, nil
}

func (s *stubVisionProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: s.response}, nil
}

func (s *stubVisionProvider) DefaultModel() string { return "stub-vision" }
func (s *stubVisionProvider) Name() string         { return "stub" }

func TestStoreWritesUnderTTLTaggedDir(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, time.Hour)

	path, err := p.Store([]byte("hello"), ".jpg")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected stored content %q, got %q", "hello", data)
	}
	if filepath.Ext(path) != ".jpg" {
		t.Fatalf("expected .jpg extension, got %s", path)
	}
	if filepath.Dir(filepath.Dir(path)) != filepath.Clean(dir) {
		t.Fatalf("expected file under %s, got %s", dir, path)
	}
}

// Fetch delegates straight to the netguard SSRF guard, which rejects
// loopback/private addresses outright — including httptest's own server,
// since it listens on 127.0.0.1. This confirms Fetch never bypasses that
// check rather than exercising a live download.
func TestFetchBlocksLoopbackAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("unreachable"))
	}))
	defer srv.Close()

	p := New(t.TempDir(), time.Hour)
	if _, err := p.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected loopback fetch to be blocked")
	}
}

func TestFetchRejectsBadScheme(t *testing.T) {
	p := New(t.TempDir(), time.Hour)
	if _, err := p.Fetch(context.Background(), "file:///etc/passwd"); err == nil {
		t.Fatalf("expected file scheme to be blocked")
	}
}

func TestAnalyzeCachesResult(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, time.Hour)

	path, err := p.Store([]byte("image-bytes"), ".jpg")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	stub := &stubVisionProvider{response: "a red circle"}
	got, err := p.Analyze(context.Background(), path, stub, "describe")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got != "a red circle" {
		t.Fatalf("expected %q, got %q", "a red circle", got)
	}
	if stub.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", stub.calls)
	}

	// Second call should hit the cache, not the provider.
	got2, err := p.Analyze(context.Background(), path, stub, "describe")
	if err != nil {
		t.Fatalf("Analyze (cached): %v", err)
	}
	if got2 != "a red circle" {
		t.Fatalf("expected cached %q, got %q", "a red circle", got2)
	}
	if stub.calls != 1 {
		t.Fatalf("expected cache hit to skip provider, got %d calls", stub.calls)
	}
}

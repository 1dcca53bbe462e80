// Package media implements MediaPipeline (spec §4.11): fetch a URL through
// the SSRF guard, store it under a TTL-tagged temp directory, and analyze
// it with a vision-capable provider, caching the result alongside the file.
package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw/internal/netguard"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// MaxFetchBytes bounds how much of a response body Fetch will read, so a
// malicious or oversized upstream can't exhaust memory.
const MaxFetchBytes = 25 << 20 // 25MB

// Pipeline fetches, stores, and analyzes media referenced by URL.
type Pipeline struct {
	guard   *netguard.Guard
	storeDir string
	ttl      time.Duration
}

// New builds a Pipeline storing fetched files under storeDir, each eligible
// for cleanup after ttl.
func New(storeDir string, ttl time.Duration) *Pipeline {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Pipeline{guard: netguard.New(), storeDir: storeDir, ttl: ttl}
}

// Fetch validates rawURL through the SSRF guard, then downloads it with
// redirects disabled, returning the path it was stored under.
func (p *Pipeline) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := p.guard.ValidateURL(rawURL)
	if err != nil {
		return "", fmt.Errorf("media fetch blocked: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}

	resp, err := p.guard.Client().Do(req)
	if err != nil {
		return "", fmt.Errorf("media fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media fetch: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("media fetch: read body: %w", err)
	}
	if len(data) > MaxFetchBytes {
		return "", fmt.Errorf("media fetch: response exceeds %d bytes", MaxFetchBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	return p.Store(data, extensionFor(contentType))
}

// Store writes data under a TTL-tagged temp directory, returning the final
// path. Writes go to a temp file first, then an atomic rename, the same
// pattern used for every other file-backed store in this codebase.
func (p *Pipeline) Store(data []byte, ext string) (string, error) {
	dir := filepath.Join(p.storeDir, fmt.Sprintf("ttl-%d", time.Now().Add(p.ttl).Unix()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("media store: %w", err)
	}

	name := uuid.NewString()
	if ext != "" {
		name += ext
	}
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".media-*.tmp")
	if err != nil {
		return "", fmt.Errorf("media store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("media store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("media store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("media store: %w", err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", fmt.Errorf("media store: %w", err)
	}
	return finalPath, nil
}

// Analyze runs a vision-capable provider's Chat over the image at path,
// caching the textual result in a sibling "<file>.analysis.json" so repeat
// calls on the same file skip the provider round-trip.
func (p *Pipeline) Analyze(ctx context.Context, path string, provider providers.Provider, prompt string) (string, error) {
	cachePath := path + ".analysis.json"
	if cached, err := os.ReadFile(cachePath); err == nil {
		var entry analysisCacheEntry
		if json.Unmarshal(cached, &entry) == nil && entry.Analysis != "" {
			return entry.Analysis, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("media analyze: read %s: %w", path, err)
	}

	if prompt == "" {
		prompt = "Describe this image in detail."
	}

	resp, err := provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{{
			Role:    "user",
			Content: prompt,
			Images: []providers.ImageContent{{
				MimeType: mimeTypeFor(path),
				Data:     base64.StdEncoding.EncodeToString(data),
			}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("media analyze: %w", err)
	}

	entry := analysisCacheEntry{Analysis: resp.Content, Provider: provider.Name(), AnalyzedAt: time.Now()}
	if encoded, err := json.MarshalIndent(entry, "", "  "); err == nil {
		_ = os.WriteFile(cachePath, encoded, 0o644)
	}

	return resp.Content, nil
}

type analysisCacheEntry struct {
	Analysis   string    `json:"analysis"`
	Provider   string    `json:"provider"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	default:
		return ""
	}
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

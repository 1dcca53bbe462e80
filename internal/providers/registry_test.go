package providers

import (
	"context"
	"strings"
	"testing"
)

type stubProvider struct {
	name  string
	model string
}

func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{}, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	return &ChatResponse{}, nil
}

func (s *stubProvider) DefaultModel() string { return s.model }
func (s *stubProvider) Name() string         { return s.name }

func registryWithStubs(names ...string) *Registry {
	r := NewRegistry()
	for _, n := range names {
		r.Register(&stubProvider{name: n, model: "default"})
	}
	return r
}

// S3: multi-provider routing by model-string prefix.
func TestSelectRoutesByModelPrefixScenarioS3(t *testing.T) {
	r := registryWithStubs("bedrock", "ollama", "venice", "openai", "anthropic")

	cases := []struct {
		model    string
		wantName string
	}{
		{"bedrock:anthropic.claude-3-sonnet", "bedrock"},
		{"ollama:llama3", "ollama"},
		{"venice:llama-3.3", "venice"},
		{"gpt-4o", "openai"},
		{"claude-sonnet-4-20250514", "anthropic"},
	}

	for _, tc := range cases {
		p, name, err := r.Select(tc.model)
		if err != nil {
			t.Fatalf("Select(%q): unexpected error: %v", tc.model, err)
		}
		if name != tc.wantName {
			t.Fatalf("Select(%q): got provider name %q, want %q", tc.model, name, tc.wantName)
		}
		if p.Name() != tc.wantName {
			t.Fatalf("Select(%q): resolved provider.Name() = %q, want %q", tc.model, p.Name(), tc.wantName)
		}
	}
}

// S3: absence of the required credential surfaces as an error naming the
// missing provider, rather than silently falling back.
func TestSelectReportsMissingProviderByName(t *testing.T) {
	r := registryWithStubs("anthropic")

	_, name, err := r.Select("bedrock:anthropic.claude-3-sonnet")
	if err == nil {
		t.Fatalf("expected error when bedrock is not registered")
	}
	if name != "bedrock" {
		t.Fatalf("expected missing provider name %q, got %q", "bedrock", name)
	}
	if !strings.Contains(err.Error(), "bedrock") {
		t.Fatalf("expected error to name the missing provider, got %q", err.Error())
	}
}

func TestSelectFallsBackToAnthropicForUnrecognizedModel(t *testing.T) {
	r := registryWithStubs("anthropic")

	p, name, err := r.Select("some-unknown-model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "anthropic" || p.Name() != "anthropic" {
		t.Fatalf("expected fallback to anthropic, got %q", name)
	}
}

func TestRegisterOverwritesExistingProviderByName(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "anthropic", model: "from-config"})
	r.Register(&stubProvider{name: "anthropic", model: "from-db"})

	p, err := r.Get("anthropic")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.DefaultModel() != "from-db" {
		t.Fatalf("expected later registration to win, got model %q", p.DefaultModel())
	}

	names := r.List()
	if len(names) != 1 {
		t.Fatalf("expected exactly one registered name after overwrite, got %v", names)
	}
}

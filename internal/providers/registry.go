package providers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/goclaw/internal/gatewayerr"
)

// Registry holds every configured Provider, keyed by its Name(), and
// implements the model-prefix routing table from spec §4.5.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own Name().
func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", name)
	}
	return p, nil
}

// List returns the names of every registered provider.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// modelPrefixes maps an explicit "provider:model" or "provider/model" prefix
// to the registered provider name it selects (spec §4.5).
var modelPrefixes = map[string]string{
	"bedrock":   "bedrock",
	"ollama":    "ollama",
	"venice":    "venice",
	"gemini":    "gemini",
	"dashscope": "dashscope",
}

// Select resolves a model string to the provider that should serve it, per
// the spec §4.5 routing table:
//
//   - "bedrock:"/"bedrock/" prefix, or a bare native Bedrock model id
//     (anthropic.claude-*, amazon.titan-*, meta.llama*) -> bedrock
//   - "ollama:"/"ollama/" -> ollama
//   - "venice:"/"venice/" -> venice
//   - "gemini-"/"gpt-"/"o1-"/"o3-" prefixes route to their matching
//     registered provider name
//   - anything else falls back to anthropic
//
// An unregistered target provider returns a *gatewayerr.Error with code
// "unavailable" naming the missing provider so callers can report exactly
// which credential is absent.
func (r *Registry) Select(model string) (Provider, string, error) {
	name := r.selectProviderName(model)
	p, err := r.Get(name)
	if err != nil {
		return nil, name, gatewayerr.Wrap(gatewayerr.CodeUnavailable,
			fmt.Sprintf("provider %q is not configured for model %q", name, model), err)
	}
	return p, name, nil
}

func (r *Registry) selectProviderName(model string) string {
	for prefix, provider := range modelPrefixes {
		if strings.HasPrefix(model, prefix+":") || strings.HasPrefix(model, prefix+"/") {
			return provider
		}
	}
	if isNativeBedrockModelID(model) {
		return "bedrock"
	}
	switch {
	case strings.HasPrefix(model, "gemini-"):
		return "gemini"
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1-"), strings.HasPrefix(model, "o3-"):
		return "openai"
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	}
	return "anthropic"
}

// isNativeBedrockModelID recognizes Bedrock model IDs passed without an
// explicit "bedrock:" prefix (e.g. "anthropic.claude-3-sonnet-20240229-v1:0").
func isNativeBedrockModelID(model string) bool {
	for _, prefix := range []string{"anthropic.claude-", "amazon.titan-", "meta.llama"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

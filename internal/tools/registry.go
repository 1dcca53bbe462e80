package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// Tool is the minimal interface every tool implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// ContextualTool is implemented by tools that need channel/session routing
// context beyond their plain arguments (e.g. sessions_send, message).
type ContextualTool interface {
	Tool
	ExecuteWithContext(ctx context.Context, args map[string]interface{}, channel, chatID, peerKind, sessionKey string, extra map[string]interface{}) *Result
}

// RateLimiter throttles tool execution by an arbitrary key (session key when
// available, tool name otherwise). Set via Registry.SetRateLimiter.
type RateLimiter interface {
	Allow(key string) bool
}

// Registry holds every registered tool and dispatches execution, applying
// an optional rate limiter and output scrubber uniformly across tools.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	rateLimiter RateLimiter
	scrub       func(toolName, output string) string
}

// NewRegistry builds an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its own Name().
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SetRateLimiter installs a rate limiter applied to every Execute call.
func (r *Registry) SetRateLimiter(rl RateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimiter = rl
}

// SetScrubbing installs a function applied to every tool result's ForLLM
// text before it's handed back to the caller (e.g. secret redaction).
func (r *Registry) SetScrubbing(fn func(toolName, output string) string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrub = fn
}

// ProviderDefs returns every registered tool's provider-facing schema.
// Callers that enforce a policy should go through PolicyEngine.FilterTools
// instead, which narrows this full list down to what a given context allows.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToProviderDef(t))
	}
	return defs
}

// ToProviderDef converts a registered tool into its provider-facing schema.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Execute runs a tool by name without routing context.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	return r.ExecuteWithContext(ctx, name, args, "", "", "", "", nil)
}

// ExecuteWithContext runs a tool by name, passing routing context through to
// tools that implement ContextualTool. Unknown tools, rate-limited callers,
// and the registry's scrubber are all handled here so every caller gets the
// same behavior regardless of which execution path it came through.
func (r *Registry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID, peerKind, sessionKey string, extra map[string]interface{}) *Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	rl := r.rateLimiter
	scrub := r.scrub
	r.mu.RUnlock()

	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool %q", name))
	}

	if rl != nil {
		limitKey := sessionKey
		if limitKey == "" {
			limitKey = name
		}
		if !rl.Allow(limitKey) {
			return ErrorResult(fmt.Sprintf("tool %q is rate limited for this session, try again later", name))
		}
	}

	var result *Result
	if ct, ok := t.(ContextualTool); ok {
		result = ct.ExecuteWithContext(ctx, args, channel, chatID, peerKind, sessionKey, extra)
	} else {
		result = t.Execute(ctx, args)
	}

	if scrub != nil && result != nil {
		result.ForLLM = scrub(name, result.ForLLM)
	}
	return result
}

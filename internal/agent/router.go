package agent

import (
	"context"
	"fmt"
	"sync"
)

// Agent is anything that can run a single turn for a session. *Loop is the
// only implementation today; the interface exists so Router and its callers
// don't need to know about sandboxing, tool policy, or provider wiring.
type Agent interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// ResolverFunc builds (or looks up) the Agent for a given agent key. Router
// calls it on a cache miss; concurrent first requests for the same key may
// each call it, and the last result is the one cached.
type ResolverFunc func(agentKey string) (Agent, error)

type agentEntry struct {
	agent Agent
}

// Router lazily resolves and caches Agents by key, so a multi-agent gateway
// only pays the cost of building a Loop (provider lookup, bootstrap file
// load) the first time an agent is addressed.
type Router struct {
	mu       sync.Mutex
	agents   map[string]*agentEntry
	resolve  ResolverFunc
}

// NewRouter creates a Router that resolves unknown agent keys via resolve.
func NewRouter(resolve ResolverFunc) *Router {
	return &Router{
		agents:  make(map[string]*agentEntry),
		resolve: resolve,
	}
}

// Get returns the cached Agent for key, resolving and caching it if this is
// the first request for that key.
func (r *Router) Get(key string) (Agent, error) {
	r.mu.Lock()
	if entry, ok := r.agents[key]; ok {
		r.mu.Unlock()
		return entry.agent, nil
	}
	r.mu.Unlock()

	if r.resolve == nil {
		return nil, fmt.Errorf("agent %s: no resolver configured", key)
	}
	ag, err := r.resolve(key)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.agents[key] = &agentEntry{agent: ag}
	r.mu.Unlock()
	return ag, nil
}

// List returns the keys of every agent resolved so far.
func (r *Router) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.agents))
	for k := range r.agents {
		keys = append(keys, k)
	}
	return keys
}

// InvalidateAgent removes an agent from the router cache, forcing re-resolution.
// Used when agent config is updated via API.
func (r *Router) InvalidateAgent(agentKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentKey)
}

// InvalidateAll clears the entire agent cache, forcing all agents to re-resolve.
// Used when global tools change (custom tools reload).
func (r *Router) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*agentEntry)
}

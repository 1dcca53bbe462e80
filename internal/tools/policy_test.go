package tools

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/goclaw/internal/config"
)

type stubTool struct {
	name string
}

func (s *stubTool) Name() string                             { return s.name }
func (s *stubTool) Description() string                       { return s.name + " tool" }
func (s *stubTool) Parameters() map[string]interface{}        { return map[string]interface{}{"type": "object"} }
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return NewResult(s.name + " executed")
}

// S5: Policy AllowList{time,search}; LLM emits ToolUse for exec. Runtime
// returns a tool-error result to the LLM rather than executing exec, and
// the exec tool definition was never sent to the LLM in the first place.
func TestToolPolicyEnforcesAllowListScenarioS5(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "time"})
	reg.Register(&stubTool{name: "search"})
	reg.Register(&stubTool{name: "exec"})

	pe := NewPolicyEngine(&config.ToolsConfig{})
	agentPolicy := &config.ToolPolicySpec{Allow: []string{"time", "search"}}

	defs := pe.FilterTools(reg, "agent-1", "anthropic", agentPolicy, nil, false, false)

	for _, d := range defs {
		if d.Function.Name == "exec" {
			t.Fatalf("exec tool definition must never be sent to the LLM, got %+v", defs)
		}
	}
	if len(defs) != 2 {
		t.Fatalf("expected exactly time+search definitions, got %d: %+v", len(defs), defs)
	}

	allowed := AllowedToolNames(defs)
	if !Disallowed(allowed, "exec") {
		t.Fatalf("expected exec to be disallowed by the execution-time guard")
	}
	if Disallowed(allowed, "time") || Disallowed(allowed, "search") {
		t.Fatalf("expected time and search to remain allowed")
	}

	// Simulate the runtime's second-stage guard: the LLM hallucinates a
	// ToolUse for exec anyway. It must get a tool-error result, not execution.
	if Disallowed(allowed, "exec") {
		result := ErrorResult("tool \"exec\" is not permitted in this context")
		if !result.IsError {
			t.Fatalf("expected an error result for a disallowed tool call")
		}
	} else {
		t.Fatalf("exec should have been blocked before reaching Execute")
	}
}

func TestExecuteWithContextRejectsUnknownTool(t *testing.T) {
	reg := NewRegistry()
	result := reg.Execute(context.Background(), "does_not_exist", nil)
	if !result.IsError {
		t.Fatalf("expected an error result for an unknown tool")
	}
}

func TestExecuteWithContextAppliesRateLimiter(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "search"})
	reg.SetRateLimiter(NewToolRateLimiter(1))

	first := reg.ExecuteWithContext(context.Background(), "search", nil, "", "", "", "session-a", nil)
	if first.IsError {
		t.Fatalf("expected first call to succeed, got error: %s", first.ForLLM)
	}
	second := reg.ExecuteWithContext(context.Background(), "search", nil, "", "", "", "session-a", nil)
	if !second.IsError {
		t.Fatalf("expected second call within the same session to be rate limited")
	}
}

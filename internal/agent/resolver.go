package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/goclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/sandbox"
	"github.com/nextlevelbuilder/goclaw/internal/skills"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
)

// sandboxContainerWorkdir is the fixed in-container mount point for a
// sandboxed agent's workspace; goclaw sandbox images always mount here.
const sandboxContainerWorkdir = "/workspace"

// ResolverDeps holds the dependencies shared by every agent a Router
// resolves, so each call only needs to apply the per-agent config override.
type ResolverDeps struct {
	Cfg         *config.Config
	ProviderReg *providers.Registry
	Bus         bus.EventPublisher
	Sessions    store.SessionStore
	Tools       *tools.Registry
	ToolPolicy  *tools.PolicyEngine
	Skills      *skills.Loader
	HasMemory bool
	OnEvent   func(AgentEvent)

	InjectionAction string // "log", "warn", "block", "off"
	MaxMessageChars int

	GlobalSkillsDir string
}

// NewConfigResolver creates a ResolverFunc that builds a Loop from the
// agent's config.json definition (config.AgentSpec merged over
// config.AgentDefaults via Cfg.ResolveAgent), creating its workspace
// directory and loading its bootstrap context files on first resolution.
func NewConfigResolver(deps ResolverDeps) ResolverFunc {
	return func(agentKey string) (Agent, error) {
		agentCfg := deps.Cfg.ResolveAgent(agentKey)

		workspace := config.ExpandHome(agentCfg.Workspace)
		if workspace == "" {
			return nil, fmt.Errorf("agent %s: no workspace configured", agentKey)
		}
		if !filepath.IsAbs(workspace) {
			var err error
			workspace, err = filepath.Abs(workspace)
			if err != nil {
				return nil, fmt.Errorf("agent %s: resolve workspace: %w", agentKey, err)
			}
		}
		if err := os.MkdirAll(workspace, 0755); err != nil {
			return nil, fmt.Errorf("agent %s: create workspace: %w", agentKey, err)
		}

		provider, err := deps.ProviderReg.Get(agentCfg.Provider)
		if err != nil {
			names := deps.ProviderReg.List()
			if len(names) == 0 {
				return nil, fmt.Errorf("agent %s: no providers configured", agentKey)
			}
			provider, _ = deps.ProviderReg.Get(names[0])
			slog.Warn("agent provider not found, using fallback",
				"agent", agentKey, "wanted", agentCfg.Provider, "using", names[0])
		}

		rawFiles := bootstrap.LoadWorkspaceFiles(workspace)
		contextFiles := bootstrap.BuildContextFiles(rawFiles, bootstrap.TruncateConfig{
			MaxCharsPerFile: agentCfg.BootstrapMaxChars,
			TotalMaxChars:   agentCfg.BootstrapTotalMaxChars,
		})

		var skillAllowList []string
		if spec, ok := deps.Cfg.Agents.List[agentKey]; ok {
			skillAllowList = spec.Skills
		}

		contextWindow := agentCfg.ContextWindow
		if contextWindow <= 0 {
			contextWindow = 200000
		}
		maxIter := agentCfg.MaxToolIterations
		if maxIter <= 0 {
			maxIter = 20
		}

		sandboxCfg := agentCfg.Sandbox.ToSandboxConfig()

		loop := NewLoop(LoopConfig{
			ID:                agentKey,
			AgentType:         agentCfg.AgentType,
			Provider:          provider,
			Model:             agentCfg.Model,
			ContextWindow:     contextWindow,
			MaxIterations:     maxIter,
			Workspace:         workspace,
			Bus:               deps.Bus,
			Sessions:          deps.Sessions,
			Tools:             deps.Tools,
			ToolPolicy:        deps.ToolPolicy,
			SkillsLoader:      deps.Skills,
			SkillAllowList:    skillAllowList,
			HasMemory:         deps.HasMemory,
			ContextFiles:      contextFiles,
			OnEvent:           deps.OnEvent,
			InjectionAction:   deps.InjectionAction,
			MaxMessageChars:   deps.MaxMessageChars,
			CompactionCfg:     agentCfg.Compaction,
			ContextPruningCfg: agentCfg.ContextPruning,
			OwnerIDs:          deps.Cfg.Gateway.OwnerIDs,
			SandboxEnabled:         sandboxCfg.Mode != sandbox.ModeOff,
			SandboxContainerDir:    sandboxContainerWorkdir,
			SandboxWorkspaceAccess: string(sandboxCfg.WorkspaceAccess),
		})

		slog.Info("resolved agent", "agent", agentKey, "model", agentCfg.Model, "provider", agentCfg.Provider)
		return loop, nil
	}
}

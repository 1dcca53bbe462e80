package bootstrap

import (
	"os"
	"path/filepath"
)

// Workspace-root context file names. Seeded by EnsureWorkspaceFiles and
// re-read into the agent's context window on every turn.
const (
	AgentsFile     = "AGENTS.md"
	SoulFile       = "SOUL.md"
	ToolsFile      = "TOOLS.md"
	IdentityFile   = "IDENTITY.md"
	UserFile       = "USER.md"
	HeartbeatFile  = "HEARTBEAT.md"
	BootstrapFile  = "BOOTSTRAP.md"
	DelegationFile = "DELEGATION.md"
	TeamFile       = "TEAM.md"
)

// contextFileOrder is the order workspace files are concatenated into the
// system prompt, so identity/soul content consistently precedes tool and
// user notes.
var contextFileOrder = []string{
	SoulFile,
	IdentityFile,
	AgentsFile,
	ToolsFile,
	UserFile,
	HeartbeatFile,
	BootstrapFile,
}

// DefaultMaxCharsPerFile bounds how much of a single context file is kept
// before truncation, so one runaway SOUL.md can't crowd out the rest.
const DefaultMaxCharsPerFile = 20000

// DefaultTotalMaxChars bounds the combined size of all context files.
const DefaultTotalMaxChars = 24000

// ContextFile is a single named piece of context injected into an agent's
// system prompt.
type ContextFile struct {
	Path    string
	Content string
}

// TruncateConfig bounds how much context-file content is kept.
type TruncateConfig struct {
	MaxCharsPerFile int
	TotalMaxChars   int
}

// LoadWorkspaceFiles reads the known context files from a workspace root,
// skipping any that don't exist. Order matches contextFileOrder.
func LoadWorkspaceFiles(workspaceDir string) []ContextFile {
	var files []ContextFile
	for _, name := range contextFileOrder {
		data, err := os.ReadFile(filepath.Join(workspaceDir, name))
		if err != nil {
			continue
		}
		files = append(files, ContextFile{Path: name, Content: string(data)})
	}
	return files
}

// BuildContextFiles truncates raw workspace files to fit within cfg's
// per-file and total character budgets, dropping files (last first) once
// the total budget is exhausted.
func BuildContextFiles(raw []ContextFile, cfg TruncateConfig) []ContextFile {
	maxPerFile := cfg.MaxCharsPerFile
	if maxPerFile <= 0 {
		maxPerFile = DefaultMaxCharsPerFile
	}
	totalMax := cfg.TotalMaxChars
	if totalMax <= 0 {
		totalMax = DefaultTotalMaxChars
	}

	out := make([]ContextFile, 0, len(raw))
	remaining := totalMax
	for _, f := range raw {
		if remaining <= 0 {
			break
		}
		content := f.Content
		if len(content) > maxPerFile {
			content = content[:maxPerFile] + "\n...(truncated)"
		}
		if len(content) > remaining {
			content = content[:remaining] + "\n...(truncated)"
		}
		out = append(out, ContextFile{Path: f.Path, Content: content})
		remaining -= len(content)
	}
	return out
}

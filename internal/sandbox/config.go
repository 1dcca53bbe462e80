// Package sandbox routes tool execution through short-lived Docker
// containers instead of the host, so an agent's exec/file tools can be
// isolated per session, per agent, or shared across a run.
package sandbox

import "errors"

// ErrSandboxDisabled is returned by Manager.Get when the configured mode
// excludes the caller (e.g. mode "non-main" and the caller is the main agent).
var ErrSandboxDisabled = errors.New("sandbox: disabled for this context")

// Mode controls which agents get routed through a container.
type Mode string

const (
	ModeOff     Mode = "off"      // no sandboxing, always host execution
	ModeNonMain Mode = "non-main" // only subagents are sandboxed
	ModeAll     Mode = "all"      // every agent is sandboxed
)

// WorkspaceAccess controls how much of the host workspace a container sees.
type WorkspaceAccess string

const (
	AccessNone WorkspaceAccess = "none" // no workspace mount, fully isolated
	AccessRO   WorkspaceAccess = "ro"   // workspace mounted read-only
	AccessRW   WorkspaceAccess = "rw"   // workspace mounted read-write
)

// Scope controls how containers are keyed and reused across calls.
type Scope string

const (
	ScopeSession Scope = "session" // one container per session key
	ScopeAgent   Scope = "agent"   // one container per agent id
	ScopeShared  Scope = "shared"  // one container for every caller
)

// Config mirrors config.SandboxConfig after defaults have been applied.
type Config struct {
	Mode            Mode
	Image           string
	WorkspaceAccess WorkspaceAccess
	Scope           Scope
	MemoryMB        int
	CPUs            float64
	TimeoutSec      int
	NetworkEnabled  bool
	ReadOnlyRoot    bool
	SetupCommand    string
	Env             map[string]string
	User            string
	TmpfsSizeMB     int
	MaxOutputBytes  int

	IdleHours        int
	MaxAgeDays       int
	PruneIntervalMin int
}

// DefaultConfig returns the baseline sandbox configuration, conservative
// enough to run with no further tuning once Docker is available.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeOff,
		Image:            "goclaw-sandbox:bookworm-slim",
		WorkspaceAccess:  AccessRW,
		Scope:            ScopeSession,
		MemoryMB:         512,
		CPUs:             1.0,
		TimeoutSec:       300,
		NetworkEnabled:   false,
		ReadOnlyRoot:     true,
		MaxOutputBytes:   1 << 20,
		IdleHours:        24,
		MaxAgeDays:       7,
		PruneIntervalMin: 5,
	}
}

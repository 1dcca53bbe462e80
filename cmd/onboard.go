package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// providerInfo describes how to auto-detect and configure a provider from
// the environment during onboarding.
type providerInfo struct {
	envKey    string
	modelHint string
}

// providerMap grounds provider auto-detection in GOCLAW_*_API_KEY env vars
// (see config_load.go's ApplyEnvOverrides) and a flagship model per vendor.
var providerMap = map[string]providerInfo{
	"openrouter": {envKey: "GOCLAW_OPENROUTER_API_KEY", modelHint: "anthropic/claude-sonnet-4.5"},
	"anthropic":  {envKey: "GOCLAW_ANTHROPIC_API_KEY", modelHint: "claude-sonnet-4-5-20250929"},
	"openai":     {envKey: "GOCLAW_OPENAI_API_KEY", modelHint: "gpt-4.1"},
	"groq":       {envKey: "GOCLAW_GROQ_API_KEY", modelHint: "llama-3.3-70b-versatile"},
	"deepseek":   {envKey: "GOCLAW_DEEPSEEK_API_KEY", modelHint: "deepseek-chat"},
	"gemini":     {envKey: "GOCLAW_GEMINI_API_KEY", modelHint: "gemini-2.5-pro"},
	"mistral":    {envKey: "GOCLAW_MISTRAL_API_KEY", modelHint: "mistral-large-latest"},
	"xai":        {envKey: "GOCLAW_XAI_API_KEY", modelHint: "grok-4"},
	"minimax":    {envKey: "GOCLAW_MINIMAX_API_KEY", modelHint: "MiniMax-M1"},
	"cohere":     {envKey: "GOCLAW_COHERE_API_KEY", modelHint: "command-a-03-2025"},
	"perplexity": {envKey: "GOCLAW_PERPLEXITY_API_KEY", modelHint: "sonar-pro"},
}

// onboardGenerateToken returns a random hex string of length characters,
// used to seed a gateway operator token when none is configured.
func onboardGenerateToken(length int) string {
	raw := make([]byte, (length+1)/2)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("onboard: failed to read random bytes: %v", err))
	}
	return hex.EncodeToString(raw)[:length]
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Set up goclaw (auto-detects provider keys from the environment)",
		Long: `Set up goclaw's config.json.

If any GOCLAW_*_API_KEY environment variable is set, onboarding runs
non-interactively: it picks the first configured provider (by priority),
writes a clean config.json, and generates a gateway token if needed.

Otherwise, set at least one provider key and re-run, e.g.:

  export GOCLAW_ANTHROPIC_API_KEY=sk-ant-...
  ./goclaw onboard`,
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath := resolveConfigPath()
			if !canAutoOnboard() {
				fmt.Println("No provider API key found in the environment.")
				fmt.Println()
				fmt.Println("Set one of the following and re-run `goclaw onboard`:")
				for _, name := range providerPriority {
					if pi, ok := providerMap[name]; ok {
						fmt.Printf("  %s\n", pi.envKey)
					}
				}
				return
			}
			if !runAutoOnboard(cfgPath) {
				fmt.Println("Onboarding failed.")
			}
		},
	}
}

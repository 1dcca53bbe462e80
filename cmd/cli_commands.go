package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/cron"
	"github.com/nextlevelbuilder/goclaw/internal/pairing"
	"github.com/nextlevelbuilder/goclaw/internal/sessions"
	"github.com/nextlevelbuilder/goclaw/internal/skills"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/store/file"
)

// loadConfigOrExit loads the resolved config.json, exiting with a message on
// failure. CLI subcommands that inspect local state (sessions, cron, skills,
// pairing) don't need a running gateway; they open the same file-backed
// stores cmd/gateway.go does.
func loadConfigOrExit() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnvOverrides()
	return cfg
}

func dataDirFor(cfg *config.Config) string {
	dataDir := os.Getenv("GOCLAW_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.goclaw/data")
	}
	os.MkdirAll(dataDir, 0755)
	return dataDir
}

// --- agent ---

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Chat with an agent or list configured agents",
	}
	cmd.AddCommand(agentChatCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured agents",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			fmt.Printf("%-20s %-12s %-24s\n", "NAME", "PROVIDER", "MODEL")
			fmt.Printf("%-20s %-12s %-24s\n", "default", cfg.Agents.Defaults.Provider, cfg.Agents.Defaults.Model)
			for name, spec := range cfg.Agents.List {
				provider := spec.Provider
				if provider == "" {
					provider = cfg.Agents.Defaults.Provider
				}
				model := spec.Model
				if model == "" {
					model = cfg.Agents.Defaults.Model
				}
				fmt.Printf("%-20s %-12s %-24s\n", name, provider, model)
			}
		},
	})
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved config as JSON (secrets redacted)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			redacted := *cfg
			redacted.Providers = config.ProvidersConfig{}
			redacted.Gateway.Token = ""
			data, err := json.MarshalIndent(redacted, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling config: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
		},
	})
	return cmd
}

// --- models ---

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known providers and their flagship models",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			fmt.Printf("%-14s %-28s %s\n", "PROVIDER", "FLAGSHIP MODEL", "CONFIGURED")
			for _, name := range providerPriority {
				pi, ok := providerMap[name]
				if !ok {
					continue
				}
				configured := "no"
				if resolveProviderAPIKey(cfg, name) != "" {
					configured = "yes"
				}
				fmt.Printf("%-14s %-28s %s\n", name, pi.modelHint, configured)
			}
		},
	}
}

// --- channels ---

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Inspect configured messaging channels",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show enabled channels and their credential status",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
			checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
		},
	})
	return cmd
}

// --- cron ---

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			_, cronStore := openCronStore()
			jobs := cronStore.List()
			fmt.Printf("%-36s %-20s %-16s %-8s\n", "ID", "NAME", "SCHEDULE", "ENABLED")
			for _, job := range jobs {
				fmt.Printf("%-36s %-20s %-16s %-8v\n", job.ID, job.Name, job.Schedule, job.Enabled)
			}
		},
	})

	var jobName, jobSchedule, jobMessage, jobAgentID string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scheduled job",
		Run: func(cmd *cobra.Command, args []string) {
			_, cronStore := openCronStore()
			job, err := cronStore.Create(cronJobTemplate(jobName, jobSchedule, jobAgentID, jobMessage))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating job: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Created job %s\n", job.ID)
		},
	}
	createCmd.Flags().StringVar(&jobName, "name", "", "job name")
	createCmd.Flags().StringVar(&jobSchedule, "schedule", "", "5-field cron expression")
	createCmd.Flags().StringVar(&jobMessage, "message", "", "agent turn message")
	createCmd.Flags().StringVar(&jobAgentID, "agent", "default", "agent id")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a scheduled job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, cronStore := openCronStore()
			if err := cronStore.Delete(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error deleting job: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Deleted.")
		},
	})

	return cmd
}

func openCronStore() (*config.Config, *file.FileCronStore) {
	cfg := loadConfigOrExit()
	dataDir := dataDirFor(cfg)
	cronStorePath := filepath.Join(dataDir, "cron", "jobs.json")
	cronStore := file.NewFileCronStore(cron.NewService(cronStorePath, nil))
	cronStore.SetRetryConfig(cfg.Cron.ToRetryConfig())
	return cfg, cronStore
}

// --- skills ---

func skillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect loaded skills",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List skills discoverable by the skill_search tool",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
			globalSkillsDir := os.Getenv("GOCLAW_SKILLS_DIR")
			if globalSkillsDir == "" {
				globalSkillsDir = filepath.Join(config.ExpandHome("~/.goclaw"), "skills")
			}
			loader := skills.NewLoader(workspace, globalSkillsDir, "")
			for _, s := range loader.ListSkills() {
				fmt.Printf("%-24s %-10s %s\n", s.Name, s.Source, s.Description)
			}
		},
	})
	return cmd
}

// --- sessions ---

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}

	var agentID string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List session keys",
		Run: func(cmd *cobra.Command, args []string) {
			sessStore := openSessionStore()
			fmt.Printf("%-60s %-10s %s\n", "KEY", "MESSAGES", "UPDATED")
			for _, info := range sessStore.List(agentID) {
				fmt.Printf("%-60s %-10d %s\n", info.Key, info.MessageCount, info.Updated.Format("2006-01-02 15:04:05"))
			}
		},
	}
	listCmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "reset [key]",
		Short: "Clear a session's history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sessStore := openSessionStore()
			sessStore.Reset(args[0])
			fmt.Println("Session reset.")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [key]",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sessStore := openSessionStore()
			if err := sessStore.Delete(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error deleting session: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Session deleted.")
		},
	})

	return cmd
}

func openSessionStore() *file.FileSessionStore {
	cfg := loadConfigOrExit()
	return file.NewFileSessionStore(sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage)))
}

// --- pairing ---

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage device pairing requests",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		Run: func(cmd *cobra.Command, args []string) {
			_, svc := openPairingStore()
			reqs := svc.ListPending()
			if len(reqs) == 0 {
				fmt.Println("No pending pairing requests.")
				return
			}
			fmt.Printf("%-12s %-16s %-10s %s\n", "REQUEST ID", "SUBJECT", "CHANNEL", "DISPLAY NAME")
			for _, r := range reqs {
				fmt.Printf("%-12s %-16s %-10s %s\n", r.RequestID, r.SubjectID, r.ClientID, r.DisplayName)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "approve [request-id]",
		Short: "Approve a pending pairing request",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, svc := openPairingStore()
			subjectID, token, err := svc.Approve(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error approving request: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Approved %s, token: %s\n", subjectID, token)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke [subject-id]",
		Short: "Revoke an existing pairing",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, svc := openPairingStore()
			if err := svc.Revoke(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error revoking pairing: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Revoked.")
		},
	})

	return cmd
}

func openPairingStore() (*config.Config, *file.FilePairingStore) {
	cfg := loadConfigOrExit()
	dataDir := dataDirFor(cfg)
	pairingStorePath := filepath.Join(dataDir, "pairing.json")
	svc, err := pairing.NewStore(pairingStorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading pairing store: %v\n", err)
		os.Exit(1)
	}
	return cfg, file.NewFilePairingStore(svc)
}

// cronJobTemplate builds a plain agent-turn CronJob (no channel delivery).
func cronJobTemplate(name, schedule, agentID, message string) store.CronJob {
	return store.CronJob{
		Name:     name,
		AgentID:  agentID,
		Schedule: schedule,
		Enabled:  true,
		Payload:  store.CronPayload{Message: message},
	}
}

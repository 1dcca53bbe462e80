package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/agent"
	"github.com/nextlevelbuilder/goclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/channels/discord"
	"github.com/nextlevelbuilder/goclaw/internal/channels/telegram"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/cron"
	"github.com/nextlevelbuilder/goclaw/internal/gateway"
	"github.com/nextlevelbuilder/goclaw/internal/media"
	"github.com/nextlevelbuilder/goclaw/internal/pairing"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/sandbox"
	"github.com/nextlevelbuilder/goclaw/internal/scheduler"
	"github.com/nextlevelbuilder/goclaw/internal/sessions"
	"github.com/nextlevelbuilder/goclaw/internal/skills"
	"github.com/nextlevelbuilder/goclaw/internal/store/file"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
	"github.com/nextlevelbuilder/goclaw/pkg/protocol"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Auto-detect: if no provider API key is configured, help the user.
	_, cfgStatErr := os.Stat(cfgPath)
	configMissing := os.IsNotExist(cfgStatErr)
	if !cfg.HasAnyProvider() || configMissing {
		if canAutoOnboard() {
			if runAutoOnboard(cfgPath) {
				cfg, _ = config.Load(cfgPath)
			} else {
				os.Exit(1)
			}
		} else if _, statErr := os.Stat(cfgPath); statErr == nil {
			envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
			fmt.Println("No AI provider API key found. Did you forget to load your secrets?")
			fmt.Println()
			fmt.Printf("  source %s && ./goclaw\n", envPath)
			fmt.Println()
			fmt.Println("Or re-run the setup wizard:  ./goclaw onboard")
			os.Exit(1)
		} else {
			fmt.Println("No configuration found. Run `./goclaw onboard` to set one up.")
			os.Exit(1)
		}
	}

	// Core components
	msgBus := bus.New()

	providerRegistry := providers.NewRegistry()
	registerProviders(providerRegistry, cfg)

	workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	os.MkdirAll(workspace, 0755)

	if seededFiles, seedErr := bootstrap.EnsureWorkspaceFiles(workspace); seedErr != nil {
		slog.Warn("bootstrap template seeding failed", "error", seedErr)
	} else if len(seededFiles) > 0 {
		slog.Info("seeded workspace templates", "files", seededFiles)
	}

	agentCfg := cfg.ResolveAgent("default")

	// Sandbox manager (optional — routes file/exec tools through Docker containers).
	var sandboxMgr sandbox.Manager
	if sbCfg := cfg.Agents.Defaults.Sandbox; sbCfg != nil && sbCfg.Mode != "" && sbCfg.Mode != string(sandbox.ModeOff) {
		if err := sandbox.CheckDockerAvailable(context.Background()); err != nil {
			slog.Warn("sandbox disabled: Docker not available", "configured_mode", sbCfg.Mode, "error", err)
		} else {
			resolved := sbCfg.ToSandboxConfig()
			sandboxMgr = sandbox.NewDockerManager(resolved)
			slog.Info("sandbox enabled", "mode", string(resolved.Mode), "image", resolved.Image, "scope", string(resolved.Scope))
		}
	}

	// Tool registry. Tools read their effective workspace/channel/chatID from
	// context (see internal/tools/context_keys.go), so one registry serves
	// every agent the router resolves.
	toolsReg := tools.NewRegistry()

	if sandboxMgr != nil {
		toolsReg.Register(tools.NewSandboxedReadFileTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedWriteFileTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedListFilesTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
		toolsReg.Register(tools.NewSandboxedExecTool(workspace, agentCfg.RestrictToWorkspace, sandboxMgr))
	} else {
		toolsReg.Register(tools.NewReadFileTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewWriteFileTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewListFilesTool(workspace, agentCfg.RestrictToWorkspace))
		toolsReg.Register(tools.NewExecTool(workspace, agentCfg.RestrictToWorkspace))
	}

	if webSearchTool := tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveEnabled: cfg.Tools.Web.Brave.Enabled,
		BraveAPIKey:  cfg.Tools.Web.Brave.APIKey,
		DDGEnabled:   cfg.Tools.Web.DuckDuckGo.Enabled,
	}); webSearchTool != nil {
		toolsReg.Register(webSearchTool)
		slog.Info("web_search tool enabled")
	}
	toolsReg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))

	toolsReg.Register(tools.NewReadImageTool(providerRegistry))
	toolsReg.Register(tools.NewCreateImageTool(providerRegistry))

	if cfg.Tools.RateLimitPerHour > 0 {
		toolsReg.SetRateLimiter(tools.NewToolRateLimiter(cfg.Tools.RateLimitPerHour))
		slog.Info("tool rate limiting enabled", "per_hour", cfg.Tools.RateLimitPerHour)
	}

	toolPE := tools.NewPolicyEngine(&cfg.Tools)

	dataDir := os.Getenv("GOCLAW_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.goclaw/data")
	}
	os.MkdirAll(dataDir, 0755)

	// Stores — file-backed adapters wrapping the sessions/cron/pairing packages.
	sessStore := file.NewFileSessionStore(sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage)))

	cronStorePath := filepath.Join(dataDir, "cron", "jobs.json")
	cronStore := file.NewFileCronStore(cron.NewService(cronStorePath, nil))
	cronStore.SetRetryConfig(cfg.Cron.ToRetryConfig())

	pairingStorePath := filepath.Join(dataDir, "pairing.json")
	pairingSvc, pairingErr := pairing.NewStore(pairingStorePath)
	if pairingErr != nil {
		slog.Error("failed to load pairing store", "error", pairingErr)
		os.Exit(1)
	}
	pairingStore := file.NewFilePairingStore(pairingSvc)

	globalSkillsDir := os.Getenv("GOCLAW_SKILLS_DIR")
	if globalSkillsDir == "" {
		globalSkillsDir = filepath.Join(config.ExpandHome("~/.goclaw"), "skills")
	}
	skillsLoader := skills.NewLoader(workspace, globalSkillsDir, "")
	toolsReg.Register(tools.NewSkillSearchTool(skillsLoader))
	slog.Info("skill_search tool registered", "skills", len(skillsLoader.ListSkills()))

	toolsReg.Register(tools.NewCronTool(cronStore))

	// Media pipeline: fetches remote images through the SSRF guard (internal/netguard)
	// and hands them to read_image's vision providers.
	mediaPipeline := media.New(filepath.Join(dataDir, "media"), 24*time.Hour)
	toolsReg.Register(tools.NewFetchImageTool(mediaPipeline, providerRegistry))

	toolsReg.Register(tools.NewSessionsListTool())
	toolsReg.Register(tools.NewSessionStatusTool())
	toolsReg.Register(tools.NewSessionsHistoryTool())
	toolsReg.Register(tools.NewSessionsSendTool())
	slog.Info("session tools registered")

	if readTool, ok := toolsReg.Get("read_file"); ok {
		if rf, ok := readTool.(*tools.ReadFileTool); ok {
			rf.AllowPaths(globalSkillsDir)
			if homeDir, _ := os.UserHomeDir(); homeDir != "" {
				rf.AllowPaths(filepath.Join(homeDir, ".agents", "skills"))
			}
		}
	}

	resolverDeps := agent.ResolverDeps{
		Cfg:             cfg,
		ProviderReg:     providerRegistry,
		Bus:             msgBus,
		Sessions:        sessStore,
		Tools:           toolsReg,
		ToolPolicy:      toolPE,
		Skills:          skillsLoader,
		HasMemory:       false,
		InjectionAction: cfg.Gateway.InjectionAction,
		MaxMessageChars: cfg.Gateway.MaxMessageChars,
		GlobalSkillsDir: globalSkillsDir,
	}
	agentRouter := agent.NewRouter(agent.NewConfigResolver(resolverDeps))

	// Pre-resolve every configured agent eagerly. A bad default agent stops
	// startup; a failure for any other agent is logged and startup continues.
	if _, err := agentRouter.Get("default"); err != nil {
		slog.Error("failed to resolve default agent", "error", err)
		os.Exit(1)
	}
	for agentID := range cfg.Agents.List {
		if agentID == "default" {
			continue
		}
		if _, err := agentRouter.Get(agentID); err != nil {
			slog.Error("failed to resolve agent", "agent", agentID, "error", err)
		}
	}

	server := gateway.NewServer(cfg, msgBus, agentRouter, sessStore, toolsReg)
	server.SetPairingService(pairingStore)

	registerAllMethods(server, agentRouter, sessStore, cronStore, pairingStore, cfg)

	channelMgr := channels.NewManager(msgBus)
	SetChannelLister(func() map[string]string {
		status := make(map[string]string)
		for _, name := range channelMgr.GetEnabledChannels() {
			status[name] = "enabled"
		}
		return status
	})

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus, pairingStore)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			channelMgr.RegisterChannel("telegram", tg)
			slog.Info("telegram channel enabled")
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := discord.New(cfg.Channels.Discord, msgBus, pairingStore)
		if err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			channelMgr.RegisterChannel("discord", dc)
			slog.Info("discord channel enabled")
		}
	}

	// Pairing approvals need to notify the requester back on their channel;
	// registerAllMethods wires device.pair.approve to call this.
	botName := cfg.ResolveDisplayName("default")
	notifyPairingApproved = func(ctx context.Context, channel, chatID string) {
		msg := fmt.Sprintf("%s access approved. Send a message to start chatting.", botName)
		if err := channelMgr.SendToChannel(ctx, channel, chatID, msg); err != nil {
			slog.Warn("failed to send pairing approval notification", "channel", channel, "chatID", chatID, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if skillsWatcher, err := skills.NewWatcher(skillsLoader); err != nil {
		slog.Warn("skills watcher unavailable", "error", err)
	} else {
		if err := skillsWatcher.Start(ctx); err != nil {
			slog.Warn("skills watcher start failed", "error", err)
		} else {
			defer skillsWatcher.Stop()
		}
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	sched := scheduler.NewScheduler(
		scheduler.DefaultLanes(),
		scheduler.DefaultQueueConfig(),
		makeSchedulerRunFunc(agentRouter, cfg),
	)
	defer sched.Stop()
	activeScheduler.sched = sched

	cronStore.SetOnJob(makeCronJobHandler(sched, msgBus, cfg))
	if err := cronStore.Start(); err != nil {
		slog.Warn("cron service failed to start", "error", err)
	}

	// Adaptive throttle: reduce per-session concurrency when nearing the
	// summarization threshold, using calibrated token estimation and the
	// agent's real context window (cached on session by the Loop).
	sched.SetTokenEstimateFunc(func(sessionKey string) (int, int) {
		history := sessStore.GetHistory(sessionKey)
		lastPT, lastMC := sessStore.GetLastPromptTokens(sessionKey)
		tokens := agent.EstimateTokensWithCalibration(history, lastPT, lastMC)
		cw := sessStore.GetContextWindow(sessionKey)
		if cw <= 0 {
			cw = 200000
		}
		return tokens, cw
	})

	// Forward agent run events to channels for streaming/reaction delivery.
	msgBus.Subscribe("channel-streaming", func(event bus.Event) {
		if event.Name != protocol.EventAgent {
			return
		}
		agentEvent, ok := event.Payload.(agent.AgentEvent)
		if !ok {
			return
		}
		channelMgr.HandleAgentEvent(agentEvent.Type, agentEvent.RunID, agentEvent.Payload)
	})

	go consumeInboundMessages(ctx, msgBus, agentRouter, cfg, sched, channelMgr)

	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)

		server.BroadcastEvent(*protocol.NewEvent(protocol.EventShutdown, nil))

		channelMgr.StopAll(context.Background())
		cronStore.Stop()

		if sandboxMgr != nil {
			sandboxMgr.Stop()
			slog.Info("releasing sandbox containers...")
			sandboxMgr.ReleaseAll(context.Background())
		}

		cancel()
	}()

	slog.Info("goclaw gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"agents", agentRouter.List(),
		"tools", toolsReg.Count(),
		"channels", channelMgr.GetEnabledChannels(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

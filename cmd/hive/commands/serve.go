package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/channels"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/config"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/executor"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/gateway"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/orchestrator"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/sandbox"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/scheduler"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/summarizer"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/tools"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/trigger"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/vault"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/workflow"
)

// newServeCmd creates the `hive serve` command that starts the daemon.
//
// Grounded on cmd/copilot/commands/serve.go's runServe (config load ->
// logger -> assistant -> register channels -> start -> wait for
// signal), generalized from its single-assistant-object shape into an
// explicit wiring of every pkg/hive component, since this spec has no
// one "assistant" type that owns them all the way copilot.Assistant
// does.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon and connect enabled channels",
		Long: `Start Hive as a daemon, connecting to enabled channels (Telegram,
WhatsApp) and processing messages.

Examples:
  hive serve
  hive serve --channel telegram
  hive serve --config ./config.yaml`,
		RunE: runServe,
	}
	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, whatsapp)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := newLogger(cfg, verbose)

	_ = config.LoadDotEnv(".env")
	config.ResolveAPIKey(cfg, logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	sqlitePath := cfg.Store.SQLitePath
	if sqlitePath != "" && !filepath.IsAbs(sqlitePath) {
		sqlitePath = filepath.Join(cfg.DataDir, sqlitePath)
	}
	repo, err := store.Open(sqlitePath, cfg.Store.PostgresDSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer repo.Close()

	primary, fallback := buildProviders(cfg, logger)

	vlt, err := vault.Open(repo, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening credential vault: %w", err)
	}

	orch := orchestrator.New(primary, fallback, logger)
	exec := executor.New(primary)
	scripts := sandbox.New(filepath.Join(cfg.DataDir, "tmp", "scripts"))

	// The Engine needs a SkillCaller/NotificationSender that doesn't
	// exist until the Gateway is built, and the Gateway needs a Trigger
	// that doesn't exist until the Engine is built — Engine.Wire closes
	// the loop once both sides are up.
	engine := workflow.New(repo, scripts, vlt, nil, nil, filepath.Join(cfg.DataDir, "users"), logger)
	trig := trigger.New(repo, engine)
	summ := summarizer.New(exec, cfg.LLM.Models.Haiku, repo, logger)
	chMgr := channels.New(repo, logger)

	gw := gateway.New(gateway.Dependencies{
		Repo:         repo,
		Orchestrator: orch,
		Executor:     exec,
		ModelTiers: map[string]string{
			"haiku":  cfg.LLM.Models.Haiku,
			"sonnet": cfg.LLM.Models.Sonnet,
			"opus":   cfg.LLM.Models.Opus,
		},
		ScriptRunner: scripts,
		SMTP: tools.SMTPConfig{
			Host:     cfg.Tools.SMTP.Host,
			Port:     cfg.Tools.SMTP.Port,
			Username: cfg.Tools.SMTP.Username,
			Password: cfg.Tools.SMTP.Password,
			From:     cfg.Tools.SMTP.From,
			UseTLS:   cfg.Tools.SMTP.UseTLS,
		},
		Trigger:       trig,
		Summarizer:    summ,
		Outbound:      chMgr,
		DataDir:       cfg.DataDir,
		AssistantName: cfg.Name,
		Timezone:      cfg.Timezone,
		DebugEnabled:  cfg.Debug.Enabled,
		Logger:        logger,
	})
	engine.Wire(gw, gw)

	sched := scheduler.New(repo, engine, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	channelFilter, _ := cmd.Flags().GetStringSlice("channel")
	registerChannels(cfg, chMgr, channelFilter, logger)

	handler := func(ctx context.Context, rawUserID, message, channel string) (string, error) {
		resp, err := gw.Handle(ctx, rawUserID, message, channel, gateway.Options{})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	go chMgr.StartAll(ctx, handler)

	logger.Info("hive running, press Ctrl+C to stop",
		"name", cfg.Name,
		"data_dir", cfg.DataDir,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")
	chMgr.StopAll()

	return nil
}

// registerChannels registers every channel shouldEnable selects against cfg.
func registerChannels(cfg *config.Config, mgr *channels.Manager, filter []string, logger *slog.Logger) {
	if cfg.Channels.Telegram.Enabled && shouldEnable("telegram", filter, true) {
		if cfg.Channels.Telegram.BotToken == "" {
			logger.Warn("telegram enabled but bot_token is empty, skipping")
		} else {
			mgr.Register(channels.NewTelegram(cfg.Channels.Telegram.BotToken, nil, logger))
			logger.Info("telegram channel registered")
		}
	}
	if cfg.Channels.WhatsApp.Enabled && shouldEnable("whatsapp", filter, true) {
		mgr.Register(channels.NewWhatsApp(cfg.Channels.WhatsApp.SessionDir, nil, logger))
		logger.Info("whatsapp channel registered")
	}
}

// buildProviders constructs the primary and, if configured, fallback LLM
// providers from cfg. Grounded on copilot/llm.go's single-provider
// construction, extended to the spec's primary+fallback pair.
func buildProviders(cfg *config.Config, logger *slog.Logger) (primary llm.Provider, fallback llm.Provider) {
	primary = buildProvider(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL, logger)
	if cfg.LLM.FallbackProvider != "" {
		fallback = buildProvider(cfg.LLM.FallbackProvider, cfg.LLM.FallbackAPIKey, cfg.LLM.FallbackBaseURL, logger)
	}
	return primary, fallback
}

func buildProvider(kind, apiKey, baseURL string, logger *slog.Logger) llm.Provider {
	if kind == "openai_compat" {
		return llm.NewOpenAICompatProvider(baseURL, apiKey, logger)
	}
	return llm.NewAnthropicProvider(apiKey, baseURL)
}

// newLogger builds the process logger per cfg.Logging, promoted to debug
// by --verbose — grounded on serve.go's text/JSON handler selection.
func newLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// resolveConfig loads config from --config, auto-discovers config.yaml,
// or falls back to defaults — grounded on serve.go's resolveConfig.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindFile(); found != "" {
		cfg, err := config.LoadFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	slog.Info("no config file found, using defaults")
	return config.DefaultConfig(), nil
}

// shouldEnable reports whether a channel should be enabled given an
// explicit --channel filter — grounded on serve.go's shouldEnable.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}

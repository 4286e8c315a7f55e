package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/golaw/engine"
	"github.com/nextlevelbuilder/golaw/internal/bootstrap"
	"github.com/nextlevelbuilder/golaw/internal/channels"
	"github.com/nextlevelbuilder/golaw/internal/channels/discord"
	"github.com/nextlevelbuilder/golaw/internal/channels/telegram"
	"github.com/nextlevelbuilder/golaw/internal/gateway"
	mcpbridge "github.com/nextlevelbuilder/golaw/internal/mcp"
	"github.com/nextlevelbuilder/golaw/internal/providers"
	"github.com/nextlevelbuilder/golaw/internal/store/pg"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const keepaliveTimeout = 30 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the WebSocket RPC gateway",
		Long: "Starts the engine plus the WebSocket gateway on gateway.host:gateway.port.\n" +
			"Enabled chat channels (Telegram, Discord) and configured MCP servers are\n" +
			"mounted on the same engine.",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logger := setupLogging()

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	// Engine construction. Managed mode swaps the default SQLite store for
	// Postgres; the schema gate runs first so a stale binary refuses to
	// serve against a newer database.
	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Model.RequestsPerMinute > 0 {
		opts = append(opts, engine.WithModelRateLimit(cfg.Model.RequestsPerMinute))
	}
	if cfg.IsManagedMode() {
		if err := checkSchemaOrAutoUpgrade(cfg.Database.PostgresDSN); err != nil {
			logger.Error("schema compatibility check failed", "error", err)
			os.Exit(1)
		}
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		opts = append(opts, engine.WithStore(pg.New(db)))
	}

	// A fresh install answers nothing without a corpus; seed the starter
	// labor-law documents when the knowledge base is empty.
	if seeded, err := bootstrap.SeedKnowledgeBase(cfg.Engine.KBPath); err != nil {
		logger.Warn("knowledge base seeding failed", "error", err)
	} else if len(seeded) > 0 {
		logger.Info("seeded starter knowledge base", "files", seeded)
	}

	eng, err := engine.New(engine.Config{
		KBPath:        cfg.Engine.KBPath,
		DBPath:        cfg.Engine.DBPath,
		MaxIterations: cfg.Engine.MaxIterations,
	}, opts...)
	if err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	if cfg.Model.APIKey != "" {
		if err := eng.UpdateModelConfig(cfg.Model.ToProtocol()); err != nil {
			logger.Warn("model configuration rejected", "error", err)
		}
	} else {
		logger.Warn("no OpenRouter API key configured; agent runs will fail",
			"hint", "export GOLAW_OPENROUTER_API_KEY or run: golaw onboard")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if shutdownTelemetry := initTelemetry(ctx, cfg, logger); shutdownTelemetry != nil {
		defer shutdownTelemetry(context.Background())
	}

	// Knowledge base watcher caches the search index between queries.
	// Without it the retriever rebuilds per search, which is still correct.
	if err := eng.WatchKnowledge(ctx); err != nil {
		logger.Warn("kb watcher unavailable", "error", err)
	}

	if len(cfg.MCP) > 0 {
		mcpMgr := mcpbridge.NewManager(eng.Tools(), logger)
		if err := mcpMgr.Start(ctx, cfg.MCP); err != nil {
			logger.Warn("mcp startup errors", "error", err)
		}
		defer mcpMgr.Stop()
		logger.Info("mcp servers mounted", "configured", len(cfg.MCP), "tools", len(mcpMgr.ToolNames()))
	}

	channelMgr := channels.NewManager(eng, logger)
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, eng, channelMgr, logger)
		if err != nil {
			logger.Error("failed to initialize telegram channel", "error", err)
		} else {
			channelMgr.Register(tg)
		}
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := discord.New(cfg.Channels.Discord, eng, channelMgr, logger)
		if err != nil {
			logger.Error("failed to initialize discord channel", "error", err)
		} else {
			channelMgr.Register(dc)
		}
	}
	if err := channelMgr.StartAll(ctx); err != nil {
		logger.Error("failed to start channels", "error", err)
	}
	defer channelMgr.StopAll(context.Background())

	// Scheduled connectivity probe. Keeps credentials validated between
	// real requests so a revoked key surfaces before a user hits it.
	if cfg.Model.PingCron != "" && cfg.Model.APIKey != "" {
		pinger, err := providers.NewPinger(cfg.Model.PingCron, func(pctx context.Context) {
			pctx, pcancel := context.WithTimeout(pctx, keepaliveTimeout)
			defer pcancel()
			if err := eng.TestModelConnection(pctx); err != nil {
				logger.Warn("model keepalive failed", "error", err)
				return
			}
			logger.Debug("model keepalive ok")
		})
		if err != nil {
			logger.Warn("model pinger disabled", "error", err)
		} else {
			go pinger.Run(ctx)
			logger.Info("model pinger scheduled", "cron", cfg.Model.PingCron)
		}
	}

	server := gateway.NewServer(cfg, eng, logger)

	mode := "standalone"
	if cfg.IsManagedMode() {
		mode = "managed"
	}
	logger.Info("golaw gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"addr", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		"mode", mode,
		"config", cfgPath,
		"tools", len(eng.ListTools()),
		"channels", channelMgr.Names(),
	)

	// Tailscale serves the same mux, so /ws and /health behave identically
	// on both listeners.
	mux := server.BuildMux()
	if tsCleanup := startTailscale(ctx, cfg, mux, logger); tsCleanup != nil {
		defer tsCleanup()
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

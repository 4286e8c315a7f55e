package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/golaw/internal/config"
	"github.com/nextlevelbuilder/golaw/internal/retrieval"
	"github.com/nextlevelbuilder/golaw/internal/store/pg"
	"github.com/nextlevelbuilder/golaw/internal/store/sqlite"
	"github.com/nextlevelbuilder/golaw/internal/upgrade"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("golaw doctor")
	fmt.Printf("  Version:  %s (protocol %s)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults plus environment apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	cfg.ExpandPaths()

	fmt.Println()
	fmt.Println("  Storage:")
	if cfg.IsManagedMode() {
		checkManagedStore(cfg)
	} else {
		checkStandaloneStore(cfg)
	}

	fmt.Println()
	fmt.Println("  Model:")
	checkModel(cfg)

	fmt.Println()
	fmt.Println("  Knowledge:")
	checkKnowledge(cfg)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	fmt.Println("  MCP servers:")
	if len(cfg.MCP) == 0 {
		fmt.Println("    (none configured)")
	} else {
		for name, server := range cfg.MCP {
			fmt.Printf("    %-12s %s %s\n", name+":", server.Command, strings.Join(server.Args, " "))
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkManagedStore(cfg *config.Config) {
	fmt.Printf("    %-12s managed (postgres)\n", "Mode:")

	db, err := pg.OpenDB(cfg.Database.PostgresDSN)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	fmt.Printf("    %-12s connected\n", "Status:")

	s := upgrade.CheckSchema(db)
	switch {
	case s.Dirty:
		fmt.Printf("    %-12s v%d (DIRTY — run: golaw migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Printf("    %-12s v%d (upgrade needed — run: golaw migrate up)\n", "Schema:", s.CurrentVersion)
	}

	pending, err := upgrade.PendingHooks(context.Background(), db)
	if err == nil && len(pending) > 0 {
		fmt.Printf("    %-12s %d pending\n", "Data hooks:", len(pending))
	} else if err == nil {
		fmt.Printf("    %-12s all applied\n", "Data hooks:")
	}
}

func checkStandaloneStore(cfg *config.Config) {
	fmt.Printf("    %-12s standalone (sqlite)\n", "Mode:")
	fmt.Printf("    %-12s %s", "Path:", cfg.Engine.DBPath)

	if _, err := os.Stat(cfg.Engine.DBPath); err != nil {
		fmt.Println(" (not created yet — written on first run)")
		return
	}
	fmt.Println(" (OK)")

	st, err := sqlite.Open(cfg.Engine.DBPath)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
		return
	}
	defer st.Close()

	sessions, err := st.ListSessions(context.Background())
	if err != nil {
		fmt.Printf("    %-12s LIST FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s %d session(s)\n", "Sessions:", len(sessions))
}

func checkModel(cfg *config.Config) {
	if cfg.Model.APIKey != "" {
		fmt.Printf("    %-12s %s\n", "API key:", maskSecret(cfg.Model.APIKey))
	} else {
		fmt.Printf("    %-12s (not configured — export GOLAW_OPENROUTER_API_KEY or run: golaw onboard)\n", "API key:")
	}
	fmt.Printf("    %-12s %s\n", "Model:", cfg.Model.ModelName)
	if cfg.Model.BaseURL != "" {
		fmt.Printf("    %-12s %s\n", "Base URL:", cfg.Model.BaseURL)
	}
	if cfg.Model.PingCron != "" {
		fmt.Printf("    %-12s %s\n", "Keepalive:", cfg.Model.PingCron)
	}
}

func checkKnowledge(cfg *config.Config) {
	fmt.Printf("    %-12s %s\n", "Path:", cfg.Engine.KBPath)

	info, err := retrieval.New(cfg.Engine.KBPath).Info()
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND (seed with: golaw kb seed)\n", "Status:")
		return
	}
	if info.FileCount == 0 {
		fmt.Printf("    %-12s empty (seed with: golaw kb seed)\n", "Status:")
		return
	}
	fmt.Printf("    %-12s %d file(s)\n", "Files:", info.FileCount)
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/golaw/internal/bootstrap"
	"github.com/nextlevelbuilder/golaw/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "First-run setup: write the config file and seed the knowledge base",
		Long: `Create the golaw config file and seed the starter knowledge base.

With GOLAW_OPENROUTER_API_KEY set the setup runs non-interactively, which
keeps Docker and CI bootstraps scriptable. Otherwise an interactive form
collects the essentials.`,
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			cfgPath := resolveConfigPath()

			var err error
			if os.Getenv("GOLAW_OPENROUTER_API_KEY") != "" {
				err = runAutoOnboard(cfgPath)
			} else {
				err = runInteractiveOnboard(cfgPath)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
}

// runAutoOnboard performs non-interactive setup from environment variables.
// The API key stays in the environment; only non-secret settings land in
// the file.
func runAutoOnboard(cfgPath string) error {
	fmt.Println("Auto-onboard: GOLAW_OPENROUTER_API_KEY detected, running non-interactive setup...")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if cfg.Gateway.Token == "" {
		cfg.Gateway.Token = generateToken(16)
		fmt.Println("  Generated gateway token")
	}

	apiKey := cfg.Model.APIKey
	cfg.Model.APIKey = ""
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	cfg.Model.APIKey = apiKey
	fmt.Printf("  Config saved to %s (API key stays in the environment)\n", cfgPath)

	cfg.ExpandPaths()
	created, err := bootstrap.SeedKnowledgeBase(cfg.Engine.KBPath)
	if err != nil {
		return err
	}
	fmt.Printf("  Knowledge base: %d starter document(s) written\n", len(created))

	fmt.Println("Auto-onboard complete. Start the gateway with: golaw gateway")
	return nil
}

func runInteractiveOnboard(cfgPath string) error {
	if _, err := os.Stat(cfgPath); err == nil {
		var overwrite bool
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Config already exists at %s. Overwrite?", cfgPath)).
			Value(&overwrite).
			Run()
		if err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.Default()

	var (
		apiKey   string
		model    = cfg.Model.ModelName
		mode     = "standalone"
		port     = strconv.Itoa(cfg.Gateway.Port)
		telegram string
		discord  string
		genToken = true
		seed     = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("OpenRouter API key").
				Description("Leave empty to keep supplying it via GOLAW_OPENROUTER_API_KEY.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().
				Title("Model").
				Value(&model),
			huh.NewSelect[string]().
				Title("Storage mode").
				Description("standalone: embedded SQLite. managed: Postgres via GOLAW_POSTGRES_DSN.").
				Options(
					huh.NewOption("standalone (SQLite)", "standalone"),
					huh.NewOption("managed (Postgres)", "managed"),
				).
				Value(&mode),
			huh.NewInput().
				Title("Gateway port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("not a valid port: %s", s)
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("Optional, enables the Telegram channel.").
				EchoMode(huh.EchoModePassword).
				Value(&telegram),
			huh.NewInput().
				Title("Discord bot token").
				Description("Optional, enables the Discord channel.").
				EchoMode(huh.EchoModePassword).
				Value(&discord),
			huh.NewConfirm().
				Title("Generate a gateway auth token?").
				Value(&genToken),
			huh.NewConfirm().
				Title("Seed the starter labor-law knowledge base?").
				Value(&seed),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Model.APIKey = apiKey
	if model != "" {
		cfg.Model.ModelName = model
	}
	cfg.Database.Mode = mode
	if n, err := strconv.Atoi(port); err == nil {
		cfg.Gateway.Port = n
	}
	if telegram != "" {
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.Token = telegram
	}
	if discord != "" {
		cfg.Channels.Discord.Enabled = true
		cfg.Channels.Discord.Token = discord
	}
	if genToken {
		cfg.Gateway.Token = generateToken(16)
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Printf("\nConfig saved to %s\n", cfgPath)

	if seed {
		cfg.ExpandPaths()
		created, err := bootstrap.SeedKnowledgeBase(cfg.Engine.KBPath)
		if err != nil {
			return err
		}
		if len(created) > 0 {
			fmt.Printf("Knowledge base: %d starter document(s) written to %s\n", len(created), cfg.Engine.KBPath)
		} else {
			fmt.Println("Knowledge base already seeded.")
		}
	}

	if mode == "managed" {
		fmt.Println("\nManaged mode next steps:")
		fmt.Println("  export GOLAW_POSTGRES_DSN=postgres://...")
		fmt.Println("  golaw migrate up")
	}
	fmt.Println("\nAll set. Start with: golaw gateway   (or talk directly: golaw chat)")
	return nil
}

func generateToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

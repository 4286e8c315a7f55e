package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

const secretMask = "***"

// DefaultConfigPath returns the config file location, honoring
// GOLAW_CONFIG_PATH when set.
func DefaultConfigPath() string {
	if p := os.Getenv("GOLAW_CONFIG_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "golaw.json"
	}
	return filepath.Join(home, ".golaw", "golaw.json")
}

// Default returns the built-in configuration. Paths live under ~/.golaw.
func Default() *Config {
	base := "~/.golaw"
	return &Config{
		Engine: EngineConfig{
			DBPath:        filepath.Join(base, "data", "golaw.db"),
			KBPath:        filepath.Join(base, "kb"),
			MaxIterations: 12,
			ExportDir:     filepath.Join(base, "exports"),
		},
		Model: ModelConfig{
			ModelName:           "openrouter/free",
			RetryMaxRetries:     3,
			RetryInitialDelayMS: 200,
			RetryMaxDelayMS:     10_000,
			RetryBackoffFactor:  2.0,
		},
		Database: DatabaseConfig{Mode: "standalone"},
		Gateway: GatewayConfig{
			Host:         "127.0.0.1",
			Port:         18990,
			RateLimitRPM: 120,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{MediaDir: filepath.Join(base, "media")},
			Discord:  DiscordConfig{CommandPrefix: "!law"},
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "golaw-gateway",
		},
	}
}

// Load reads the config file at path (JSON5), overlaying defaults and then
// environment variables. A missing file is not an error: defaults plus env
// are returned so `golaw chat` works with nothing but an API key exported.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("GOLAW_DB_PATH", &c.Engine.DBPath)
	envStr("GOLAW_KB_PATH", &c.Engine.KBPath)
	envStr("GOLAW_EXPORT_DIR", &c.Engine.ExportDir)
	envInt("GOLAW_MAX_ITERATIONS", &c.Engine.MaxIterations)

	envStr("GOLAW_OPENROUTER_API_KEY", &c.Model.APIKey)
	envStr("GOLAW_MODEL", &c.Model.ModelName)
	envStr("GOLAW_BASE_URL", &c.Model.BaseURL)
	envStr("GOLAW_MODEL_PING_CRON", &c.Model.PingCron)

	envStr("GOLAW_MODE", &c.Database.Mode)
	envStr("GOLAW_POSTGRES_DSN", &c.Database.PostgresDSN)

	envStr("GOLAW_HOST", &c.Gateway.Host)
	envInt("GOLAW_PORT", &c.Gateway.Port)
	envStr("GOLAW_GATEWAY_TOKEN", &c.Gateway.Token)

	// Channel tokens from env also switch the channel on, so a bare
	// `GOLAW_TELEGRAM_TOKEN=... golaw gateway` works without a file edit.
	if v := os.Getenv("GOLAW_TELEGRAM_TOKEN"); v != "" {
		c.Channels.Telegram.Token = v
		c.Channels.Telegram.Enabled = true
	}
	if v := os.Getenv("GOLAW_DISCORD_TOKEN"); v != "" {
		c.Channels.Discord.Token = v
		c.Channels.Discord.Enabled = true
	}

	envStr("GOLAW_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("GOLAW_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("GOLAW_TSNET_STATE_DIR", &c.Tailscale.StateDir)

	if v := os.Getenv("GOLAW_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	envStr("GOLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("GOLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
}

// Save writes cfg as indented JSON with owner-only permissions. Secrets that
// come from env only (DSN, tsnet auth key) are excluded by their json tags.
func Save(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// MaskedCopy returns a copy safe for display: secrets replaced with "***".
func (c *Config) MaskedCopy() Config {
	out := *c
	if out.Model.APIKey != "" {
		out.Model.APIKey = secretMask
	}
	if out.Gateway.Token != "" {
		out.Gateway.Token = secretMask
	}
	if out.Channels.Telegram.Token != "" {
		out.Channels.Telegram.Token = secretMask
	}
	if out.Channels.Discord.Token != "" {
		out.Channels.Discord.Token = secretMask
	}
	if out.Database.PostgresDSN != "" {
		out.Database.PostgresDSN = secretMask
	}
	if out.Tailscale.AuthKey != "" {
		out.Tailscale.AuthKey = secretMask
	}
	return out
}

// ExpandHome replaces a leading ~ with the current user's home directory.
func ExpandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		if p == "~" {
			return home
		}
		return filepath.Join(home, p[2:])
	}
	return p
}

// ExpandPaths resolves every path-valued field in place.
func (c *Config) ExpandPaths() {
	c.Engine.DBPath = ExpandHome(c.Engine.DBPath)
	c.Engine.KBPath = ExpandHome(c.Engine.KBPath)
	c.Engine.ExportDir = ExpandHome(c.Engine.ExportDir)
	c.Channels.Telegram.MediaDir = ExpandHome(c.Channels.Telegram.MediaDir)
	c.Tailscale.StateDir = ExpandHome(c.Tailscale.StateDir)
}

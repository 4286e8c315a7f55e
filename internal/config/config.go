// Package config loads the golaw configuration file and overlays
// environment variables on top of it.
package config

import (
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// Config is the root configuration shared by the gateway, the CLI and
// embedded engines.
type Config struct {
	Engine    EngineConfig               `json:"engine"`
	Model     ModelConfig                `json:"model"`
	Database  DatabaseConfig             `json:"database,omitempty"`
	Gateway   GatewayConfig              `json:"gateway"`
	Channels  ChannelsConfig             `json:"channels"`
	MCP       map[string]MCPServerConfig `json:"mcp_servers,omitempty"`
	Telemetry TelemetryConfig            `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig            `json:"tailscale,omitempty"`
}

// EngineConfig holds the settings the advisory engine itself consumes.
type EngineConfig struct {
	DBPath        string `json:"db_path"`
	KBPath        string `json:"kb_path"`
	MaxIterations int    `json:"max_iterations"`
	ExportDir     string `json:"export_dir,omitempty"`
}

// ModelConfig configures the OpenRouter connector plus gateway-side extras
// (request rate limit, connectivity ping schedule) the engine does not need.
// APIKey is read from env GOLAW_OPENROUTER_API_KEY when not in the file.
type ModelConfig struct {
	APIKey              string  `json:"api_key,omitempty"`
	ModelName           string  `json:"model_name"`
	BaseURL             string  `json:"base_url,omitempty"`
	RetryMaxRetries     int     `json:"retry_max_retries,omitempty"`
	RetryInitialDelayMS int64   `json:"retry_initial_delay_ms,omitempty"`
	RetryMaxDelayMS     int64   `json:"retry_max_delay_ms,omitempty"`
	RetryBackoffFactor  float64 `json:"retry_backoff_factor,omitempty"`
	RequestsPerMinute   int     `json:"requests_per_minute,omitempty"`
	PingCron            string  `json:"ping_cron,omitempty"` // cron expression, empty disables the pinger
}

// ToProtocol converts file-level model settings into the form the engine's
// UpdateModelConfig accepts.
func (m ModelConfig) ToProtocol() protocol.ModelConfig {
	return protocol.ModelConfig{
		APIKey:             m.APIKey,
		ModelName:          m.ModelName,
		BaseURL:            m.BaseURL,
		RetryMaxRetries:    m.RetryMaxRetries,
		RetryInitialDelay:  m.RetryInitialDelayMS,
		RetryMaxDelay:      m.RetryMaxDelayMS,
		RetryBackoffFactor: m.RetryBackoffFactor,
	}
}

// DatabaseConfig selects the persistence backend.
// Mode "standalone" (default) uses embedded SQLite at engine.db_path.
// Mode "managed" uses Postgres. PostgresDSN is NEVER read from the config
// file (secret), only from env GOLAW_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"`
}

// IsManagedMode reports whether the gateway should run against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// GatewayConfig configures the WebSocket RPC server.
// Token is read from env GOLAW_GATEWAY_TOKEN when not in the file.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"`
}

// ChannelsConfig enables chat-platform frontends served by the gateway.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig configures the Telegram long-polling channel.
// Token comes from env GOLAW_TELEGRAM_TOKEN when not in the file; setting
// the env var also enables the channel.
type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"`
	MediaDir     string  `json:"media_dir,omitempty"`
	AllowedChats []int64 `json:"allowed_chats,omitempty"`
}

// DiscordConfig configures the Discord channel. Same env convention as
// Telegram, via GOLAW_DISCORD_TOKEN.
type DiscordConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token,omitempty"`
	CommandPrefix string `json:"command_prefix,omitempty"`
}

// MCPServerConfig describes one external MCP server whose tools are mounted
// into the engine registry under mcp_{server}_{tool}.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// TelemetryConfig configures OTLP trace export. When enabled, agent run and
// tool execution spans go to an OTLP-compatible backend.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "golaw-gateway"
	Headers     map[string]string `json:"headers,omitempty"`
}

// TailscaleConfig configures the optional tsnet listener. Empty hostname
// disables it. Auth key from env GOLAW_TSNET_AUTH_KEY only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

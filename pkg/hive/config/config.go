// Package config loads and saves the daemon's single YAML configuration
// file, the way pkg/goclaw/copilot/loader.go does: a struct populated with
// defaults first, then overlaid with whatever the YAML document supplies.
package config

import "time"

// Config is the root configuration document.
type Config struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
	Language string `yaml:"language"`
	DataDir  string `yaml:"data_dir"`

	Store    StoreConfig    `yaml:"store"`
	LLM      LLMConfig      `yaml:"llm"`
	Tools    ToolsConfig    `yaml:"tools"`
	Channels ChannelsConfig `yaml:"channels"`
	Debug    DebugConfig    `yaml:"debug"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig selects and configures the persistence backend (C1).
type StoreConfig struct {
	// PostgresDSN, when set, selects the pgx backend in place of sqlite.
	PostgresDSN string `yaml:"postgres_dsn"`
	// SQLitePath is relative to DataDir when not absolute. Defaults to data.db.
	SQLitePath string `yaml:"sqlite_path"`
}

// LLMConfig configures the provider plug shared by the Orchestrator and
// Executor (C2/C4).
type LLMConfig struct {
	// Provider selects the primary backend: "anthropic" or "openai_compat".
	Provider string `yaml:"provider"`
	// APIKey is the resolved key for the primary provider; see keyring.go
	// for the keyring → env → config resolution chain applied to this field.
	APIKey string `yaml:"api_key"`
	// BaseURL is the openai_compat endpoint base; for the anthropic provider
	// a non-empty value overrides the SDK's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Fallback provider configuration, used once if the primary fails.
	FallbackProvider string `yaml:"fallback_provider"`
	FallbackAPIKey   string `yaml:"fallback_api_key"`
	FallbackBaseURL  string `yaml:"fallback_base_url"`

	Models ModelTiers `yaml:"models"`
}

// ModelTiers maps the logical model names used throughout the spec to
// concrete provider model ids.
type ModelTiers struct {
	Haiku  string `yaml:"haiku"`
	Sonnet string `yaml:"sonnet"`
	Opus   string `yaml:"opus"`
}

// ToolsConfig configures the tool registry (C6).
type ToolsConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

// SMTPConfig configures the send_email tool's go-mail client.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use_tls"`
}

// ChannelsConfig configures the channel adapter boundary (B1).
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// TelegramConfig configures the Telegram bot adapter.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// WhatsAppConfig configures the WhatsApp multi-device adapter.
type WhatsAppConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SessionDir string `yaml:"session_dir"`
}

// DebugConfig toggles the Gateway's fire-and-forget debug log (§4.6 step 16).
type DebugConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// DefaultConfig returns a Config populated with sane defaults, the base
// that Parse overlays a YAML document onto.
func DefaultConfig() *Config {
	return &Config{
		Name:     "hive",
		Timezone: "UTC",
		Language: "en",
		DataDir:  "./data",
		Store: StoreConfig{
			SQLitePath: "data.db",
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			Models: ModelTiers{
				Haiku:  "claude-haiku-4-5",
				Sonnet: "claude-sonnet-4-5",
				Opus:   "claude-opus-4-1",
			},
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{SessionDir: "./data/whatsapp"},
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Location resolves the daemon's timezone. It returns an error when the
// configured zone doesn't parse; it does not fall back to UTC itself.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Package config loads agent configuration from YAML plus a .env file,
// and resolves secrets through the OS keyring before falling back to
// environment variables and plaintext config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all agent configuration.
type Config struct {
	// DataDir is where the database and credential files live.
	DataDir string `yaml:"data_dir"`

	// Telegram configures the Bot API connection.
	Telegram TelegramConfig `yaml:"telegram"`

	// Provider configures which AI backend generates replies.
	Provider ProviderConfig `yaml:"provider"`

	// Credentials configures OAuth token storage.
	Credentials CredentialsConfig `yaml:"credentials"`

	// Relay configures the message loop.
	Relay RelayConfig `yaml:"relay"`
}

// TelegramConfig configures the Bot API connection.
type TelegramConfig struct {
	// Token is the bot token from @BotFather. Prefer the keyring or
	// the TGAGENT_BOT_TOKEN environment variable over this field.
	Token string `yaml:"token"`

	// Contact is the chat to relay for: a numeric ID or @username.
	Contact string `yaml:"contact"`
}

// ProviderConfig selects and tunes the AI backend.
type ProviderConfig struct {
	// Name is "qwen" (device flow) or "google" (auth-code flow).
	Name string `yaml:"name"`

	// QwenModel overrides the default Qwen model.
	QwenModel string `yaml:"qwen_model"`

	// GeminiModel overrides the default Gemini model.
	GeminiModel string `yaml:"gemini_model"`

	// ClientSecretPath is the Google OAuth client_secret.json location.
	ClientSecretPath string `yaml:"client_secret_path"`
}

// CredentialsConfig configures OAuth token storage.
type CredentialsConfig struct {
	// Backend is "sqlite" (tokens in the main database) or "vault"
	// (password-protected encrypted file).
	Backend string `yaml:"backend"`
}

// RelayConfig configures the message loop.
type RelayConfig struct {
	// AutoReply sends generated replies without prompting.
	AutoReply bool `yaml:"auto_reply"`

	// AutoReplyDelaySeconds is waited before an automatic reply.
	AutoReplyDelaySeconds int `yaml:"auto_reply_delay_seconds"`

	// AutoReplyStart and AutoReplyStop are cron expressions toggling
	// auto-reply mode (e.g. "0 23 * * *" / "0 7 * * *").
	AutoReplyStart string `yaml:"auto_reply_start"`
	AutoReplyStop  string `yaml:"auto_reply_stop"`

	// ContextLimit is how many recent messages feed generation.
	ContextLimit int `yaml:"context_limit"`

	// AlternativeCount is how many drafts the alternatives action shows.
	AlternativeCount int `yaml:"alternative_count"`
}

// Default returns a Config with defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".tgagent"),
		Provider: ProviderConfig{
			Name: "qwen",
		},
		Credentials: CredentialsConfig{
			Backend: "sqlite",
		},
		Relay: RelayConfig{
			ContextLimit:     15,
			AlternativeCount: 3,
		},
	}
}

// Load reads configuration from path, layered over defaults. A missing
// file is not an error; the defaults are returned. A .env file in the
// working directory is loaded first so ${ENV} secrets are available.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would fail later in confusing ways.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "qwen", "google":
	default:
		return fmt.Errorf("provider.name must be \"qwen\" or \"google\", got %q", c.Provider.Name)
	}
	switch c.Credentials.Backend {
	case "sqlite", "vault":
	default:
		return fmt.Errorf("credentials.backend must be \"sqlite\" or \"vault\", got %q", c.Credentials.Backend)
	}
	if c.Relay.AutoReplyDelaySeconds < 0 {
		return fmt.Errorf("relay.auto_reply_delay_seconds must not be negative")
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "agent.db")
}

// VaultPath returns the encrypted credential vault location.
func (c *Config) VaultPath() string {
	return filepath.Join(c.DataDir, "credentials.vault")
}

// AutoReplyDelay returns the configured delay as a duration.
func (c *Config) AutoReplyDelay() time.Duration {
	return time.Duration(c.Relay.AutoReplyDelaySeconds) * time.Second
}

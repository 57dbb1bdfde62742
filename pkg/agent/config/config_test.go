package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "qwen" {
		t.Errorf("default provider = %q", cfg.Provider.Name)
	}
	if cfg.Credentials.Backend != "sqlite" {
		t.Errorf("default backend = %q", cfg.Credentials.Backend)
	}
	if cfg.Relay.ContextLimit != 15 || cfg.Relay.AlternativeCount != 3 {
		t.Errorf("relay defaults = %+v", cfg.Relay)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/tgagent-test
telegram:
  contact: "@alice"
provider:
  name: google
  gemini_model: gemini-1.5-pro
  client_secret_path: /tmp/client_secret.json
credentials:
  backend: vault
relay:
  auto_reply: true
  auto_reply_delay_seconds: 30
  auto_reply_start: "0 23 * * *"
  auto_reply_stop: "0 7 * * *"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Name != "google" || cfg.Provider.GeminiModel != "gemini-1.5-pro" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Credentials.Backend != "vault" {
		t.Errorf("backend = %q", cfg.Credentials.Backend)
	}
	if !cfg.Relay.AutoReply || cfg.AutoReplyDelay() != 30*time.Second {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	// Untouched fields keep their defaults.
	if cfg.Relay.ContextLimit != 15 {
		t.Errorf("ContextLimit = %d, want default 15", cfg.Relay.ContextLimit)
	}
	if cfg.DatabasePath() != "/tmp/tgagent-test/agent.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath())
	}
	if cfg.VaultPath() != "/tmp/tgagent-test/credentials.vault" {
		t.Errorf("VaultPath = %q", cfg.VaultPath())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []string{
		"provider:\n  name: openai\n",
		"credentials:\n  backend: redis\n",
		"relay:\n  auto_reply_delay_seconds: -5\n",
	}
	for _, content := range tests {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("Load accepted invalid config:\n%s", content)
		}
	}
}

func TestResolveBotTokenEnvFallback(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "from-config"

	t.Setenv(envBotToken, "from-env")
	if got := cfg.ResolveBotToken(); got != "from-env" && got != GetKeyring(KeyringBotToken) {
		// Keyring may shadow env on developer machines; only assert the
		// env/config ordering.
		if GetKeyring(KeyringBotToken) == "" {
			t.Errorf("ResolveBotToken = %q, want from-env", got)
		}
	}

	t.Setenv(envBotToken, "")
	if GetKeyring(KeyringBotToken) == "" {
		if got := cfg.ResolveBotToken(); got != "from-config" {
			t.Errorf("ResolveBotToken = %q, want from-config", got)
		}
	}
}

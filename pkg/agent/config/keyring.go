package config

import (
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "tgagent"

	// KeyringBotToken is the keyring entry for the Telegram bot token.
	KeyringBotToken = "bot_token"

	// envBotToken is the environment fallback for the bot token.
	envBotToken = "TGAGENT_BOT_TOKEN"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring. Returns empty
// string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__tgagent_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveBotToken resolves the Telegram bot token using the priority
// chain: OS keyring, environment variable (.env included), config file
// value.
func (c *Config) ResolveBotToken() string {
	if tok := GetKeyring(KeyringBotToken); tok != "" {
		return tok
	}
	if tok := os.Getenv(envBotToken); tok != "" {
		return tok
	}
	return c.Telegram.Token
}

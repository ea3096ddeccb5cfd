// keyring.go resolves the operator's own LLM API key through a priority
// chain: OS keyring (most secure) -> environment variable -> .env file ->
// config.yaml value (least secure, plaintext on disk). This is distinct
// from the per-user credential vault (pkg/hive/vault): this key belongs to
// the process, not to any one User entity.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "hive-assistant"
	keyringAPIKey  = "api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" if not found.
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

// KeyringAvailable checks if the OS keyring is accessible on this host.
func KeyringAvailable() bool {
	testKey := "__hive_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// LoadDotEnv loads a .env file into the process environment if present;
// a missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// ResolveAPIKey resolves cfg.LLM.APIKey in place using the priority chain
// keyring -> HIVE_API_KEY env -> existing config value.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) {
	if val := GetKeyring(keyringAPIKey); val != "" {
		cfg.LLM.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return
	}
	if val := strings.TrimSpace(os.Getenv("HIVE_API_KEY")); val != "" {
		cfg.LLM.APIKey = val
		logger.Debug("API key loaded from environment")
		return
	}
	if cfg.LLM.APIKey != "" {
		logger.Debug("API key loaded from config file")
		return
	}
	logger.Warn("no LLM API key found; set one with: hive config set-key")
}

// MigrateKeyToKeyring moves an API key from config/env into the OS keyring.
func MigrateKeyToKeyring(apiKey string, logger *slog.Logger) error {
	if err := StoreKeyring(keyringAPIKey, apiKey); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("API key stored in OS keyring", "service", keyringService)
	return nil
}

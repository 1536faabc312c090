// Package agent – keyring.go provides credential storage using the operating
// system's native keyring (Linux: Secret Service, macOS: Keychain, Windows:
// Credential Manager).
//
// Priority for resolving the API key:
//  1. Encrypted vault (~/.config/termclaw/termclaw.vault, requires master password)
//  2. OS keyring
//  3. Environment variable (TERMCLAW_API_KEY, OPENAI_API_KEY, ...)
//  4. .env file (loaded by godotenv)
//  5. config.yaml value (least secure — plaintext on disk)
package agent

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "termclaw"

	// keyringAPIKey is the key name for the LLM API key.
	keyringAPIKey = "api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
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
	testKey := "__termclaw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveAPIKey fills cfg.API.APIKey from the vault or the OS keyring when
// the config/env chain left it empty. Returns the unlocked vault so callers
// can reuse it, or nil when no vault is involved.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) *Vault {
	if cfg.API.APIKey != "" && !IsEnvReference(cfg.API.APIKey) {
		return nil
	}

	vault := NewVault(VaultPath())
	if vault.Exists() {
		password, err := PromptPassword("Vault master password: ")
		if err == nil {
			if err := vault.Unlock(password); err != nil {
				logger.Warn("vault unlock failed", "error", err)
			} else if key, err := vault.Get(keyringAPIKey); err == nil && key != "" {
				cfg.API.APIKey = key
				return vault
			}
		}
	}

	if key := GetKeyring(keyringAPIKey); key != "" {
		cfg.API.APIKey = key
	}
	return nil
}

// AuditSecrets warns when the API key appears hardcoded in the config file.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	if cfg.API.APIKey != "" && !IsEnvReference(cfg.API.APIKey) && looksLikeRealKey(cfg.API.APIKey) {
		logger.Warn("API key appears to be hardcoded in config. "+
			"Prefer 'termclaw auth set' or the TERMCLAW_API_KEY environment variable.",
			"hint", "set 'api_key: ${TERMCLAW_API_KEY}' in config.yaml")
	}
}

// looksLikeRealKey is a heuristic: real provider keys are long and start
// with a known prefix.
func looksLikeRealKey(value string) bool {
	if len(value) < 20 {
		return false
	}
	prefixes := []string{"sk-", "sk-ant-", "gsk_", "xai-", "or-"}
	for _, p := range prefixes {
		if len(value) > len(p) && value[:len(p)] == p {
			return true
		}
	}
	return len(value) >= 32
}

// PromptPassword reads a password from the terminal without echo.
func PromptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}

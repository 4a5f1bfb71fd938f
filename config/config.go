// Package config loads process configuration from the environment, with an
// optional .env file for local development. Configuration is validated
// fail-fast at startup so misconfiguration never surfaces per request.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full causepayd process configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// ExecutorURL is the blockchain executor base URL.
	ExecutorURL string

	// ExecutorKeyID and ExecutorKeyPEM configure JWT auth against the
	// executor. Both empty disables auth (local development).
	ExecutorKeyID  string
	ExecutorKeyPEM string

	// PostgresDSN selects the persistent ledger store. Empty runs the
	// in-memory store.
	PostgresDSN string

	// VaultID names the custody vault.
	VaultID string

	// VaultKeyEnv names the environment variable holding the vault key
	// (production). VaultKeyFile points at a local keygen file instead
	// (development only). Exactly one must be set.
	VaultKeyEnv  string
	VaultKeyFile string

	// PlatformWallet receives the platform's fee share of minted tokens.
	PlatformWallet string

	// CatalogFile points at the JSON file defining tokens and causes.
	CatalogFile string

	// FeeRate is the platform's share of every deposit, in [0, 1).
	FeeRate float64

	// Validity bounds how long quotes and bundles wait for confirmation.
	Validity time.Duration

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:     getEnv("CAUSEPAY_LISTEN_ADDR", ":8080"),
		ExecutorURL:    getEnv("CAUSEPAY_EXECUTOR_URL", ""),
		ExecutorKeyID:  getEnv("CAUSEPAY_EXECUTOR_KEY_ID", ""),
		ExecutorKeyPEM: getEnv("CAUSEPAY_EXECUTOR_KEY_PEM", ""),
		PostgresDSN:    getEnv("CAUSEPAY_POSTGRES_DSN", ""),
		VaultID:        getEnv("CAUSEPAY_VAULT_ID", "primary"),
		VaultKeyEnv:    getEnv("CAUSEPAY_VAULT_KEY_ENV", ""),
		VaultKeyFile:   getEnv("CAUSEPAY_VAULT_KEY_FILE", ""),
		PlatformWallet: getEnv("CAUSEPAY_PLATFORM_WALLET", ""),
		CatalogFile:    getEnv("CAUSEPAY_CATALOG_FILE", "catalog.json"),
		FeeRate:        getEnvFloat("CAUSEPAY_FEE_RATE", 0.05),
		Validity:       getEnvDuration("CAUSEPAY_QUOTE_VALIDITY", 15*time.Minute),
		LogLevel:       getEnv("CAUSEPAY_LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for startup.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.ExecutorURL == "" {
		return fmt.Errorf("config: CAUSEPAY_EXECUTOR_URL is required")
	}
	if _, err := url.ParseRequestURI(c.ExecutorURL); err != nil {
		return fmt.Errorf("config: invalid executor URL: %w", err)
	}
	if (c.ExecutorKeyID == "") != (c.ExecutorKeyPEM == "") {
		return fmt.Errorf("config: executor key id and key PEM must be set together")
	}
	if c.VaultID == "" {
		return fmt.Errorf("config: vault id must not be empty")
	}
	if (c.VaultKeyEnv == "") == (c.VaultKeyFile == "") {
		return fmt.Errorf("config: exactly one of CAUSEPAY_VAULT_KEY_ENV and CAUSEPAY_VAULT_KEY_FILE must be set")
	}
	if c.PlatformWallet == "" {
		return fmt.Errorf("config: CAUSEPAY_PLATFORM_WALLET is required")
	}
	if c.CatalogFile == "" {
		return fmt.Errorf("config: catalog file must not be empty")
	}
	if c.FeeRate < 0 || c.FeeRate >= 1 {
		return fmt.Errorf("config: fee rate must be in [0, 1), got %v", c.FeeRate)
	}
	if c.Validity <= 0 {
		return fmt.Errorf("config: quote validity must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

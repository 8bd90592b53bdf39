// Package config provides centralized configuration loading and validation
// for the velocity ops daemon.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all validated configuration for the daemon.
type Config struct {
	// ListenAddr is the address the ops HTTP server binds to (e.g., ":3000").
	ListenAddr string

	// StoreAddrs is the list of counter store shard addresses (host:port).
	StoreAddrs []string

	// StoreReadTimeout bounds read operations against the store.
	StoreReadTimeout time.Duration
	// StoreWriteTimeout bounds write operations against the store.
	StoreWriteTimeout time.Duration

	// DatabaseURL is the PostgreSQL connection string for the audit trail.
	// Empty string disables audit persistence.
	DatabaseURL string

	// AdminAPIToken is the bearer token required for mutating API access.
	AdminAPIToken string

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string
}

// Load reads configuration from environment variables, applies defaults,
// and validates all required values.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":3000"),
		StoreReadTimeout:  time.Duration(getEnvInt("STORE_READ_TIMEOUT_MS", 3000)) * time.Millisecond,
		StoreWriteTimeout: time.Duration(getEnvInt("STORE_WRITE_TIMEOUT_MS", 3000)) * time.Millisecond,
		DatabaseURL:       strings.TrimSpace(getEnv("DATABASE_URL", "")),
		AdminAPIToken:     strings.TrimSpace(getEnv("ADMIN_API_TOKEN", "")),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	// Parse store shard list
	addrsRaw := strings.TrimSpace(getEnv("STORE_ADDRS", "localhost:6379"))
	for _, addr := range strings.Split(addrsRaw, ",") {
		trimmed := strings.TrimSpace(addr)
		if trimmed != "" {
			cfg.StoreAddrs = append(cfg.StoreAddrs, trimmed)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is consistent and safe.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: LISTEN_ADDR is required")
	}
	if len(c.StoreAddrs) == 0 {
		return fmt.Errorf("config: STORE_ADDRS must list at least one host:port")
	}
	for _, addr := range c.StoreAddrs {
		if !strings.Contains(addr, ":") {
			return fmt.Errorf("config: STORE_ADDRS entry %q must be host:port", addr)
		}
	}
	if c.StoreReadTimeout <= 0 || c.StoreWriteTimeout <= 0 {
		return fmt.Errorf("config: store timeouts must be > 0")
	}
	if c.AdminAPIToken == "change-me" {
		return fmt.Errorf("config: ADMIN_API_TOKEN must be changed from default value")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("config: LOG_LEVEL must be one of: debug, info, warn, error; got %q", c.LogLevel)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

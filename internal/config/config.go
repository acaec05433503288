package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration.
type Config struct {
	Environment         string
	HTTPAddr            string
	DatabaseURL         string
	VaultDBPath         string
	RedisURL            string
	BranchID            string
	AllowedCIDRs        []string
	CentralizedCalendar bool
	AutoCloseHour       int
}

// Load loads configuration from environment variables. Development and
// testing run without a database: the ledger falls back to its in-memory
// store and the vault store to sqlite :memory:.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: os.Getenv("APP_ENV"),
		HTTPAddr:    os.Getenv("HTTP_ADDR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		VaultDBPath: os.Getenv("VAULT_DB_PATH"),
		RedisURL:    os.Getenv("REDIS_URL"),
		BranchID:    os.Getenv("BRANCH_ID"),
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if raw := os.Getenv("ALLOWED_CIDRS"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cfg.AllowedCIDRs = append(cfg.AllowedCIDRs, part)
			}
		}
	}

	cfg.CentralizedCalendar = os.Getenv("CENTRALIZED_CALENDAR") == "true"

	cfg.AutoCloseHour = -1
	if raw := os.Getenv("AUTO_CLOSE_HOUR"); raw != "" {
		hour, err := strconv.Atoi(raw)
		if err != nil || hour < 0 || hour > 23 {
			return nil, errors.New("AUTO_CLOSE_HOUR must be an hour between 0 and 23")
		}
		cfg.AutoCloseHour = hour
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is valid for its environment.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.BranchID == "" {
		missing = append(missing, "BRANCH_ID")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	// Production and staging must run on durable storage; development and
	// testing may fall back to in-memory stores.
	if c.Environment == "production" || c.Environment == "staging" {
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if c.VaultDBPath == "" || c.VaultDBPath == ":memory:" {
			missing = append(missing, "VAULT_DB_PATH")
		}
		if len(missing) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
		}
	}

	return nil
}

// Package config loads server configuration from defaults, an optional .env
// file, and CONDUCTOR_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the orchestrator server settings.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `env:"CONDUCTOR_DB_PATH"`
	// ContentPath is the content provider root (workflows/ and agents/).
	ContentPath string `env:"CONDUCTOR_CONTENT_PATH"`
	// Backend selects the content provider implementation.
	Backend string `env:"CONDUCTOR_BACKEND"`
	// DiscoveryMethod selects how projects enter the registry.
	DiscoveryMethod string `env:"CONDUCTOR_DISCOVERY_METHOD"`
	// SeedDB seeds the database content backend from ContentPath on startup.
	SeedDB bool `env:"CONDUCTOR_SEED_DB"`

	// SweepInterval is how often the timeout sweeper runs; zero disables it.
	SweepInterval time.Duration `env:"CONDUCTOR_SWEEP_INTERVAL"`

	LogLevel string `env:"CONDUCTOR_LOG_LEVEL"`

	ServiceName    string `env:"CONDUCTOR_SERVICE_NAME"`
	ServiceVersion string `env:"CONDUCTOR_SERVICE_VERSION"`
}

// Load builds the configuration: defaults, then the env file if given, then
// environment variables.
func Load(envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	base := filepath.Join(home, ".conductor")

	return &Config{
		DBPath:          filepath.Join(base, "conductor.db"),
		ContentPath:     filepath.Join(base, "content"),
		Backend:         "filesystem",
		DiscoveryMethod: "autodiscover",
		SeedDB:          true,
		SweepInterval:   0,
		LogLevel:        "info",
		ServiceName:     "conductor-mcp",
		ServiceVersion:  "dev",
	}
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONDUCTOR_CONTENT_PATH"); v != "" {
		cfg.ContentPath = v
	}
	if v := os.Getenv("CONDUCTOR_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("CONDUCTOR_DISCOVERY_METHOD"); v != "" {
		cfg.DiscoveryMethod = v
	}
	if v := os.Getenv("CONDUCTOR_SEED_DB"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SeedDB = b
		}
	}
	if v := os.Getenv("CONDUCTOR_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SweepInterval = d
		}
	}
	if v := os.Getenv("CONDUCTOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONDUCTOR_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("CONDUCTOR_SERVICE_VERSION"); v != "" {
		cfg.ServiceVersion = v
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	switch c.Backend {
	case "filesystem", "database":
	default:
		return fmt.Errorf("backend must be filesystem or database")
	}
	switch c.DiscoveryMethod {
	case "autodiscover", "manual":
	default:
		return fmt.Errorf("discovery_method must be autodiscover or manual")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval must not be negative")
	}
	return nil
}

// Package config loads service settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. SANDBOX_BIND_ADDR.
const Prefix = "SANDBOX"

const minTimeoutMS = 50

// Bar sources.
const (
	BarsMock     = "mock"
	BarsSQLite   = "sqlite"
	BarsPostgres = "postgres"
)

// Config holds all configuration for the sandbox service.
type Config struct {
	BindAddr         string `envconfig:"BIND_ADDR" default:"127.0.0.1:8190"`
	PortAutoFallback bool   `envconfig:"PORT_AUTO_FALLBACK" default:"true"`
	PortSpan         int    `envconfig:"PORT_SPAN" default:"10"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile          string `envconfig:"LOG_FILE" default:"logs/tv_sandbox.log"`

	BarsSource   string `envconfig:"BARS_SOURCE" default:"sqlite"`
	BarsFallback bool   `envconfig:"BARS_FALLBACK_MOCK" default:"true"`
	SQLitePath   string `envconfig:"SQLITE_PATH" default:"./data/bars.db"`
	PostgresURL  string `envconfig:"POSTGRES_URL"`
	PGPoolMax    int    `envconfig:"PG_POOL_MAX" default:"8"`

	AttachmentsDir string `envconfig:"ATTACHMENTS_DIR" default:"./data/attachments"`
	RegistryFile   string `envconfig:"REGISTRY_FILE" default:"./data/registry.yaml"`
	JournalDir     string `envconfig:"JOURNAL_DIR" default:"./data/journal"`
	JournalMaxMB   int    `envconfig:"JOURNAL_MAX_MB" default:"50"`

	NotifyURL    string   `envconfig:"NOTIFY_URL"`
	NotifyStates []string `envconfig:"NOTIFY_STATES" default:"failed,timed_out"`

	RunTimeoutMS     int `envconfig:"RUN_TIMEOUT_MS" default:"2000"`
	EditorTimeoutMS  int `envconfig:"EDITOR_TIMEOUT_MS" default:"250"`
	MaxTimeoutMS     int `envconfig:"MAX_TIMEOUT_MS" default:"10000"`
	ProgramCacheSize int `envconfig:"PROGRAM_CACHE_SIZE" default:"128"`
}

// Load reads .env (when present) and then the environment.
func Load() (*Config, error) {
	envFile := getEnvOrDefault(Prefix+"_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil {
		slog.Debug("failed to load .env file", "file", envFile, "error", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes values and rejects unusable ones.
func (c *Config) Validate() error {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.BarsSource = strings.ToLower(strings.TrimSpace(c.BarsSource))

	switch c.BarsSource {
	case BarsMock, BarsSQLite:
	case BarsPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("config: %s_POSTGRES_URL is required when %s_BARS_SOURCE=postgres", Prefix, Prefix)
		}
	default:
		return fmt.Errorf("config: unknown bars source %q (want mock, sqlite or postgres)", c.BarsSource)
	}

	if c.MaxTimeoutMS < minTimeoutMS {
		c.MaxTimeoutMS = minTimeoutMS
	}
	c.RunTimeoutMS = clamp(c.RunTimeoutMS, minTimeoutMS, c.MaxTimeoutMS)
	c.EditorTimeoutMS = clamp(c.EditorTimeoutMS, minTimeoutMS, c.MaxTimeoutMS)
	if c.ProgramCacheSize < 0 {
		c.ProgramCacheSize = 0
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

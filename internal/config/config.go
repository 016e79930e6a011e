// Package config provides configuration management for the feed service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is a browser-like identity; some servers reject unidentified clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Configuration validation errors.
var (
	ErrInvalidDriver         = errors.New("database.driver must be 'sqlite' or 'postgres'")
	ErrMissingDatabasePath   = errors.New("database.path is required for sqlite")
	ErrMissingDatabaseDSN    = errors.New("database.dsn is required for postgres")
	ErrInvalidMaxAttempts    = errors.New("fetch.max_attempts must be at least 1")
	ErrInvalidBaseDelay      = errors.New("fetch.base_delay must be positive")
	ErrInvalidTimeout        = errors.New("fetch.timeout must be positive")
	ErrInvalidMaxBody        = errors.New("fetch.max_body_bytes must be positive")
	ErrInvalidDomainLimit    = errors.New("fetch.per_domain_concurrency must be at least 1")
	ErrInvalidDomainDelay    = errors.New("fetch.domain_delay must be non-negative")
	ErrInvalidConcurrency    = errors.New("ingest.concurrency must be non-negative")
	ErrInvalidRefreshTimeout = errors.New("ingest.refresh_timeout must be positive")
	ErrInvalidLogLevel       = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat      = errors.New("logging.format must be 'text' or 'json'")
	ErrMissingServerAddr     = errors.New("server.addr is required")
)

// Config represents the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects and locates the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// FetchConfig defines how remote documents are retrieved.
type FetchConfig struct {
	MaxAttempts          int           `yaml:"max_attempts"`
	BaseDelay            time.Duration `yaml:"base_delay"`
	Timeout              time.Duration `yaml:"timeout"`
	UserAgent            string        `yaml:"user_agent"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
	PerDomainConcurrency int           `yaml:"per_domain_concurrency"`
	DomainDelay          time.Duration `yaml:"domain_delay"`
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	// Concurrency of RefreshAll. Zero picks a value from the database backend.
	Concurrency     int           `yaml:"concurrency"`
	BackfillPubDate bool          `yaml:"backfill_pub_date"`
	PollerEnabled   bool          `yaml:"poller_enabled"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration usable without a file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: "0.0.0.0:8080"},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "feedhub.db",
		},
		Fetch: FetchConfig{
			MaxAttempts:          3,
			BaseDelay:            time.Second,
			Timeout:              30 * time.Second,
			UserAgent:            DefaultUserAgent,
			MaxBodyBytes:         10 << 20,
			PerDomainConcurrency: 2,
			DomainDelay:          500 * time.Millisecond,
		},
		Ingest: IngestConfig{
			PollerEnabled:  true,
			RefreshTimeout: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults, then
// applies environment overrides and validates the result.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getenv("FEEDHUB_ADDR", c.Server.Addr)
	c.Database.Driver = getenv("FEEDHUB_DB_DRIVER", c.Database.Driver)
	c.Database.Path = getenv("FEEDHUB_DB_PATH", c.Database.Path)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
		if os.Getenv("FEEDHUB_DB_DRIVER") == "" {
			c.Database.Driver = DriverPostgres
		}
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return ErrMissingServerAddr
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return ErrMissingDatabasePath
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return ErrMissingDatabaseDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Database.Driver)
	}

	if c.Fetch.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if c.Fetch.BaseDelay <= 0 {
		return ErrInvalidBaseDelay
	}
	if c.Fetch.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return ErrInvalidMaxBody
	}
	if c.Fetch.PerDomainConcurrency < 1 {
		return ErrInvalidDomainLimit
	}
	if c.Fetch.DomainDelay < 0 {
		return ErrInvalidDomainDelay
	}

	if c.Ingest.Concurrency < 0 {
		return ErrInvalidConcurrency
	}
	if c.Ingest.RefreshTimeout <= 0 {
		return ErrInvalidRefreshTimeout
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	return nil
}

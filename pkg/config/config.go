package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for merchant-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the database password) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8087"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Engine policy constants. Every similarity/recurrence threshold the
	// engine applies is tunable here; the defaults are the documented policy.
	Engine EngineConfig `yaml:"engine"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ledgerline"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"merchant_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`

	// StatementTimeoutSeconds bounds every store call; a timed-out call
	// surfaces as a retryable error, never a silent partial write.
	StatementTimeoutSeconds int `yaml:"statement_timeout_seconds" env:"PGSTATEMENT_TIMEOUT_SECONDS" env-default:"30"`
}

// EngineConfig holds the tunable policy constants of the intelligence engine.
type EngineConfig struct {
	// ClusterThreshold is the default similarity required to join a cluster.
	ClusterThreshold float64 `yaml:"cluster_threshold" env:"ENGINE_CLUSTER_THRESHOLD" env-default:"0.85"`

	// MinOccurrences is the recurrence evidence floor.
	MinOccurrences int `yaml:"min_occurrences" env:"ENGINE_MIN_OCCURRENCES" env-default:"3"`

	// AmountCVCeiling caps the coefficient of variation of amounts in a
	// recurring series.
	AmountCVCeiling float64 `yaml:"amount_cv_ceiling" env:"ENGINE_AMOUNT_CV_CEILING" env-default:"0.15"`

	// ConfidenceFloor discards detected patterns below this confidence.
	ConfidenceFloor float64 `yaml:"confidence_floor" env:"ENGINE_CONFIDENCE_FLOOR" env-default:"0.5"`

	// LookbackMonths is the default detection history window.
	LookbackMonths int `yaml:"lookback_months" env:"ENGINE_LOOKBACK_MONTHS" env-default:"24"`

	// DetectionWorkers bounds how many merchant groups are detected
	// concurrently within one run.
	DetectionWorkers int `yaml:"detection_workers" env:"ENGINE_DETECTION_WORKERS" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.ClusterThreshold <= 0 || c.Engine.ClusterThreshold > 1 {
		return fmt.Errorf("engine.cluster_threshold must be in (0, 1], got %v", c.Engine.ClusterThreshold)
	}
	if c.Engine.MinOccurrences < 2 {
		return fmt.Errorf("engine.min_occurrences must be at least 2, got %d", c.Engine.MinOccurrences)
	}
	if c.Engine.ConfidenceFloor < 0 || c.Engine.ConfidenceFloor > 1 {
		return fmt.Errorf("engine.confidence_floor must be in [0, 1], got %v", c.Engine.ConfidenceFloor)
	}
	if c.Engine.LookbackMonths <= 0 {
		return fmt.Errorf("engine.lookback_months must be positive, got %d", c.Engine.LookbackMonths)
	}
	if c.Engine.DetectionWorkers <= 0 {
		return fmt.Errorf("engine.detection_workers must be positive, got %d", c.Engine.DetectionWorkers)
	}
	return nil
}

// StatementTimeout returns the configured store-call timeout as a Duration.
func (c *DatabaseConfig) StatementTimeout() time.Duration {
	return time.Duration(c.StatementTimeoutSeconds) * time.Second
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

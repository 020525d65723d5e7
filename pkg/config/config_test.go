package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfigFile(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, map[string]any{})

	var cfg Config
	require.NoError(t, cleanenv.ReadConfig(path, &cfg))

	assert.Equal(t, "8087", cfg.Port)
	assert.Equal(t, 0.85, cfg.Engine.ClusterThreshold)
	assert.Equal(t, 3, cfg.Engine.MinOccurrences)
	assert.Equal(t, 0.15, cfg.Engine.AmountCVCeiling)
	assert.Equal(t, 0.5, cfg.Engine.ConfidenceFloor)
	assert.Equal(t, 24, cfg.Engine.LookbackMonths)
	assert.Equal(t, 4, cfg.Engine.DetectionWorkers)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"engine": map[string]any{
			"cluster_threshold": 0.9,
			"lookback_months":   12,
		},
		"database": map[string]any{
			"host": "db.internal",
		},
	})

	var cfg Config
	require.NoError(t, cleanenv.ReadConfig(path, &cfg))

	assert.Equal(t, 0.9, cfg.Engine.ClusterThreshold)
	assert.Equal(t, 12, cfg.Engine.LookbackMonths)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.Engine.MinOccurrences)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"engine": map[string]any{"cluster_threshold": 0.9},
	})
	t.Setenv("ENGINE_CLUSTER_THRESHOLD", "0.75")

	var cfg Config
	require.NoError(t, cleanenv.ReadConfig(path, &cfg))
	assert.Equal(t, 0.75, cfg.Engine.ClusterThreshold)
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Engine.ClusterThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.Engine.ClusterThreshold = 1.5 }},
		{"min occurrences too low", func(c *Config) { c.Engine.MinOccurrences = 1 }},
		{"negative confidence floor", func(c *Config) { c.Engine.ConfidenceFloor = -0.1 }},
		{"zero lookback", func(c *Config) { c.Engine.LookbackMonths = 0 }},
		{"zero workers", func(c *Config) { c.Engine.DetectionWorkers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func validConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			ClusterThreshold: 0.85,
			MinOccurrences:   3,
			AmountCVCeiling:  0.15,
			ConfidenceFloor:  0.5,
			LookbackMonths:   24,
			DetectionWorkers: 4,
		},
	}
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "ledgerline",
		Password: "secret",
		Database: "merchant_engine",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=ledgerline password=secret dbname=merchant_engine sslmode=disable",
		db.ConnectionString())
}

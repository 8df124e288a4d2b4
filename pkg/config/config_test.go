package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Search.CallWeight)
	assert.Equal(t, 0.4, cfg.Search.FieldWeight)
	assert.Equal(t, 10, cfg.Search.QueryTopK)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.True(t, cfg.Search.FilterSelfMatch)
	assert.False(t, cfg.Postgres.Enabled())
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yml := `
search:
  callWeight: 0.7
  fieldWeight: 0.3
  topK: 5
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("CUS_SEARCH_TOP_K", "7")
	t.Setenv("CUS_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Search.CallWeight)
	assert.Equal(t, 0.3, cfg.Search.FieldWeight)
	assert.Equal(t, 7, cfg.Search.TopK)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	// untouched keys keep their defaults
	assert.Equal(t, 10, cfg.Search.QueryTopK)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative call weight", func(c *Config) { c.Search.CallWeight = -1 }},
		{"zero query top-k", func(c *Config) { c.Search.QueryTopK = 0 }},
		{"zero top-k", func(c *Config) { c.Search.TopK = 0 }},
		{"max below top-k", func(c *Config) { c.Search.MaxTopK = 1; c.Search.TopK = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadDevelopmentConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "development.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Index.RefreshInterval)
	assert.Equal(t, "**/*.json", cfg.Index.CodeInfoGlob)
	assert.True(t, cfg.Postgres.Enabled())
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

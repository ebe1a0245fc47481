package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "cosine", cfg.Vector.Metric)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 16, cfg.Ingest.MaxConcurrency)
	assert.Equal(t, 50*time.Millisecond, cfg.Regex.DocumentTimeout)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
index:
  dataDir: /tmp/csc
  maxDocumentSize: 1024
regex:
  complexityCeiling: 12
  documentTimeout: 10ms
vector:
  dimensions: 3
  metric: dot
search:
  weights:
    text: 2
    vector: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/csc", cfg.Index.DataDir)
	assert.Equal(t, 1024, cfg.Index.MaxDocumentSize)
	assert.Equal(t, 12, cfg.Regex.ComplexityCeiling)
	assert.Equal(t, 10*time.Millisecond, cfg.Regex.DocumentTimeout)
	assert.Equal(t, 3, cfg.Vector.Dimensions)
	assert.Equal(t, "dot", cfg.Vector.Metric)
	assert.Equal(t, 2.0, cfg.Search.Weights["text"])
	// untouched sections keep defaults
	assert.Equal(t, 1024, cfg.Cache.MaxEntries)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CSC_INDEX_DATA_DIR", "/var/lib/csc")
	t.Setenv("CSC_CACHE_TTL", "2m")
	t.Setenv("CSC_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/csc", cfg.Index.DataDir)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Index.DataDir = "" }},
		{"bad metric", func(c *Config) { c.Vector.Metric = "l2" }},
		{"bad backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"zero ingest concurrency", func(c *Config) { c.Ingest.MaxConcurrency = 0 }},
		{"limit above max", func(c *Config) { c.Search.DefaultLimit = 500 }},
		{"zero regex timeout", func(c *Config) { c.Regex.DocumentTimeout = 0 }},
		{"zero search timeout", func(c *Config) { c.Search.DefaultTimeout = 0 }},
		{"negative search timeout", func(c *Config) { c.Search.DefaultTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

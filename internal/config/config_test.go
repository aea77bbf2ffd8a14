package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.InDelta(t, DefaultMinSimilarity, cfg.MinSimilarity, 1e-9)
	assert.Equal(t, DefaultTopK, cfg.TopK)
	assert.Equal(t, "chromem", cfg.VectorBackend)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
}

func TestLoad_SettingsFile(t *testing.T) {
	dir := t.TempDir()
	settings := `{
		"workers": 8,
		"min_similarity": 0.4,
		"embedding": {"base_url": "http://localhost:9999/v1", "model": "custom", "dimensions": 768}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.InDelta(t, 0.4, cfg.MinSimilarity, 1e-9)
	assert.Equal(t, "custom", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	// Untouched fields keep defaults.
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
}

func TestLoad_MalformedFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{nope"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse settings file")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRIPMESH_WORKERS", "6")
	t.Setenv("TRIPMESH_MIN_SIMILARITY", "0.35")
	t.Setenv("TRIPMESH_EMBEDDING_MODEL", "text-embedding-3-large")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Workers)
	assert.InDelta(t, 0.35, cfg.MinSimilarity, 1e-9)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers must be positive"},
		{"negative batch", func(c *Config) { c.BatchSize = -1 }, "batch_size must be positive"},
		{"similarity out of range", func(c *Config) { c.MinSimilarity = 1.5 }, "min_similarity"},
		{"unknown backend", func(c *Config) { c.VectorBackend = "faiss" }, "unknown vector_backend"},
		{"pgvector without dsn", func(c *Config) { c.VectorBackend = "pgvector" }, "postgres_dsn is required"},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }, "dimensions must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

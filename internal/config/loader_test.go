package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
vector:
  backend: qdrant
  qdrant:
    url: ${TEST_QDRANT_URL:http://localhost:6333}
    collection: kb
embedding:
  allow_fallback: true
  providers:
    - name: local
      type: ollama
      base_url: http://ollama:11434
      model: nomic-embed-text
    - name: remote-fallback
      type: openai
      model: text-embedding-3-small
  breaker:
    failure_threshold: 2
    cooldown: 45s
`

func writeConfig(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestLoadFrom(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("TEST_QDRANT_URL", "http://qdrant:6333")
	dir := writeConfig(t, map[string]string{
		"config.yaml":      baseYAML,
		"config.test.yaml": "embedding:\n  dimension: 384\n",
	})

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, "http://qdrant:6333", cfg.Vector.Qdrant.URL)
	assert.Equal(t, "kb", cfg.Vector.Qdrant.Collection)
	assert.Equal(t, 384, cfg.Embedding.Dimension, "environment file overrides base")
	assert.True(t, cfg.Embedding.AllowFallback)
	require.Len(t, cfg.Embedding.Providers, 2)
	assert.Equal(t, "ollama", cfg.Embedding.Providers[0].Type)
	assert.EqualValues(t, 2, cfg.Embedding.Breaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Embedding.Breaker.Cooldown)

	// 默认值兜底
	assert.Equal(t, 10, cfg.Embedding.Batch.Workers)
	assert.Equal(t, 100, cfg.Vector.Connector.PageSize)
	assert.Equal(t, 0.4, cfg.Convergence.Weights.Similarity)
	assert.Equal(t, 10.0, cfg.Convergence.Normalization)
}

func TestLoadFrom_MissingBaseFile(t *testing.T) {
	_, err := LoadFrom(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Vector.Backend = "chroma" }, true},
		{"page size too large", func(c *Config) { c.Vector.Connector.PageSize = 500 }, true},
		{"duplicate provider", func(c *Config) {
			c.Embedding.Providers = append(c.Embedding.Providers, c.Embedding.Providers[0])
		}, true},
		{"unknown provider type", func(c *Config) { c.Embedding.Providers[0].Type = "bert" }, true},
		{"negative weight", func(c *Config) { c.Convergence.Weights.ChunkCount = -1 }, true},
		{"unknown cache store", func(c *Config) { c.Embedding.Cache.Store = "memcached" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Vector: VectorConfig{Backend: "qdrant", Qdrant: QdrantConfig{URL: "http://q", Collection: "kb"}},
				Embedding: EmbeddingConfig{
					Providers: []EmbeddingProviderConfig{{Name: "local", Type: "ollama"}},
				},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("EXPAND_SET", "value")
	assert.Equal(t, "a=value b=fallback c=${EXPAND_UNSET_NO_DEFAULT} d=",
		expandEnv("a=${EXPAND_SET:x} b=${EXPAND_UNSET:fallback} c=${EXPAND_UNSET_NO_DEFAULT} d=${EXPAND_EMPTY_DEFAULT:}"))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_DefaultsWithoutFile(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
	assert.Equal(t, "qdrant", cfg.Vector.Backend)
	assert.Equal(t, 1500, cfg.Chunking.ChunkSize)
}

func TestLoader_MissingFileIsNotFatal(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.Chunking.ChunkSize)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	yamlContent := `
cache:
  addr: "redis.internal:6380"
  response_ttl: 30m
vector:
  backend: local
  local_path: /tmp/store.json
retrieval:
  top_k: 10
planner:
  product_markers:
    - vault
    - coin sets
  facts:
    trading fees: "Spot trading fee is 0.1% per order."
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Cache.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Cache.ResponseTTL)
	assert.Equal(t, "local", cfg.Vector.Backend)
	assert.Equal(t, "/tmp/store.json", cfg.Vector.LocalPath)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, []string{"vault", "coin sets"}, cfg.Planner.ProductMarkers)
	assert.Equal(t, map[string]string{"trading fees": "Spot trading fee is 0.1% per order."}, cfg.Planner.Facts)

	// 未覆盖的字段保留默认值
	assert.Equal(t, 0.7, cfg.Retrieval.ScoreThreshold)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	yamlContent := `
cache:
  addr: "from-file:6379"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	t.Setenv("DOCPILOT_CACHE_ADDR", "from-env:6379")
	t.Setenv("DOCPILOT_RETRIEVAL_TOP_K", "7")
	t.Setenv("DOCPILOT_SEMANTIC_CACHE_THRESHOLD", "0.9")
	t.Setenv("DOCPILOT_CACHE_OP_TIMEOUT", "5s")
	t.Setenv("DOCPILOT_CACHE_ENABLED", "false")
	t.Setenv("DOCPILOT_PLANNER_PRODUCT_MARKERS", "vault, coin sets")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env:6379", cfg.Cache.Addr)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, 0.9, cfg.SemanticCache.Threshold)
	assert.Equal(t, 5*time.Second, cfg.Cache.OpTimeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, []string{"vault", "coin sets"}, cfg.Planner.ProductMarkers)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_LOG_LEVEL", "debug")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_ValidatorRuns(t *testing.T) {
	t.Setenv("DOCPILOT_VECTOR_BACKEND", "cassandra")

	_, err := NewLoader().WithValidator(Validate).Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "vector.backend")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero chunk size",
			mutate:  func(c *Config) { c.Chunking.ChunkSize = 0 },
			wantErr: "chunk_size",
		},
		{
			name:    "overlap not below chunk size",
			mutate:  func(c *Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize },
			wantErr: "chunk_overlap",
		},
		{
			name:    "score threshold out of range",
			mutate:  func(c *Config) { c.Retrieval.ScoreThreshold = 1.5 },
			wantErr: "score_threshold",
		},
		{
			name:    "relaxed above strict",
			mutate:  func(c *Config) { c.Retrieval.RelaxedThreshold = 0.9 },
			wantErr: "relaxed_threshold",
		},
		{
			name:    "semantic threshold out of range",
			mutate:  func(c *Config) { c.SemanticCache.Threshold = -0.1 },
			wantErr: "semantic_cache.threshold",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Vector.Backend = "pinecone" },
			wantErr: "vector.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

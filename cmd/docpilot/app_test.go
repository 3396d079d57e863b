package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/docpilot/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.Enabled = false
	cfg.Vector.Backend = "local"
	cfg.Vector.LocalPath = filepath.Join(t.TempDir(), "store.json")
	return cfg
}

func TestNewApp_LocalBackend(t *testing.T) {
	app, err := newApp(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "local", app.store.Backend().Name())
	assert.NotNil(t, app.pipeline)
	assert.Contains(t, app.loaders.SupportedTypes(), ".md")
}

func TestNewApp_UnsupportedBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vector.Backend = "pinecone"

	_, err := newApp(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vector backend")
}

func TestNewApp_QdrantFallsBackToLocal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vector.Backend = "qdrant"
	cfg.Vector.QdrantURL = "http://127.0.0.1:1"

	app, err := newApp(cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	// 探活失败后降级到本地后端
	assert.Equal(t, "local", app.store.Backend().Name())
}

func TestApp_FactTableAnsweredFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Planner.Facts = map[string]string{
		"trading fees": "Spot trading fee is 0.1% per order.",
	}

	app, err := newApp(cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	answer, err := app.pipeline.Answer(context.Background(), "what are the trading fees?", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "Spot trading fee is 0.1% per order.", answer.Answer)
}

func TestApp_GreetingWorksWithoutRemoteServices(t *testing.T) {
	app, err := newApp(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	answer, err := app.pipeline.Answer(context.Background(), "hello!", nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Answer)
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "debug", Format: "json", OutputPaths: []string{"stdout"}})
	assert.NotNil(t, logger)

	logger = initLogger(config.LogConfig{Level: "bogus", Format: "console", OutputPaths: []string{"stderr"}})
	assert.NotNil(t, logger)
}

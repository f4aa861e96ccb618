package llmengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.aegisv.gateway/internal/config"
)

func TestNew_LocalProvider(t *testing.T) {
	cfg := config.Load()
	cfg.Engine.Provider = "local"
	cfg.Engine.UseHybridEmbeddings = false

	engine, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "local-cpu", engine.Name())
}

func TestNew_OllamaProviderIsARemoteEngine(t *testing.T) {
	cfg := config.Load()
	cfg.Engine.Provider = "ollama"
	cfg.Engine.UseHybridEmbeddings = false

	engine, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", engine.Name())
}

func TestNew_HybridRoutesEmbedLocally(t *testing.T) {
	cfg := config.Load()
	cfg.Engine.Provider = "openai"
	cfg.Engine.UseHybridEmbeddings = true
	cfg.Engine.HybridEmbedProvider = "local_cpu"

	engine, err := New(cfg, nil)
	require.NoError(t, err)

	hybrid, ok := engine.(*HybridEngine)
	require.True(t, ok)
	assert.Equal(t, "local-cpu", hybrid.embed.Name())
}

func TestNew_UnknownProviderErrors(t *testing.T) {
	cfg := config.Load()
	cfg.Engine.Provider = "not-a-real-provider"

	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestNew_EachTenantGetsIndependentEngine(t *testing.T) {
	cfgA := config.Load()
	cfgA.Engine.Provider = "local"
	cfgB := config.Load()
	cfgB.Engine.Provider = "local"

	engineA, err := New(cfgA, nil)
	require.NoError(t, err)
	engineB, err := New(cfgB, nil)
	require.NoError(t, err)

	assert.NotSame(t, engineA, engineB)
}

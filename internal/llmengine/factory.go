package llmengine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"dev.aegisv.gateway/internal/config"
)

// New builds an Engine from cfg. Unlike the original system's
// module-level get_engine() singleton, this is an explicit constructor:
// every tenant pipeline bootstraps its own Engine value, so two tenants
// configured for different providers never share state (spec.md §9,
// REDESIGN FLAG on the singleton factory).
func New(cfg *config.Config, logger *logrus.Logger) (Engine, error) {
	if logger == nil {
		logger = logrus.New()
	}

	chat, err := newChatEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.Engine.UseHybridEmbeddings {
		return wrapCache(cfg, chat, logger), nil
	}

	embed, err := newEmbedEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	return wrapCache(cfg, NewHybridEngine(chat, embed), logger), nil
}

func newChatEngine(cfg *config.Config, logger *logrus.Logger) (Engine, error) {
	switch cfg.Engine.Provider {
	case "local", "local_cpu":
		// The local CPU embedder has no chat capability (spec.md §4.A);
		// selecting it as the sole chat engine is only meaningful in
		// tests that stub ChatJSON/ChatText, never in production.
		return NewLocalEngine(cfg.Engine.LocalEmbeddingDim), nil
	case "ollama":
		return NewRemoteEngine(remoteConfigFor(cfg, ProviderOllama), logger), nil
	case "openai":
		return NewRemoteEngine(remoteConfigFor(cfg, ProviderOpenAI), logger), nil
	case "anthropic":
		return NewRemoteEngine(remoteConfigFor(cfg, ProviderAnthropic), logger), nil
	case "google":
		return NewRemoteEngine(remoteConfigFor(cfg, ProviderGoogle), logger), nil
	default:
		return nil, fmt.Errorf("llmengine: unknown provider %q", cfg.Engine.Provider)
	}
}

func newEmbedEngine(cfg *config.Config, logger *logrus.Logger) (Engine, error) {
	switch cfg.Engine.HybridEmbedProvider {
	case "", "local_cpu", "local":
		return NewLocalEngine(cfg.Engine.LocalEmbeddingDim), nil
	case "openai":
		return NewRemoteEngine(remoteConfigFor(cfg, ProviderOpenAI), logger), nil
	case "google":
		return NewRemoteEngine(remoteConfigFor(cfg, ProviderGoogle), logger), nil
	default:
		return nil, fmt.Errorf("llmengine: unknown hybrid embedding provider %q", cfg.Engine.HybridEmbedProvider)
	}
}

func remoteConfigFor(cfg *config.Config, provider Provider) RemoteConfig {
	var pc config.ProviderConfig
	switch provider {
	case ProviderOpenAI:
		pc = cfg.Engine.OpenAI
	case ProviderAnthropic:
		pc = cfg.Engine.Anthropic
	case ProviderGoogle:
		pc = cfg.Engine.Google
	case ProviderOllama:
		pc = cfg.Engine.Ollama
	}
	return RemoteConfig{
		Provider:          provider,
		APIKey:            pc.APIKey,
		BaseURL:           pc.BaseURL,
		InferenceModel:    pc.InferenceModel,
		EmbeddingModel:    pc.EmbeddingModel,
		Timeout:           cfg.Engine.DefaultTimeout,
		RequestsPerSecond: cfg.Engine.RequestsPerSecond,
	}
}

func wrapCache(cfg *config.Config, inner Engine, logger *logrus.Logger) Engine {
	if !cfg.Redis.Enabled {
		return inner
	}
	cache := NewEmbedCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 0, logger)
	return NewCachedEngine(inner, cache)
}

package embeddings

import (
	"log/slog"

	"github.com/ziadkadry99/ragpipe/internal/config"
	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// FromConfig builds the embedder selected by cfg. Missing credentials are
// configuration errors. The result is not wrapped; see NewResilient.
func FromConfig(cfg config.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var e Embedder
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, rag.ConfigError("%s is required for the openai embedding provider", config.APIKeyEnvVar(config.ProviderOpenAI))
		}
		e = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimension,
			BatchSize:  cfg.BatchSize,
		})
	case config.ProviderOllama:
		if cfg.Model == "" {
			return nil, rag.ConfigError("embedding.model is required for the ollama embedding provider")
		}
		e = NewOllamaEmbedder(cfg.Model, cfg.Dimension, cfg.BaseURL)
	case config.ProviderGoogle:
		if cfg.APIKey == "" {
			return nil, rag.ConfigError("%s is required for the google embedding provider", config.APIKeyEnvVar(config.ProviderGoogle))
		}
		e = NewGoogleEmbedder(cfg.APIKey, GoogleModel(cfg.Model), cfg.Dimension, cfg.BaseURL)
	case config.ProviderLocal:
		e = NewLocalEmbedder(cfg.Dimension)
	default:
		return nil, rag.ConfigError("unsupported embedding provider %q", cfg.Provider)
	}

	logger.Debug("embedder configured", "provider", cfg.Provider, "model", e.Name(), "dimensions", e.Dimensions())
	return e, nil
}

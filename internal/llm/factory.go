package llm

import (
	"github.com/ziadkadry99/ragpipe/internal/config"
	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// DefaultOllamaHost is used when no base URL is configured for Ollama.
const DefaultOllamaHost = "http://localhost:11434"

// NewProvider creates the provider selected by cfg. Missing credentials are
// configuration errors.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, rag.ConfigError("ANTHROPIC_API_KEY environment variable is not set")
		}
		p := NewAnthropicProvider(cfg.APIKey, cfg.Model)
		if cfg.BaseURL != "" {
			p.endpoint = cfg.BaseURL + "/v1/messages"
		}
		return p, nil

	case config.ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, rag.ConfigError("OPENAI_API_KEY environment variable is not set")
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL), nil

	case config.ProviderOllama:
		host := cfg.BaseURL
		if host == "" {
			host = DefaultOllamaHost
		}
		return NewOllamaProvider(host, cfg.Model), nil

	default:
		return nil, rag.ConfigError("unsupported llm provider: %s", cfg.Provider)
	}
}

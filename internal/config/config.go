package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RAGPIPE_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (RAGPIPE_*). A double underscore separates
// nested keys: RAGPIPE_CHUNKING__SIZE sets chunking.size.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.fillAPIKeys()
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// fillAPIKeys falls back to the provider's conventional variable when no
// key was configured explicitly.
func (c *Config) fillAPIKeys() {
	if c.Embedding.APIKey == "" {
		if v := APIKeyEnvVar(c.Embedding.Provider); v != "" {
			c.Embedding.APIKey = os.Getenv(v)
		}
	}
	if c.LLM.APIKey == "" {
		if v := APIKeyEnvVar(c.LLM.Provider); v != "" {
			c.LLM.APIKey = os.Getenv(v)
		}
	}
	if c.VectorStore.APIKey == "" && c.VectorStore.Backend == BackendQdrant {
		c.VectorStore.APIKey = os.Getenv("QDRANT_API_KEY")
	}
}

// Save writes the configuration to the given YAML file path. API keys are
// never written.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validEmbeddingProviders = map[ProviderType]bool{
	ProviderOpenAI: true,
	ProviderOllama: true,
	ProviderGoogle: true,
	ProviderLocal:  true,
}

var validLLMProviders = map[ProviderType]bool{
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderOllama:    true,
}

var validBackends = map[Backend]bool{
	BackendChromem: true,
	BackendQdrant:  true,
}

// Validate checks that the configuration contains valid values. Every
// failure is a configuration error.
func (c *Config) Validate() error {
	if !validEmbeddingProviders[c.Embedding.Provider] {
		return rag.ConfigError("invalid embedding.provider %q: must be one of openai, ollama, google, local", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return rag.ConfigError("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return rag.ConfigError("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}

	if !validBackends[c.VectorStore.Backend] {
		return rag.ConfigError("invalid vector_store.backend %q: must be one of chromem, qdrant", c.VectorStore.Backend)
	}
	if c.VectorStore.Collection == "" {
		return rag.ConfigError("vector_store.collection is required")
	}
	if c.VectorStore.Backend == BackendQdrant && c.VectorStore.URL == "" {
		return rag.ConfigError("vector_store.url is required for the qdrant backend")
	}

	if c.Chunking.Size <= 0 {
		return rag.ConfigError("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 {
		return rag.ConfigError("chunking.overlap must not be negative, got %d", c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return rag.ConfigError("chunking.overlap (%d) must be smaller than chunking.size (%d)", c.Chunking.Overlap, c.Chunking.Size)
	}
	if !rag.IDPolicy(c.Chunking.IDPolicy).Valid() {
		return rag.ConfigError("invalid chunking.id_policy %q: must be deterministic or random", c.Chunking.IDPolicy)
	}

	if c.Retrieval.TopK <= 0 {
		return rag.ConfigError("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.ExcerptLength <= 0 {
		return rag.ConfigError("retrieval.excerpt_length must be positive, got %d", c.Retrieval.ExcerptLength)
	}

	if c.Retrieval.GenerateAnswers {
		if !validLLMProviders[c.LLM.Provider] {
			return rag.ConfigError("invalid llm.provider %q: must be one of openai, anthropic, ollama", c.LLM.Provider)
		}
		if c.LLM.Model == "" {
			return rag.ConfigError("llm.model is required when retrieval.generate_answers is enabled")
		}
	}

	if c.Ingest.Concurrency <= 0 {
		return rag.ConfigError("ingest.concurrency must be positive, got %d", c.Ingest.Concurrency)
	}
	if c.Ingest.MaxFileSize <= 0 {
		return rag.ConfigError("ingest.max_file_size must be positive, got %d", c.Ingest.MaxFileSize)
	}

	if c.Requests.Timeout <= 0 {
		return rag.ConfigError("requests.timeout must be positive, got %s", c.Requests.Timeout)
	}
	if c.Requests.MaxRetries < 0 {
		return rag.ConfigError("requests.max_retries must not be negative, got %d", c.Requests.MaxRetries)
	}
	if c.Requests.RateLimit < 0 {
		return rag.ConfigError("requests.rate_limit must not be negative")
	}

	switch c.LogFormat {
	case "", "text", "json":
	default:
		return rag.ConfigError("invalid log_format %q: must be text or json", c.LogFormat)
	}

	return nil
}

// RetryPolicy converts the request settings into a retry policy.
func (r RequestsConfig) RetryPolicy() rag.RetryPolicy {
	return rag.RetryPolicy{
		MaxRetries:     r.MaxRetries,
		BaseDelay:      r.RetryBaseDelay,
		AttemptTimeout: r.Timeout,
	}
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGoogle:
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}

package config

import "time"

// ProviderDefaults describes the models used when a provider is picked
// without an explicit model.
type ProviderDefaults struct {
	EmbeddingModel string
	Dimension      int
	LLMModel       string
}

// providerDefaults maps each provider to its model choices.
var providerDefaults = map[ProviderType]ProviderDefaults{
	ProviderOpenAI: {
		EmbeddingModel: "text-embedding-3-small",
		Dimension:      1536,
		LLMModel:       "gpt-4o-mini",
	},
	ProviderOllama: {
		EmbeddingModel: "nomic-embed-text",
		Dimension:      768,
		LLMModel:       "llama3",
	},
	ProviderGoogle: {
		EmbeddingModel: "gemini-embedding-001",
		Dimension:      768,
	},
	ProviderAnthropic: {
		LLMModel: "claude-haiku-4-5-20251001",
	},
	ProviderLocal: {
		EmbeddingModel: "hashing",
		Dimension:      384,
	},
}

// DefaultExcludes are glob patterns skipped during directory ingestion.
var DefaultExcludes = []string{
	".git/**",
	".ragpipe/**",
	"node_modules/**",
	"vendor/**",
	"dist/**",
	"build/**",
	"**/.DS_Store",
	"**/~$*",
}

// DefaultMaxFileSize is the largest file ingested from a directory.
const DefaultMaxFileSize int64 = 50 << 20

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 100,
		},
		VectorStore: VectorStoreConfig{
			Backend:    BackendChromem,
			DataDir:    ".ragpipe",
			Collection: "rag_documents",
			Compress:   true,
			URL:        "http://localhost:6333",
		},
		Chunking: ChunkingConfig{
			Size:     1000,
			Overlap:  200,
			IDPolicy: "deterministic",
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			ExcerptLength: 200,
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4o-mini",
			MaxTokens:   4096,
			Temperature: 0.1,
		},
		Ingest: IngestConfig{
			Include:     []string{"**"},
			Exclude:     DefaultExcludes,
			MaxFileSize: DefaultMaxFileSize,
			Concurrency: 4,
		},
		Requests: RequestsConfig{
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
			RateBurst:      1,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// GetProviderDefaults returns the model defaults for provider. Unknown
// providers fall back to the OpenAI defaults.
func GetProviderDefaults(provider ProviderType) ProviderDefaults {
	if d, ok := providerDefaults[provider]; ok {
		return d
	}
	return providerDefaults[ProviderOpenAI]
}

package config

import "time"

// ProviderType identifies an embedding or LLM provider.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderOllama    ProviderType = "ollama"
	ProviderGoogle    ProviderType = "google"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderLocal     ProviderType = "local"
)

// Backend identifies a vector index implementation.
type Backend string

const (
	BackendChromem Backend = "chromem"
	BackendQdrant  Backend = "qdrant"
)

// Config is the top-level ragpipe configuration, corresponding to .ragpipe.yml.
type Config struct {
	Embedding   EmbeddingConfig   `yaml:"embedding" koanf:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store" koanf:"vector_store"`
	Chunking    ChunkingConfig    `yaml:"chunking" koanf:"chunking"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" koanf:"retrieval"`
	LLM         LLMConfig         `yaml:"llm" koanf:"llm"`
	Ingest      IngestConfig      `yaml:"ingest" koanf:"ingest"`
	Requests    RequestsConfig    `yaml:"requests" koanf:"requests"`
	Server      ServerConfig      `yaml:"server" koanf:"server"`
	LogLevel    string            `yaml:"log_level" koanf:"log_level"`
	LogFormat   string            `yaml:"log_format" koanf:"log_format"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  ProviderType `yaml:"provider" koanf:"provider"`
	Model     string       `yaml:"model" koanf:"model"`
	Dimension int          `yaml:"dimension" koanf:"dimension"`
	BaseURL   string       `yaml:"base_url,omitempty" koanf:"base_url"`
	APIKey    string       `yaml:"-" koanf:"api_key"`
	BatchSize int          `yaml:"batch_size" koanf:"batch_size"`
}

// VectorStoreConfig selects and locates the vector index.
type VectorStoreConfig struct {
	Backend    Backend `yaml:"backend" koanf:"backend"`
	DataDir    string  `yaml:"data_dir" koanf:"data_dir"`
	Collection string  `yaml:"collection" koanf:"collection"`
	Compress   bool    `yaml:"compress" koanf:"compress"`
	URL        string  `yaml:"url,omitempty" koanf:"url"`
	APIKey     string  `yaml:"-" koanf:"api_key"`
}

// ChunkingConfig controls how documents are split.
type ChunkingConfig struct {
	Size     int    `yaml:"size" koanf:"size"`
	Overlap  int    `yaml:"overlap" koanf:"overlap"`
	IDPolicy string `yaml:"id_policy" koanf:"id_policy"`
}

// RetrievalConfig controls query behaviour.
type RetrievalConfig struct {
	TopK            int  `yaml:"top_k" koanf:"top_k"`
	ExcerptLength   int  `yaml:"excerpt_length" koanf:"excerpt_length"`
	GenerateAnswers bool `yaml:"generate_answers" koanf:"generate_answers"`
}

// LLMConfig selects the model used for answer generation.
type LLMConfig struct {
	Provider    ProviderType `yaml:"provider" koanf:"provider"`
	Model       string       `yaml:"model" koanf:"model"`
	BaseURL     string       `yaml:"base_url,omitempty" koanf:"base_url"`
	APIKey      string       `yaml:"-" koanf:"api_key"`
	MaxTokens   int          `yaml:"max_tokens" koanf:"max_tokens"`
	Temperature float64      `yaml:"temperature" koanf:"temperature"`
}

// IngestConfig controls directory ingestion.
type IngestConfig struct {
	Include     []string `yaml:"include" koanf:"include"`
	Exclude     []string `yaml:"exclude" koanf:"exclude"`
	MaxFileSize int64    `yaml:"max_file_size" koanf:"max_file_size"`
	Concurrency int      `yaml:"concurrency" koanf:"concurrency"`
}

// RequestsConfig bounds calls to external services.
type RequestsConfig struct {
	Timeout        time.Duration `yaml:"timeout" koanf:"timeout"`
	MaxRetries     int           `yaml:"max_retries" koanf:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" koanf:"retry_base_delay"`
	RateLimit      float64       `yaml:"rate_limit" koanf:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst" koanf:"rate_burst"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host            string `yaml:"host" koanf:"host"`
	Port            int    `yaml:"port" koanf:"port"`
	AllowAllOrigins bool   `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Embedding.Provider != ProviderOpenAI {
		t.Errorf("expected default embedding provider %q, got %q", ProviderOpenAI, cfg.Embedding.Provider)
	}
	if cfg.VectorStore.Backend != BackendChromem {
		t.Errorf("expected default backend %q, got %q", BackendChromem, cfg.VectorStore.Backend)
	}
	if cfg.VectorStore.Collection != "rag_documents" {
		t.Errorf("expected default collection rag_documents, got %q", cfg.VectorStore.Collection)
	}
	if cfg.Chunking.Size != 1000 || cfg.Chunking.Overlap != 200 {
		t.Errorf("expected chunking 1000/200, got %d/%d", cfg.Chunking.Size, cfg.Chunking.Overlap)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("expected default top_k 5, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Ingest.MaxFileSize != 50<<20 {
		t.Errorf("expected default max_file_size 50MiB, got %d", cfg.Ingest.MaxFileSize)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.ragpipe.yml")

	original := DefaultConfig()
	original.Embedding.Provider = ProviderOllama
	original.Embedding.Model = "nomic-embed-text"
	original.Embedding.Dimension = 768
	original.VectorStore.Backend = BackendQdrant
	original.Chunking.Size = 500
	original.Chunking.Overlap = 50
	original.Ingest.Include = []string{"**/*.md", "**/*.pdf"}
	original.Requests.Timeout = 45 * time.Second
	original.LLM.Temperature = 0.3
	original.Embedding.APIKey = "secret"

	if err := original.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Embedding.Provider != original.Embedding.Provider {
		t.Errorf("embedding.provider: got %q, want %q", loaded.Embedding.Provider, original.Embedding.Provider)
	}
	if loaded.Embedding.Dimension != 768 {
		t.Errorf("embedding.dimension: got %d, want 768", loaded.Embedding.Dimension)
	}
	if loaded.Embedding.APIKey != "" {
		t.Errorf("api key must not be persisted, got %q", loaded.Embedding.APIKey)
	}
	if loaded.VectorStore.Backend != BackendQdrant {
		t.Errorf("vector_store.backend: got %q, want %q", loaded.VectorStore.Backend, BackendQdrant)
	}
	if loaded.Chunking.Size != 500 || loaded.Chunking.Overlap != 50 {
		t.Errorf("chunking: got %d/%d, want 500/50", loaded.Chunking.Size, loaded.Chunking.Overlap)
	}
	if loaded.Requests.Timeout != 45*time.Second {
		t.Errorf("requests.timeout: got %s, want 45s", loaded.Requests.Timeout)
	}
	if loaded.LLM.Temperature != 0.3 {
		t.Errorf("llm.temperature: got %f, want 0.3", loaded.LLM.Temperature)
	}
	if len(loaded.Ingest.Include) != len(original.Ingest.Include) {
		t.Fatalf("include length: got %d, want %d", len(loaded.Ingest.Include), len(original.Ingest.Include))
	}
	for i, v := range loaded.Ingest.Include {
		if v != original.Ingest.Include[i] {
			t.Errorf("include[%d]: got %q, want %q", i, v, original.Ingest.Include[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.yml")

	// Loading a missing file should return defaults, not an error.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load should not fail for missing file: %v", err)
	}
	if cfg.Chunking.Size != 1000 {
		t.Errorf("expected default chunk size, got %d", cfg.Chunking.Size)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yml")

	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	t.Setenv("RAGPIPE_CHUNKING__SIZE", "400")
	t.Setenv("RAGPIPE_VECTOR_STORE__BACKEND", "qdrant")
	t.Setenv("RAGPIPE_REQUESTS__TIMEOUT", "5s")
	t.Setenv("RAGPIPE_LOG_LEVEL", "debug")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Chunking.Size != 400 {
		t.Errorf("chunking.size override failed: got %d", loaded.Chunking.Size)
	}
	if loaded.VectorStore.Backend != BackendQdrant {
		t.Errorf("backend override failed: got %q", loaded.VectorStore.Backend)
	}
	if loaded.Requests.Timeout != 5*time.Second {
		t.Errorf("timeout override failed: got %s", loaded.Requests.Timeout)
	}
	if loaded.LogLevel != "debug" {
		t.Errorf("log_level override failed: got %q", loaded.LogLevel)
	}
}

func TestLoadProviderAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("expected embedding api key from OPENAI_API_KEY, got %q", cfg.Embedding.APIKey)
	}
}

func TestValidateValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig should be valid, got: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "faiss" }},
		{"empty collection", func(c *Config) { c.VectorStore.Collection = "" }},
		{"zero chunk size", func(c *Config) { c.Chunking.Size = 0 }},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }},
		{"overlap equals size", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{"unknown id policy", func(c *Config) { c.Chunking.IDPolicy = "sequential" }},
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"zero concurrency", func(c *Config) { c.Ingest.Concurrency = 0 }},
		{"zero timeout", func(c *Config) { c.Requests.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.Requests.MaxRetries = -1 }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad llm provider", func(c *Config) {
			c.Retrieval.GenerateAnswers = true
			c.LLM.Provider = "google"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !rag.IsKind(err, rag.KindConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	p := DefaultConfig().Requests.RetryPolicy()
	if p.MaxRetries != 3 {
		t.Errorf("max retries: got %d, want 3", p.MaxRetries)
	}
	if p.BaseDelay != 500*time.Millisecond {
		t.Errorf("base delay: got %s, want 500ms", p.BaseDelay)
	}
	if p.AttemptTimeout != 30*time.Second {
		t.Errorf("attempt timeout: got %s, want 30s", p.AttemptTimeout)
	}
}

func TestGetProviderDefaults(t *testing.T) {
	d := GetProviderDefaults(ProviderOllama)
	if d.EmbeddingModel != "nomic-embed-text" {
		t.Errorf("expected nomic-embed-text, got %q", d.EmbeddingModel)
	}

	// Unknown provider falls back to OpenAI.
	d = GetProviderDefaults("unknown")
	if d.EmbeddingModel != "text-embedding-3-small" {
		t.Errorf("expected fallback to text-embedding-3-small, got %q", d.EmbeddingModel)
	}
}

func TestAPIKeyEnvVar(t *testing.T) {
	tests := []struct {
		provider ProviderType
		want     string
	}{
		{ProviderAnthropic, "ANTHROPIC_API_KEY"},
		{ProviderOpenAI, "OPENAI_API_KEY"},
		{ProviderGoogle, "GOOGLE_API_KEY"},
		{ProviderOllama, ""},
		{ProviderLocal, ""},
	}
	for _, tt := range tests {
		got := APIKeyEnvVar(tt.provider)
		if got != tt.want {
			t.Errorf("APIKeyEnvVar(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"**/*.md", []string{"**/*.md"}},
		{"", nil},
		{"  ,  , ", nil},
	}
	for _, tt := range tests {
		got := splitAndTrim(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("splitAndTrim(%q) len = %d, want %d", tt.input, len(got), len(tt.want))
			continue
		}
		for i, v := range got {
			if v != tt.want[i] {
				t.Errorf("splitAndTrim(%q)[%d] = %q, want %q", tt.input, i, v, tt.want[i])
			}
		}
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// DefaultPath is where ragpipe looks for its configuration.
const DefaultPath = ".ragpipe.yml"

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to ragpipe! Let's configure your document index.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Embedding provider.
	embedPrompt := promptui.Select{
		Label: "Select embedding provider",
		Items: []string{"openai", "ollama", "google", "local"},
	}
	_, embedStr, err := embedPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("embedding provider selection: %w", err)
	}
	cfg.Embedding.Provider = ProviderType(embedStr)
	defaults := GetProviderDefaults(cfg.Embedding.Provider)
	cfg.Embedding.Model = defaults.EmbeddingModel
	cfg.Embedding.Dimension = defaults.Dimension

	// 2. Vector store backend.
	backendPrompt := promptui.Select{
		Label: "Select vector store",
		Items: []string{
			"chromem - embedded, stored under the data directory",
			"qdrant  - external Qdrant server",
		},
	}
	backendIdx, _, err := backendPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("vector store selection: %w", err)
	}
	if backendIdx == 1 {
		cfg.VectorStore.Backend = BackendQdrant
		urlPrompt := promptui.Prompt{
			Label:   "Qdrant URL",
			Default: cfg.VectorStore.URL,
		}
		if cfg.VectorStore.URL, err = urlPrompt.Run(); err != nil {
			return nil, fmt.Errorf("qdrant url: %w", err)
		}
	}

	// 3. Chunking window.
	sizePrompt := promptui.Prompt{
		Label:    "Chunk size (characters)",
		Default:  strconv.Itoa(cfg.Chunking.Size),
		Validate: positiveInt,
	}
	sizeStr, err := sizePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("chunk size: %w", err)
	}
	cfg.Chunking.Size, _ = strconv.Atoi(sizeStr)
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		cfg.Chunking.Overlap = cfg.Chunking.Size / 5
	}

	// 4. Answer generation.
	answerPrompt := promptui.Select{
		Label: "Generate answers with an LLM?",
		Items: []string{"no - return matching passages only", "openai", "anthropic", "ollama"},
	}
	answerIdx, answerStr, err := answerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("answer generation selection: %w", err)
	}
	if answerIdx > 0 {
		cfg.Retrieval.GenerateAnswers = true
		cfg.LLM.Provider = ProviderType(answerStr)
		cfg.LLM.Model = GetProviderDefaults(cfg.LLM.Provider).LLMModel
	}

	// 5. Extra exclude patterns.
	excludePrompt := promptui.Prompt{
		Label:   "Extra exclude patterns (comma-separated, leave blank for defaults)",
		Default: "",
	}
	excludeStr, err := excludePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	if excludeStr != "" {
		cfg.Ingest.Exclude = append(append([]string(nil), DefaultExcludes...), splitAndTrim(excludeStr)...)
	}

	for _, p := range []ProviderType{cfg.Embedding.Provider, cfg.LLM.Provider} {
		if envVar := APIKeyEnvVar(p); envVar != "" && os.Getenv(envVar) == "" {
			fmt.Printf("\nNote: Set %s in your environment (or .env) before running ragpipe.\n", envVar)
		}
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("enter a positive number")
	}
	return nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}

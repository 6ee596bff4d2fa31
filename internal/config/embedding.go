package config

import (
	"fmt"
	"os"
)

// EmbeddingConfig defines one embedding model and the vector index it feeds.
type EmbeddingConfig struct {
	Name       string `mapstructure:"name"`         // Model identifier used by callers, e.g. "gte-small"
	Provider   string `mapstructure:"provider"`     // Provider type: "jina", "huggingface", "openai", "hash"
	Model      string `mapstructure:"model"`        // Upstream model id
	APIKey     string `mapstructure:"api_key"`      // API key (can be set directly or via env var)
	APIKeyEnv  string `mapstructure:"api_key_env"`  // Environment variable name for API key
	BaseURL    string `mapstructure:"base_url"`     // Override for the provider endpoint
	BaseURLEnv string `mapstructure:"base_url_env"` // Environment variable name for base URL
	Dimensions int    `mapstructure:"dimensions"`   // Embedding vector dimensions
	Index      string `mapstructure:"index"`        // Vector index (collection) name
}

// DefaultEmbeddingModels returns the built-in model to index catalog.
func DefaultEmbeddingModels() []EmbeddingConfig {
	return []EmbeddingConfig{
		{Name: "all-MiniLM-L6-v2", Provider: "huggingface", Model: "sentence-transformers/all-MiniLM-L6-v2", APIKeyEnv: "HF_API_KEY", Dimensions: 384, Index: "all-minilm-l6-v2"},
		{Name: "gte-small", Provider: "huggingface", Model: "thenlper/gte-small", APIKeyEnv: "HF_API_KEY", Dimensions: 384, Index: "gte-small"},
		{Name: "gte-large", Provider: "huggingface", Model: "thenlper/gte-large", APIKeyEnv: "HF_API_KEY", Dimensions: 1024, Index: "gte-large"},
		{Name: "jina-embeddings-v2-base-en", Provider: "jina", Model: "jina-embeddings-v2-base-en", APIKeyEnv: "JINA_API_KEY", Dimensions: 768, Index: "jina-embeddings-v2-base-en"},
		{Name: "text-embedding-3-small", Provider: "openai", Model: "text-embedding-3-small", APIKeyEnv: "OPENAI_API_KEY", BaseURLEnv: "OPENAI_BASE_URL", Dimensions: 1536, Index: "text-embedding-3-small"},
		{Name: "hash-384", Provider: "hash", Model: "hash-384", Dimensions: 384, Index: "hash-384"},
	}
}

// ResolveEnvVars resolves environment variable references in the configuration.
// Direct values (APIKey, BaseURL) take precedence if already set.
func (c *EmbeddingConfig) ResolveEnvVars() {
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}

	if c.BaseURLEnv != "" && c.BaseURL == "" {
		if val := os.Getenv(c.BaseURLEnv); val != "" {
			c.BaseURL = val
		}
	}
}

// Validate checks that the embedding configuration has all required fields.
func (c *EmbeddingConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("embedding config: name is required")
	}
	if c.Provider == "" {
		return fmt.Errorf("embedding %q: provider is required", c.Name)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding %q: dimensions must be positive", c.Name)
	}

	switch c.Provider {
	case "jina", "huggingface", "openai", "hash":
	default:
		return fmt.Errorf("embedding %q: unknown provider %q", c.Name, c.Provider)
	}

	return nil
}

// RequiresAPIKey reports whether the provider talks to an authenticated API.
func (c *EmbeddingConfig) RequiresAPIKey() bool {
	return c.Provider != "hash"
}

// GetIndex returns the index name, defaulting to the model name.
func (c *EmbeddingConfig) GetIndex() string {
	if c.Index != "" {
		return c.Index
	}
	return c.Name
}

// Clone creates a deep copy of the embedding configuration.
func (c *EmbeddingConfig) Clone() *EmbeddingConfig {
	clone := *c
	return &clone
}

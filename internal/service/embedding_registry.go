package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
)

// EmbeddingRegistry maps embedding model names to providers and their
// vector index. Lookups accept "owner/name" ids and match the last segment.
type EmbeddingRegistry struct {
	configs     map[string]*config.EmbeddingConfig
	providers   map[string]EmbeddingProvider
	defaultName string
	mu          sync.RWMutex
}

// NewEmbeddingRegistry creates a registry with all configured embeddings.
// Invalid configurations and ones missing a required API key are logged and
// skipped rather than causing failure.
// Parameters:
//   - models: embedding model catalog.
//   - defaultName: model used when callers pass an empty name.
// Returns:
//   - *EmbeddingRegistry: registry with at least one provider.
//   - error: non-nil when no configuration is usable.
func NewEmbeddingRegistry(models []config.EmbeddingConfig, defaultName string) (*EmbeddingRegistry, error) {
	r := &EmbeddingRegistry{
		configs:   make(map[string]*config.EmbeddingConfig),
		providers: make(map[string]EmbeddingProvider),
	}

	for i := range models {
		embCfg := models[i].Clone()
		embCfg.ResolveEnvVars()

		if err := embCfg.Validate(); err != nil {
			logger.Warn("Skipping invalid embedding config: index=%d, error=%v", i, err)
			continue
		}
		if embCfg.RequiresAPIKey() && embCfg.APIKey == "" {
			logger.Warn("Skipping embedding config: no API key configured, name=%s, api_key_env=%s",
				embCfg.Name, embCfg.APIKeyEnv)
			continue
		}

		provider, err := NewEmbeddingProvider(&EmbeddingProviderConfig{
			Provider:   embCfg.Provider,
			Model:      embCfg.Model,
			APIKey:     embCfg.APIKey,
			BaseURL:    embCfg.BaseURL,
			Dimensions: embCfg.Dimensions,
		})
		if err != nil {
			logger.Warn("Failed to create embedding provider, skipping: name=%s, error=%v", embCfg.Name, err)
			continue
		}

		r.configs[embCfg.Name] = embCfg
		r.providers[embCfg.Name] = provider
		logger.Debug("Registered embedding: name=%s, provider=%s, model=%s, index=%s, dim=%d",
			embCfg.Name, embCfg.Provider, embCfg.Model, embCfg.GetIndex(), embCfg.Dimensions)
	}

	if len(r.configs) == 0 {
		return nil, fmt.Errorf("no valid embedding configurations found")
	}

	if _, ok := r.configs[defaultName]; ok {
		r.defaultName = defaultName
	} else {
		// deterministic fallback
		r.defaultName = r.sortedNames()[0]
		logger.Warn("Default embedding %q not available, using %s", defaultName, r.defaultName)
	}

	return r, nil
}

// resolve maps a caller supplied name onto a registered one.
func (r *EmbeddingRegistry) resolve(name string) (string, bool) {
	if name == "" {
		return r.defaultName, true
	}
	if _, ok := r.configs[name]; ok {
		return name, true
	}
	if idx := strings.LastIndex(name, "/"); idx != -1 {
		short := name[idx+1:]
		if _, ok := r.configs[short]; ok {
			return short, true
		}
	}
	for key, cfg := range r.configs {
		if cfg.Model == name {
			return key, true
		}
	}
	return "", false
}

// Get returns the provider and configuration for name. An unknown name is
// a ConfigurationError wrapping ErrUnsupportedModel.
func (r *EmbeddingRegistry) Get(name string) (EmbeddingProvider, *config.EmbeddingConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.resolve(name)
	if !ok {
		return nil, nil, &domain.ConfigurationError{Key: name, Kind: domain.ErrUnsupportedModel, Detail: "embedding model is not registered"}
	}
	return r.providers[key], r.configs[key], nil
}

// Register adds or replaces a provider. Used for providers built outside
// the config catalog.
func (r *EmbeddingRegistry) Register(cfg config.EmbeddingConfig, provider EmbeddingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := cfg.Clone()
	r.configs[c.Name] = c
	r.providers[c.Name] = provider
	if r.defaultName == "" {
		r.defaultName = c.Name
	}
}

// DefaultName returns the name of the default embedding configuration.
func (r *EmbeddingRegistry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Names returns all registered embedding names, sorted.
func (r *EmbeddingRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames()
}

func (r *EmbeddingRegistry) sortedNames() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

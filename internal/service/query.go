package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
)

// Token limits used when a request does not set MaxTokens.
const (
	DefaultPredictMaxTokens = 450
	DefaultRAGMaxTokens     = 2000
)

// PredictRequest is one completion call.
type PredictRequest struct {
	Input        string
	SystemPrompt string // defaults to prompts.DefaultSystemPrompt

	// Stream delivers each delta to Sink as it arrives. The call still
	// returns the full text once the stream ends.
	Stream bool
	Sink   func(chunk string) error

	MaxTokens int
}

// QueryProvider runs completions against a hosted model. Calls are never
// retried.
type QueryProvider interface {
	Predict(ctx context.Context, req PredictRequest) (string, error)
	PredictWithEmbedding(ctx context.Context, req PredictRequest, retrievedContext string) (string, error)
}

// QueryDeps carries provider credentials and defaults.
type QueryDeps struct {
	OpenAI    config.OpenAIConfig
	Replicate config.ReplicateConfig
	Query     config.QueryConfig
}

// NewQueryProvider builds the provider for key serving model.
func NewQueryProvider(key, model string, deps QueryDeps) (QueryProvider, error) {
	if model == "" {
		return nil, &domain.ConfigurationError{Key: key, Kind: domain.ErrUnsupportedModel, Detail: "model is required"}
	}

	switch domain.ParseFinetuneProvider(key) {
	case domain.ProviderOpenAI:
		return newOpenAIQueryProvider(deps.OpenAI, model, deps.Query), nil
	case domain.ProviderReplicate:
		return newReplicateQueryProvider(deps.Replicate, model, deps.Query)
	default:
		return nil, &domain.ConfigurationError{Key: key, Kind: domain.ErrUnsupportedProvider, Detail: "unknown query provider"}
	}
}

// QueryRegistry caches one provider per (key, model).
type QueryRegistry struct {
	deps QueryDeps

	mu        sync.Mutex
	providers map[string]QueryProvider
}

// NewQueryRegistry creates an empty registry.
func NewQueryRegistry(deps QueryDeps) *QueryRegistry {
	return &QueryRegistry{deps: deps, providers: make(map[string]QueryProvider)}
}

// Get returns the provider for key and model, falling back to the
// configured defaults when either is empty.
func (r *QueryRegistry) Get(key, model string) (QueryProvider, error) {
	if key == "" {
		key = r.deps.Query.Provider
	}
	if model == "" {
		model = r.deps.Query.Model
	}
	cacheKey := strings.ToUpper(key) + "|" + model

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[cacheKey]; ok {
		return p, nil
	}
	p, err := NewQueryProvider(key, model, r.deps)
	if err != nil {
		return nil, err
	}
	r.providers[cacheKey] = p
	return p, nil
}

// Register installs a provider under key and model.
func (r *QueryRegistry) Register(key, model string, p QueryProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToUpper(key)+"|"+model] = p
}

func maxTokensOr(req PredictRequest, configured, fallback int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if configured > 0 {
		return configured
	}
	return fallback
}

// emit forwards a delta to the request sink.
func (req PredictRequest) emit(chunk string) error {
	if !req.Stream || req.Sink == nil || chunk == "" {
		return nil
	}
	if err := req.Sink(chunk); err != nil {
		return fmt.Errorf("stream sink: %w", err)
	}
	return nil
}

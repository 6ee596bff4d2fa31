package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
)

// DefaultTopK is the number of matches retrieved per query.
const DefaultTopK = 5

// RetrieveOptions selects where and how to search.
type RetrieveOptions struct {
	EmbeddingModel string // registry name; empty uses the default model
	VectorStore    string // QDRANT, PINECONE or MEMORY; empty uses the default store
	Namespace      string // usually a record id
	TopK           int
	Rerank         bool
}

// DefaultRetrieveOptions returns TopK 5 with reranking on.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{TopK: DefaultTopK, Rerank: true}
}

// RetrieveResult holds ranked matches and their joined text.
type RetrieveResult struct {
	Matches []domain.Match `json:"matches"`
	Context string         `json:"context"`
}

// Retriever embeds a query and searches the index of its embedding model.
type Retriever struct {
	embeddings   *EmbeddingRegistry
	stores       *VectorStoreFactory
	defaultStore string
}

// NewRetriever creates a retriever.
func NewRetriever(embeddings *EmbeddingRegistry, stores *VectorStoreFactory, defaultStore string) *Retriever {
	return &Retriever{embeddings: embeddings, stores: stores, defaultStore: defaultStore}
}

// Retrieve returns up to opts.TopK matches for query.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (*RetrieveResult, error) {
	start := time.Now()
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	storeKey := opts.VectorStore
	if storeKey == "" {
		storeKey = r.defaultStore
	}

	provider, embCfg, err := r.embeddings.Get(opts.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	store, err := r.stores.Get(ctx, storeKey, embCfg)
	if err != nil {
		return nil, err
	}

	vectors, err := provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("failed to embed query: got %d vectors", len(vectors))
	}

	matches, err := store.Query(ctx, opts.Namespace, vectors[0], opts.TopK, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}
	if opts.Rerank {
		matches = Rerank(matches, query, opts.TopK)
	}

	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := m.Text(); t != "" {
			texts = append(texts, t)
		}
	}

	logger.With(logger.Fields{
		logger.FieldCount:      len(matches),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		"namespace":            opts.Namespace,
		"embedding_model":      embCfg.Name,
	}).Debug(ctx, "Retrieval completed")

	return &RetrieveResult{Matches: matches, Context: strings.Join(texts, "\n\n")}, nil
}

// AskRequest is a retrieval-augmented question.
type AskRequest struct {
	PredictRequest
	Provider string // query provider key; empty uses the default
	Model    string
	Retrieve RetrieveOptions
}

// AskResult is the answer together with what it was grounded on.
type AskResult struct {
	Output  string         `json:"output"`
	Matches []domain.Match `json:"matches"`
}

// QueryService composes retrieval with a query provider.
type QueryService struct {
	retriever *Retriever
	providers *QueryRegistry
}

// NewQueryService creates a query service.
func NewQueryService(retriever *Retriever, providers *QueryRegistry) *QueryService {
	return &QueryService{retriever: retriever, providers: providers}
}

// Predict runs a plain completion.
func (s *QueryService) Predict(ctx context.Context, provider, model string, req PredictRequest) (string, error) {
	p, err := s.providers.Get(provider, model)
	if err != nil {
		return "", err
	}
	return p.Predict(ctx, req)
}

// Retrieve exposes the retriever for search-only callers.
func (s *QueryService) Retrieve(ctx context.Context, query string, opts RetrieveOptions) (*RetrieveResult, error) {
	return s.retriever.Retrieve(ctx, query, opts)
}

// Ask retrieves context for req.Input and answers with it.
func (s *QueryService) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	p, err := s.providers.Get(req.Provider, req.Model)
	if err != nil {
		return nil, err
	}

	retrieved, err := s.retriever.Retrieve(ctx, req.Input, req.Retrieve)
	if err != nil {
		return nil, err
	}

	out, err := p.PredictWithEmbedding(ctx, req.PredictRequest, retrieved.Context)
	if err != nil {
		return nil, err
	}
	return &AskResult{Output: out, Matches: retrieved.Matches}, nil
}

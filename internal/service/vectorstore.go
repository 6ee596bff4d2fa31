package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/repository"
)

// Vector store keys.
const (
	VectorStoreQdrant   = "QDRANT"
	VectorStorePinecone = "PINECONE"
	VectorStoreMemory   = "MEMORY"
)

// VectorStore is a namespace-partitioned vector index of fixed dimension.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, entries []domain.EmbeddingEntry) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error)
	Dimensions() int
}

type storeKey struct {
	provider string
	index    string
}

// VectorStoreFactory builds and caches one store per (provider, index).
// Construction creates the index when missing.
type VectorStoreFactory struct {
	qdrant   config.QdrantConfig
	pinecone config.PineconeConfig

	mu     sync.Mutex
	stores map[storeKey]VectorStore
}

// NewVectorStoreFactory creates a factory from connection settings.
func NewVectorStoreFactory(qdrant config.QdrantConfig, pinecone config.PineconeConfig) *VectorStoreFactory {
	return &VectorStoreFactory{
		qdrant:   qdrant,
		pinecone: pinecone,
		stores:   make(map[storeKey]VectorStore),
	}
}

// Get returns the store for provider holding the index of emb. An unknown
// provider is a ConfigurationError wrapping ErrUnsupportedProvider; an
// existing index with another dimension wraps ErrDimensionMismatch.
func (f *VectorStoreFactory) Get(ctx context.Context, provider string, emb *config.EmbeddingConfig) (VectorStore, error) {
	provider = strings.ToUpper(strings.TrimSpace(provider))
	key := storeKey{provider: provider, index: emb.GetIndex()}

	f.mu.Lock()
	defer f.mu.Unlock()

	if store, ok := f.stores[key]; ok {
		if store.Dimensions() != emb.Dimensions {
			return nil, &domain.ConfigurationError{
				Key:    key.index,
				Kind:   domain.ErrDimensionMismatch,
				Detail: fmt.Sprintf("index has dimension %d, model %s produces %d", store.Dimensions(), emb.Name, emb.Dimensions),
			}
		}
		return store, nil
	}

	store, err := f.build(ctx, provider, key.index, emb.Dimensions)
	if err != nil {
		return nil, err
	}
	f.stores[key] = store

	logger.With(logger.Fields{
		logger.FieldProvider: provider,
		"index":              key.index,
		"dimension":          emb.Dimensions,
	}).Info(ctx, "Vector store ready")

	return store, nil
}

// Put registers a prebuilt store. Used by tests and the MEMORY default.
func (f *VectorStoreFactory) Put(provider, index string, store VectorStore) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores[storeKey{provider: strings.ToUpper(provider), index: index}] = store
}

func (f *VectorStoreFactory) build(ctx context.Context, provider, index string, dimension int) (VectorStore, error) {
	switch provider {
	case VectorStoreMemory:
		return repository.NewMemoryVectorRepository(dimension), nil

	case VectorStoreQdrant:
		repo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            f.qdrant.Host,
			Port:            f.qdrant.Port,
			Collection:      index,
			APIKey:          f.qdrant.APIKey,
			UseTLS:          f.qdrant.UseTLS,
			VectorDimension: dimension,
		})
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureCollection(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		return repo, nil

	case VectorStorePinecone:
		repo, err := repository.NewPineconeRepository(repository.PineconeConfig{
			APIKey:      f.pinecone.APIKey,
			ControlURL:  f.pinecone.ControlURL,
			Index:       index,
			Dimension:   dimension,
			Cloud:       f.pinecone.Cloud,
			Region:      f.pinecone.Region,
			UpsertBatch: f.pinecone.UpsertBatch,
		})
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		return repo, nil

	default:
		return nil, &domain.ConfigurationError{Key: provider, Kind: domain.ErrUnsupportedProvider, Detail: "unknown vector store"}
	}
}

// Close releases stores holding connections.
func (f *VectorStoreFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, store := range f.stores {
		if c, ok := store.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				logger.Warn("Error closing vector store: provider=%s, index=%s, error=%v", key.provider, key.index, err)
			}
		}
	}
	f.stores = make(map[storeKey]VectorStore)
}

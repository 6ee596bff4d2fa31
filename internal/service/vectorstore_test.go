package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/repository"
)

func TestVectorStoreFactory_CachesPerIndex(t *testing.T) {
	f := NewVectorStoreFactory(config.QdrantConfig{}, config.PineconeConfig{})
	small := hashEmbeddingConfig("hash-384", 384)
	large := hashEmbeddingConfig("hash-768", 768)

	a, err := f.Get(context.Background(), "memory", &small)
	require.NoError(t, err)
	b, err := f.Get(context.Background(), VectorStoreMemory, &small)
	require.NoError(t, err)
	c, err := f.Get(context.Background(), VectorStoreMemory, &large)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 384, a.Dimensions())
	assert.Equal(t, 768, c.Dimensions())
}

func TestVectorStoreFactory_DimensionMismatch(t *testing.T) {
	f := NewVectorStoreFactory(config.QdrantConfig{}, config.PineconeConfig{})
	small := hashEmbeddingConfig("hash-384", 384)
	_, err := f.Get(context.Background(), VectorStoreMemory, &small)
	require.NoError(t, err)

	// a 768 model pointed at the 384 index
	wrong := config.EmbeddingConfig{Name: "hash-768", Provider: "hash", Model: "hash-768", Dimensions: 768, Index: "hash-384"}
	_, err = f.Get(context.Background(), VectorStoreMemory, &wrong)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestVectorStoreFactory_StoreRejectsForeignVectors(t *testing.T) {
	f := NewVectorStoreFactory(config.QdrantConfig{}, config.PineconeConfig{})
	small := hashEmbeddingConfig("hash-384", 384)
	store, err := f.Get(context.Background(), VectorStoreMemory, &small)
	require.NoError(t, err)

	err = store.Upsert(context.Background(), "rec-1", []domain.EmbeddingEntry{{ID: "c0", Vector: make([]float32, 768)}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Zero(t, store.(*repository.MemoryVectorRepository).Count("rec-1"))
}

func TestVectorStoreFactory_UnknownProvider(t *testing.T) {
	f := NewVectorStoreFactory(config.QdrantConfig{}, config.PineconeConfig{})
	emb := hashEmbeddingConfig("hash-384", 384)
	_, err := f.Get(context.Background(), "chroma", &emb)
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestVectorStoreFactory_Put(t *testing.T) {
	f := NewVectorStoreFactory(config.QdrantConfig{}, config.PineconeConfig{})
	store := repository.NewMemoryVectorRepository(384)
	f.Put(VectorStoreQdrant, "hash-384", store)

	emb := hashEmbeddingConfig("hash-384", 384)
	got, err := f.Get(context.Background(), VectorStoreQdrant, &emb)
	require.NoError(t, err)
	assert.Same(t, store, got)
}

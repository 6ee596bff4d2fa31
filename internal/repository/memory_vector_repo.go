package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/timmy/nagato/internal/domain"
)

// MemoryVectorRepository is an in-process vector index scored by cosine
// similarity.
type MemoryVectorRepository struct {
	mu         sync.RWMutex
	dimension  int
	namespaces map[string]map[string]domain.EmbeddingEntry
}

// NewMemoryVectorRepository creates an empty index of the given dimension.
func NewMemoryVectorRepository(dimension int) *MemoryVectorRepository {
	return &MemoryVectorRepository{
		dimension:  dimension,
		namespaces: make(map[string]map[string]domain.EmbeddingEntry),
	}
}

func (r *MemoryVectorRepository) Dimensions() int {
	return r.dimension
}

// Upsert overwrites entries by id inside namespace.
func (r *MemoryVectorRepository) Upsert(_ context.Context, namespace string, entries []domain.EmbeddingEntry) error {
	for _, e := range entries {
		if len(e.Vector) != r.dimension {
			return fmt.Errorf("%w: entry %s has %d dimensions, index expects %d",
				domain.ErrDimensionMismatch, e.ID, len(e.Vector), r.dimension)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := r.namespaces[namespace]
	if !ok {
		ns = make(map[string]domain.EmbeddingEntry)
		r.namespaces[namespace] = ns
	}
	for _, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		meta := make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		ns[e.ID] = domain.EmbeddingEntry{ID: e.ID, Vector: vec, Metadata: meta}
	}
	return nil
}

func (r *MemoryVectorRepository) Query(_ context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	if len(vector) != r.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			domain.ErrDimensionMismatch, len(vector), r.dimension)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ns := r.namespaces[namespace]
	matches := make([]domain.Match, 0, len(ns))
	for id, e := range ns {
		m := domain.Match{ID: id, Score: cosine(vector, e.Vector)}
		if includeMetadata {
			m.Metadata = make(map[string]interface{}, len(e.Metadata))
			for k, v := range e.Metadata {
				m.Metadata[k] = v
			}
		}
		matches = append(matches, m)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the number of entries stored under namespace.
func (r *MemoryVectorRepository) Count(namespace string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.namespaces[namespace])
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

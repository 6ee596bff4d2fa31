package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/timmy/nagato/internal/domain"
)

// MemoryRecordRepository keeps records in process. It backs the "memory"
// database driver and tests. Every call works on copies so callers never
// share a record's job map.
type MemoryRecordRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.Record
	byJob   map[string]string
	now     func() time.Time
}

// NewMemoryRecordRepository creates an empty in-memory record store.
func NewMemoryRecordRepository() *MemoryRecordRepository {
	return &MemoryRecordRepository{
		records: make(map[string]*domain.Record),
		byJob:   make(map[string]string),
		now:     time.Now,
	}
}

func (r *MemoryRecordRepository) Create(_ context.Context, rec *domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	now := r.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	r.records[rec.ID] = rec.Clone()
	if rec.JobID != "" {
		r.byJob[rec.JobID] = rec.ID
	}
	return nil
}

func (r *MemoryRecordRepository) Update(_ context.Context, rec *domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; !exists {
		return domain.ErrNotFound
	}
	rec.UpdatedAt = r.now()
	r.records[rec.ID] = rec.Clone()
	if rec.JobID != "" {
		if _, taken := r.byJob[rec.JobID]; !taken {
			r.byJob[rec.JobID] = rec.ID
		}
	}
	return nil
}

func (r *MemoryRecordRepository) GetByID(_ context.Context, id string) (*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// FindByJobID returns the first record that was assigned jobID.
func (r *MemoryRecordRepository) FindByJobID(_ context.Context, jobID string) (*domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byJob[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.records[id].Clone(), nil
}

func (r *MemoryRecordRepository) FindAll(_ context.Context, status domain.RecordStatus) ([]domain.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Record, 0, len(r.records))
	for _, rec := range r.records {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, *rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

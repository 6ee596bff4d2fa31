package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/nagato/internal/domain"
	"gorm.io/gorm"
)

// RecordRepository persists datasource records with GORM.
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new RecordRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *RecordRepository: repository instance bound to db.
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Create inserts a new record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: record to persist; CreatedAt/UpdatedAt are filled by GORM.
// Returns:
//   - error: non-nil if the insert fails.
func (r *RecordRepository) Create(ctx context.Context, rec *domain.Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Update writes every column of rec except its id and creation time.
// Concurrent updates are last-write-wins.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: record with updated fields.
// Returns:
//   - error: domain.ErrNotFound when no row has rec.ID.
func (r *RecordRepository) Update(ctx context.Context, rec *domain.Record) error {
	result := r.db.WithContext(ctx).
		Model(rec).
		Select("*").
		Omit("id", "created_at").
		Updates(rec)
	if result.Error != nil {
		return fmt.Errorf("failed to update record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a record by its ID.
// Returns domain.ErrNotFound when no row matches.
func (r *RecordRepository) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	var rec domain.Record
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// FindByJobID looks a record up through the indexed job_id column.
// Returns domain.ErrNotFound when no row matches.
func (r *RecordRepository) FindByJobID(ctx context.Context, jobID string) (*domain.Record, error) {
	var rec domain.Record
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		First(&rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// FindAll returns records ordered by creation time, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: optional status filter; empty returns every record.
// Returns:
//   - []domain.Record: matching records.
//   - error: non-nil if the query fails.
func (r *RecordRepository) FindAll(ctx context.Context, status domain.RecordStatus) ([]domain.Record, error) {
	var recs []domain.Record
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return recs, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

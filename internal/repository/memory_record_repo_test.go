package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/domain"
)

func TestMemoryRecordRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRecordRepository()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	first := &domain.Record{ID: "r1", Type: domain.IngestTypeTXT, Content: "x", Status: domain.RecordStatusPending}
	second := &domain.Record{ID: "r2", Type: domain.IngestTypeTXT, Content: "y", Status: domain.RecordStatusPending}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	assert.Error(t, repo.Create(ctx, first))

	t.Run("job lookup", func(t *testing.T) {
		_, err := repo.FindByJobID(ctx, "job-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		rec, err := repo.GetByID(ctx, "r1")
		require.NoError(t, err)
		require.NoError(t, rec.AttachJob(map[string]interface{}{"id": "job-1", "status": "pending"}))
		require.NoError(t, repo.Update(ctx, rec))

		found, err := repo.FindByJobID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "r1", found.ID)
	})

	t.Run("copies are isolated", func(t *testing.T) {
		rec, err := repo.GetByID(ctx, "r1")
		require.NoError(t, err)
		rec.Job["status"] = "mutated"

		again, err := repo.GetByID(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "pending", again.Job["status"])
	})

	t.Run("list by status newest first", func(t *testing.T) {
		rec, err := repo.GetByID(ctx, "r2")
		require.NoError(t, err)
		require.NoError(t, rec.Transition(domain.RecordStatusDone))
		require.NoError(t, repo.Update(ctx, rec))

		all, err := repo.FindAll(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "r2", all[0].ID)

		pending, err := repo.FindAll(ctx, domain.RecordStatusPending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "r1", pending[0].ID)
	})

	t.Run("update missing", func(t *testing.T) {
		err := repo.Update(ctx, &domain.Record{ID: "nope"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
)

func newSQLiteRecordRepository(t *testing.T) *RecordRepository {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "nagato.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.True(t, db.Migrator().HasIndex(&domain.Record{}, "JobID"), "job_id must be indexed")
	return NewRecordRepository(db)
}

func TestRecordRepository(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRecordRepository(t)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &domain.Record{
		ID:             "r1",
		Type:           domain.IngestTypeTXT,
		Content:        "first body",
		Provider:       domain.ProviderOpenAI,
		BaseModel:      domain.BaseModelGPT35Turbo,
		EmbeddingModel: "hash-384",
		Status:         domain.RecordStatusPending,
		CreatedAt:      created,
	}
	second := &domain.Record{
		ID:        "r2",
		Type:      domain.IngestTypeMarkdown,
		URL:       "https://example.com/b.md",
		Provider:  domain.ProviderOpenAI,
		BaseModel: domain.BaseModelGPT35Turbo,
		Status:    domain.RecordStatusPending,
		CreatedAt: created.Add(time.Minute),
	}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	assert.Error(t, repo.Create(ctx, &domain.Record{ID: "r1", Type: domain.IngestTypeTXT, Content: "dup",
		Provider: domain.ProviderOpenAI, BaseModel: domain.BaseModelGPT35Turbo, Status: domain.RecordStatusPending}))

	t.Run("missing rows", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = repo.FindByJobID(ctx, "ftjob-unknown")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = repo.Update(ctx, &domain.Record{ID: "nope", Status: domain.RecordStatusDone})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		all, err := repo.FindAll(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2, "a failed update must not insert")
	})

	t.Run("job round trip", func(t *testing.T) {
		rec, err := repo.GetByID(ctx, "r1")
		require.NoError(t, err)
		require.NoError(t, rec.AttachJob(map[string]interface{}{
			"id":              "ftjob-1",
			"status":          "pending",
			"model":           "gpt-3.5-turbo",
			"hyperparameters": map[string]interface{}{"n_epochs": 3},
		}))
		require.NoError(t, repo.Update(ctx, rec))

		found, err := repo.FindByJobID(ctx, "ftjob-1")
		require.NoError(t, err)
		assert.Equal(t, "r1", found.ID)
		assert.Equal(t, "ftjob-1", found.JobID)
		assert.Equal(t, "pending", found.Job["status"])
		assert.Equal(t, "gpt-3.5-turbo", found.Job["model"])
		assert.Equal(t, map[string]interface{}{"n_epochs": float64(3)}, found.Job["hyperparameters"])
		assert.Equal(t, "first body", found.Content)
		assert.Equal(t, "hash-384", found.EmbeddingModel)
		assert.True(t, found.CreatedAt.Equal(created), "update must keep the creation time")
		assert.Equal(t, domain.RecordStatusPending, found.Status)
	})

	t.Run("status transition persists", func(t *testing.T) {
		rec, err := repo.FindByJobID(ctx, "ftjob-1")
		require.NoError(t, err)
		require.NoError(t, rec.Transition(domain.RecordStatusDone))
		rec.Job["status"] = "succeeded"
		require.NoError(t, repo.Update(ctx, rec))

		again, err := repo.GetByID(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, domain.RecordStatusDone, again.Status)
		assert.Equal(t, "succeeded", again.Job["status"])
	})

	t.Run("list by status newest first", func(t *testing.T) {
		all, err := repo.FindAll(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "r2", all[0].ID)
		assert.Equal(t, "r1", all[1].ID)

		pending, err := repo.FindAll(ctx, domain.RecordStatusPending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "r2", pending[0].ID)
		assert.Empty(t, pending[0].JobID)

		done, err := repo.FindAll(ctx, domain.RecordStatusDone)
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, "r1", done[0].ID)
	})
}

// Package app wires configuration into the running set of services shared
// by the API server and the CLI.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/repository"
	"github.com/timmy/nagato/internal/service"
	"github.com/timmy/nagato/internal/source"
	"github.com/timmy/nagato/internal/source/staging"
	"github.com/timmy/nagato/internal/storage"
)

// App holds every long-lived component.
type App struct {
	Config       *config.Config
	Records      service.RecordStore
	Embeddings   *service.EmbeddingRegistry
	Stores       *service.VectorStoreFactory
	Storage      storage.ObjectStorage // nil when storage is disabled
	Finetuners   *service.FinetuneRegistry
	Queries      *service.QueryRegistry
	Dispatcher   *service.Dispatcher
	Orchestrator *service.Orchestrator
	Reconciler   *service.Reconciler
	QueryService *service.QueryService
	Ingest       *service.IngestService
	Sources      map[string]source.Source

	closers []func() error
}

// New builds the application from cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	records, err := a.openRecords(cfg)
	if err != nil {
		return nil, err
	}
	a.Records = records

	a.Embeddings, err = service.NewEmbeddingRegistry(cfg.Embedding.Models, cfg.Embedding.DefaultModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize embeddings: %w", err)
	}

	a.Stores = service.NewVectorStoreFactory(cfg.Qdrant, cfg.Pinecone)
	a.closers = append(a.closers, func() error { a.Stores.Close(); return nil })

	a.Storage, err = storage.NewStorage(&cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if s3, ok := a.Storage.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
	}

	a.Finetuners = service.NewFinetuneRegistry(service.FinetuneDeps{
		OpenAI:        cfg.OpenAI,
		Replicate:     cfg.Replicate,
		Finetune:      cfg.Finetune,
		Storage:       a.Storage,
		StoragePrefix: cfg.Storage.Prefix,
	})
	a.Queries = service.NewQueryRegistry(service.QueryDeps{
		OpenAI:    cfg.OpenAI,
		Replicate: cfg.Replicate,
		Query:     cfg.Query,
	})

	a.Dispatcher, err = service.NewDispatcher(cfg.Pipeline.Workers)
	if err != nil {
		a.Close()
		return nil, err
	}
	go a.Dispatcher.LogErrors()

	notifier := service.NewNotifier(cfg.Pipeline.NotifyTimeout)
	chunker := source.NewChunker(
		source.NewLoader(a.Storage, cfg.Pipeline.AllowedLocalRoots()...),
		source.NewSplitter(cfg.Finetune.ChunkSize, cfg.Finetune.ChunkOverlap),
	)

	a.Orchestrator = service.NewOrchestrator(a.Records, chunker, a.Embeddings, a.Stores, a.Finetuners, notifier, a.Dispatcher,
		service.OrchestratorConfig{
			EmbeddingBatchSize:   cfg.Embedding.BatchSize,
			EmbeddingConcurrency: cfg.Embedding.Concurrency,
			VectorStore:          cfg.VectorStore.Provider,
			WebhookURL:           cfg.WebhookURL(),
			LocalRoots:           cfg.Pipeline.AllowedLocalRoots(),
		})
	a.Reconciler = service.NewReconciler(a.Records, notifier)
	a.QueryService = service.NewQueryService(
		service.NewRetriever(a.Embeddings, a.Stores, cfg.VectorStore.Provider),
		a.Queries,
	)
	a.Ingest = service.NewIngestService(a.Orchestrator, &service.IngestConfig{
		Workers:   cfg.Pipeline.IngestWorkers,
		BatchSize: cfg.Pipeline.IngestBatchSize,
	})
	a.Sources = stagingSources(cfg.Pipeline.StagingPath)

	logger.Info("Application ready: db=%s, vectorstore=%s, embeddings=%v, default_embedding=%s, sources=%d",
		cfg.Database.Driver, cfg.VectorStore.Provider, a.Embeddings.Names(), a.Embeddings.DefaultName(), len(a.Sources))
	return a, nil
}

func (a *App) openRecords(cfg *config.Config) (service.RecordStore, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory record store; records are lost on exit")
		return repository.NewMemoryRecordRepository(), nil
	}
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	a.closers = append(a.closers, sqlDB.Close)
	return repository.NewRecordRepository(db), nil
}

// stagingSources registers one adapter per staged source directory.
func stagingSources(basePath string) map[string]source.Source {
	sources := make(map[string]source.Source)
	if basePath == "" {
		return sources
	}
	ids, err := staging.ListStagingSources(basePath)
	if err != nil {
		logger.Warn("Failed to list staging sources: path=%s, error=%v", basePath, err)
		return sources
	}
	for _, id := range ids {
		sources[id] = staging.NewAdapter(basePath, id)
		logger.Debug("Registered staging source: id=%s, path=%s", id, filepath.Join(basePath, id))
	}
	return sources
}

// Close waits for running flows, then releases connections in reverse
// order of creation.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Release()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Error during shutdown: %v", err)
		}
	}
	a.closers = nil
}

package service

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/source"
)

// IngestService feeds staged documents from a Source into the pipeline.
type IngestService struct {
	orchestrator *Orchestrator
	workers      int
	batchSize    int
}

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	Workers   int
	BatchSize int
}

// NewIngestService creates a new ingest service
func NewIngestService(orchestrator *Orchestrator, cfg *IngestConfig) *IngestService {
	workers, batchSize := cfg.Workers, cfg.BatchSize
	if workers <= 0 {
		workers = 4
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &IngestService{orchestrator: orchestrator, workers: workers, batchSize: batchSize}
}

// IngestStats holds statistics for an ingestion run
type IngestStats struct {
	TotalItems     int64     `json:"total_items"`
	ProcessedItems int64     `json:"processed_items"`
	FailedItems    int64     `json:"failed_items"`
	RecordIDs      []string  `json:"record_ids"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// IngestFromSource creates a record for up to limit staged items. Flows
// run in the background; call Orchestrator.Wait to block on them.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, limit int) (*IngestStats, error) {
	stats := &IngestStats{StartTime: time.Now()}
	log := logger.FromContext(ctx)

	log.WithFields(logger.Fields{
		logger.FieldSource: src.GetSourceID(),
		"limit":            limit,
	}).Info("Starting ingestion")

	itemsChan := make(chan source.Item, s.workers*2)
	resultsChan := make(chan *processResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, itemsChan, resultsChan)
		}()
	}

	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			if result.err != nil {
				atomic.AddInt64(&stats.FailedItems, 1)
				log.WithFields(logger.Fields{
					"source_id": result.sourceID,
				}).WithError(result.err).Error("Failed to ingest item")
				continue
			}
			stats.RecordIDs = append(stats.RecordIDs, result.recordID)
		}
		close(done)
	}()

	cursor := ""
	totalFetched := 0
fetch:
	for ctx.Err() == nil {
		remaining := limit - totalFetched
		if limit > 0 && remaining <= 0 {
			break
		}
		batchLimit := s.batchSize
		if limit > 0 && batchLimit > remaining {
			batchLimit = remaining
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			log.WithError(err).Error("Failed to fetch batch")
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		totalFetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break fetch
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()

	logger.With(logger.Fields{
		logger.FieldSource:     src.GetSourceID(),
		"total":                stats.TotalItems,
		"processed":            stats.ProcessedItems,
		"failed":               stats.FailedItems,
		logger.FieldDurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
	}).Info(ctx, "Ingestion completed")

	return stats, ctx.Err()
}

type processResult struct {
	sourceID string
	recordID string
	err      error
}

func (s *IngestService) worker(ctx context.Context, items <-chan source.Item, results chan<- *processResult) {
	for item := range items {
		result := &processResult{sourceID: item.SourceID}
		if ctx.Err() != nil {
			result.err = ctx.Err()
			results <- result
			continue
		}

		rec, err := s.orchestrator.Ingest(ctx, itemRequest(item))
		if err != nil {
			result.err = err
		} else {
			result.recordID = rec.ID
		}
		results <- result
	}
}

// itemRequest maps a staged item to an ingest request. Local files are
// addressed with file:// so the loader reads them from disk.
func itemRequest(item source.Item) IngestRequest {
	url := item.URL
	if url == "" && item.LocalPath != "" {
		if abs, err := filepath.Abs(item.LocalPath); err == nil {
			url = "file://" + abs
		} else {
			url = "file://" + item.LocalPath
		}
	}
	return IngestRequest{
		Type:           string(item.Type),
		BaseModel:      string(item.BaseModel),
		Provider:       string(item.Provider),
		URL:            url,
		WebhookURL:     item.WebhookURL,
		EmbeddingModel: item.EmbeddingModel,
	}
}

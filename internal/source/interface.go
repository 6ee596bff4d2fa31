package source

import (
	"context"

	"github.com/timmy/nagato/internal/domain"
)

// Document is a datasource body ready for splitting.
type Document struct {
	Type   domain.IngestType
	Source string // url, or "inline" for request content
	Body   []byte
}

// Fetcher retrieves a document body by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ChunkSource yields the ordered chunks of a record.
type ChunkSource interface {
	Chunks(ctx context.Context, rec *domain.Record) ([]domain.Chunk, error)
}

// Item is one staged document waiting for ingestion.
type Item struct {
	SourceID       string
	Type           domain.IngestType
	URL            string // remote url, empty when LocalPath is set
	LocalPath      string
	Provider       domain.FinetuneProvider
	BaseModel      domain.BaseModel
	EmbeddingModel string
	WebhookURL     string
}

// Source lists staged documents page by page.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	GetDisplayName() string

	// FetchBatch fetches items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of staged documents.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []Item, nextCursor string, err error)
}

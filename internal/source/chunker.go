package source

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
)

// Chunker turns a record into chunks: load, split, then attach ids and
// metadata. It implements ChunkSource.
type Chunker struct {
	loader   *Loader
	splitter *Splitter
}

// NewChunker creates a Chunker.
// Parameters:
//   - loader: resolves record bodies.
//   - splitter: splits bodies into windows.
// Returns:
//   - *Chunker: chunk source ready for use.
func NewChunker(loader *Loader, splitter *Splitter) *Chunker {
	return &Chunker{loader: loader, splitter: splitter}
}

// Chunks returns the record's chunks in document order.
func (c *Chunker) Chunks(ctx context.Context, rec *domain.Record) ([]domain.Chunk, error) {
	doc, err := c.loader.Load(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to load datasource: %w", err)
	}

	texts, err := c.splitter.Split(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to split datasource: %w", err)
	}

	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{
			ID:      ChunkID(rec.ID, i),
			Text:    text,
			Ordinal: i,
			Metadata: map[string]interface{}{
				domain.MetaContent:  text,
				domain.MetaRecordID: rec.ID,
				domain.MetaOrdinal:  i,
				domain.MetaSource:   doc.Source,
			},
		}
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(chunks),
		logger.FieldSize:  len(doc.Body),
	}).Debug(ctx, "Split %s datasource into chunks", rec.Type)

	return chunks, nil
}

// ChunkID is stable per (record, ordinal) so re-embedding a record
// overwrites its previous vectors.
func ChunkID(recordID string, ordinal int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", recordID, ordinal))).String()
}

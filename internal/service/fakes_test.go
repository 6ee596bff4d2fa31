package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/prompts"
)

// chatLine is one valid chat-format dataset line.
func chatLine(q, a string) string {
	return fmt.Sprintf(`{"messages": [{"role": "system", "content": "sys"}, {"role": "user", "content": %q}, {"role": "assistant", "content": %q}]}`, q, a)
}

func promptLine(q, a string) string {
	return fmt.Sprintf(`{"prompt": %q, "completion": %q}`, q, a)
}

// fakeGenerator answers every chunk with two dataset lines and tracks
// concurrency.
type fakeGenerator struct {
	format prompts.DatasetFormat
	fail   func(chunk domain.Chunk) error
	onCall func(chunk domain.Chunk)
	raw    string // returned verbatim when set

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32

	mu   sync.Mutex
	seen []int
}

func (g *fakeGenerator) Generate(ctx context.Context, chunk domain.Chunk) (string, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		cur := g.maxInFlight.Load()
		if n <= cur || g.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	g.calls.Add(1)

	g.mu.Lock()
	g.seen = append(g.seen, chunk.Ordinal)
	g.mu.Unlock()

	if g.onCall != nil {
		g.onCall(chunk)
	}
	if g.fail != nil {
		if err := g.fail(chunk); err != nil {
			return "", err
		}
	}

	if g.raw != "" {
		return g.raw, nil
	}

	line := chatLine
	if g.format == prompts.FormatPromptCompletion {
		line = promptLine
	}
	q := fmt.Sprintf("What is in chunk %d?", chunk.Ordinal)
	return line(q, chunk.Text) + "\n\n" + line(q+" Again?", chunk.Text) + "\n", nil
}

func generatorFactory(g *fakeGenerator) GeneratorFactory {
	return func(_ context.Context, format prompts.DatasetFormat) (QAGenerator, error) {
		g.format = format
		return g, nil
	}
}

// staticChunks is a ChunkSource returning fixed texts for every record.
type staticChunks struct {
	texts []string
	err   error
	calls atomic.Int32
}

func (s *staticChunks) Chunks(_ context.Context, rec *domain.Record) ([]domain.Chunk, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return makeChunks(rec.ID, s.texts...), nil
}

func makeChunks(recordID string, texts ...string) []domain.Chunk {
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{
			ID:      fmt.Sprintf("%s-%d", recordID, i),
			Text:    text,
			Ordinal: i,
			Metadata: map[string]interface{}{
				domain.MetaContent:  text,
				domain.MetaRecordID: recordID,
				domain.MetaOrdinal:  i,
				domain.MetaSource:   "inline",
			},
		}
	}
	return chunks
}

func hashEmbeddingConfig(name string, dim int) config.EmbeddingConfig {
	return config.EmbeddingConfig{Name: name, Provider: "hash", Model: name, Dimensions: dim, Index: name}
}

func newHashRegistry(t *testing.T) *EmbeddingRegistry {
	t.Helper()
	reg, err := NewEmbeddingRegistry([]config.EmbeddingConfig{
		hashEmbeddingConfig("hash-384", 384),
		hashEmbeddingConfig("hash-768", 768),
	}, "hash-384")
	require.NoError(t, err)
	return reg
}

// countingEmbedder wraps a provider and counts Embed calls.
type countingEmbedder struct {
	EmbeddingProvider
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.EmbeddingProvider.Embed(ctx, texts)
}

// jsonResponses marks every response as JSON unless the handler overrides it.
func jsonResponses(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h.ServeHTTP(w, r)
	})
}

package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/source/staging"
)

func stageSource(t *testing.T, id string, manifest []string, docs map[string]string) string {
	t.Helper()
	base := t.TempDir()
	docsDir := filepath.Join(base, id, staging.DocsDir)
	require.NoError(t, os.MkdirAll(docsDir, 0o755))
	for name, body := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(docsDir, name), []byte(body), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(base, id, staging.ManifestFileName),
		[]byte(strings.Join(manifest, "\n")+"\n"), 0o644))
	return base
}

func TestIngestFromSource(t *testing.T) {
	f := newPipelineFixture(t, "Staged documents are chunked like any other.")
	base := stageSource(t, "handbook", []string{
		`{"id":"a","filename":"a.txt","type":"TXT","provider":"OPENAI","base_model":"GPT_35_TURBO"}`,
		`{"id":"b","url":"https://example.com/b.md","type":"MARKDOWN","provider":"OPENAI","base_model":"gpt_35_turbo"}`,
		`{"id":"c","filename":"c.txt","type":"TXT","provider":"OPENAI","base_model":"LLAMA2_7B_CHAT"}`,
		`{"id":"d","filename":"a.txt","type":"DOCX","provider":"OPENAI","base_model":"GPT_35_TURBO"}`,
	}, map[string]string{"a.txt": "alpha", "c.txt": "gamma"})
	f.localRoots = []string{base}
	f.orch = f.build(NewFinetuneRegistry(openAIDepsFor(t, f)), nil)

	svc := NewIngestService(f.orch, &IngestConfig{Workers: 2, BatchSize: 2})
	stats, err := svc.IngestFromSource(context.Background(), staging.NewAdapter(base, "handbook"), 0)
	require.NoError(t, err)
	f.orch.Wait()

	assert.EqualValues(t, 3, stats.TotalItems, "the DOCX line is dropped by the manifest reader")
	assert.EqualValues(t, 3, stats.ProcessedItems)
	assert.EqualValues(t, 1, stats.FailedItems, "LLAMA2 is not an OpenAI base model")
	require.Len(t, stats.RecordIDs, 2)
	assert.False(t, stats.EndTime.Before(stats.StartTime))

	var urls []string
	for _, id := range stats.RecordIDs {
		rec, err := f.records.GetByID(context.Background(), id)
		require.NoError(t, err)
		urls = append(urls, rec.URL)
	}
	sort.Strings(urls)
	assert.True(t, strings.HasPrefix(urls[0], "file://"), urls[0])
	assert.True(t, strings.HasSuffix(urls[0], filepath.Join("handbook", staging.DocsDir, "a.txt")), urls[0])
	assert.Equal(t, "https://example.com/b.md", urls[1])
}

func TestIngestFromSourceRespectsLimit(t *testing.T) {
	f := newPipelineFixture(t, "one chunk")
	base := stageSource(t, "notes", []string{
		`{"id":"1","url":"https://example.com/1.txt","type":"TXT","provider":"OPENAI","base_model":"GPT_35_TURBO"}`,
		`{"id":"2","url":"https://example.com/2.txt","type":"TXT","provider":"OPENAI","base_model":"GPT_35_TURBO"}`,
		`{"id":"3","url":"https://example.com/3.txt","type":"TXT","provider":"OPENAI","base_model":"GPT_35_TURBO"}`,
	}, nil)

	svc := NewIngestService(f.orch, &IngestConfig{Workers: 1, BatchSize: 2})
	stats, err := svc.IngestFromSource(context.Background(), staging.NewAdapter(base, "notes"), 2)
	require.NoError(t, err)
	f.orch.Wait()

	assert.EqualValues(t, 2, stats.TotalItems)
	assert.Len(t, stats.RecordIDs, 2)
}

func TestIngestFromSourceCancelled(t *testing.T) {
	f := newPipelineFixture(t, "one chunk")
	base := stageSource(t, "notes", []string{
		`{"id":"1","url":"https://example.com/1.txt","type":"TXT","provider":"OPENAI","base_model":"GPT_35_TURBO"}`,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := NewIngestService(f.orch, &IngestConfig{}).IngestFromSource(ctx, staging.NewAdapter(base, "notes"), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stats.RecordIDs)
}

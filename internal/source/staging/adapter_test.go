package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/domain"
)

func writeStaging(t *testing.T, base, id string, lines []string, docs map[string]string) {
	t.Helper()
	dir := filepath.Join(base, id)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DocsDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(strings.Join(lines, "\n")), 0o644))
	for name, body := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, DocsDir, name), []byte(body), 0o644))
	}
}

func TestAdapter_FetchBatch(t *testing.T) {
	base := t.TempDir()
	writeStaging(t, base, "handbook", []string{
		`{"id":"b","filename":"b.md","type":"md","provider":"openai","base_model":"gpt_35_turbo"}`,
		`{"id":"a","url":"https://example.com/a.txt","type":"TEXT","provider":"REPLICATE","base_model":"LLAMA2_7B"}`,
		`not json`,
		`{"id":"c","filename":"missing.txt","type":"TXT"}`,
		`{"id":"d","type":"DOCX","url":"https://example.com/d"}`,
		``,
		`{"id":"e","filename":"e.txt","type":"TXT","provider":"OPENAI","base_model":"GPT_35_TURBO"}`,
	}, map[string]string{"b.md": "# b", "e.txt": "e"})

	adapter := NewAdapter(base, "handbook")
	assert.Equal(t, "staging:handbook", adapter.GetSourceID())

	total, err := adapter.GetTotalCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	items, next, err := adapter.FetchBatch(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2", next)

	assert.Equal(t, "handbook_a", items[0].SourceID)
	assert.Equal(t, domain.IngestTypeTXT, items[0].Type)
	assert.Equal(t, domain.ProviderReplicate, items[0].Provider)

	assert.Equal(t, "handbook_b", items[1].SourceID)
	assert.Equal(t, domain.IngestTypeMarkdown, items[1].Type)
	assert.Equal(t, domain.BaseModelGPT35Turbo, items[1].BaseModel)
	assert.NotEmpty(t, items[1].LocalPath)
	assert.Empty(t, items[1].URL)

	items, next, err = adapter.FetchBatch(context.Background(), next, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, next)

	_, _, err = adapter.FetchBatch(context.Background(), "x", 2)
	assert.Error(t, err)
}

func TestListStagingSources(t *testing.T) {
	base := t.TempDir()
	writeStaging(t, base, "one", []string{`{}`}, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(base, "empty"), 0o755))

	sources, err := ListStagingSources(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, sources)

	sources, err = ListStagingSources(filepath.Join(base, "nope"))
	require.NoError(t, err)
	assert.Empty(t, sources)
}

package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDataset(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestDatasetValidator_Formats(t *testing.T) {
	tests := []struct {
		name      string
		format    ValidationFormat
		lines     []string
		kept      int
		discarded int
	}{
		{
			name:   "prompt completion",
			format: FormatPromptCompletion,
			lines: []string{
				promptLine("q1", "a1"),
				`{"prompt": "q2"}`,
				`{"prompt": "", "completion": "a3"}`,
				`not json at all`,
				promptLine("q4", "a4"),
			},
			kept:      2,
			discarded: 3,
		},
		{
			name:   "chat messages",
			format: FormatChatMessages,
			lines: []string{
				chatLine("q1", "a1"),
				`{"messages": [{"role": "user", "content": "only a question"}]}`,
				`{"messages": "nope"}`,
				`{"messages": [{"role": "user", "content": "q"}, {"role": "assistant", "content": 3}]}`,
				promptLine("q", "a"),
			},
			kept:      1,
			discarded: 4,
		},
		{
			name:   "permissive keeps any object",
			format: FormatPermissive,
			lines: []string{
				chatLine("q1", "a1"),
				promptLine("q2", "a2"),
				`{"anything": true}`,
				`{broken`,
				`null`,
				`[1, 2]`,
				`{"a": 1} {"b": 2}`,
			},
			kept:      3,
			discarded: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDataset(t, tt.lines...)

			report, err := NewDatasetValidator(tt.format).Validate(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, len(tt.lines), report.Total)
			assert.Equal(t, tt.kept, report.Kept)
			assert.Equal(t, tt.discarded, report.Discarded)
			assert.Len(t, report.Errors, tt.discarded)

			kept := readLines(t, path)
			assert.Len(t, kept, tt.kept)
		})
	}
}

func TestDatasetValidator_Idempotent(t *testing.T) {
	path := writeDataset(t,
		`{"completion": "a1",   "prompt": "q1"}`,
		`garbage`,
		promptLine("q2", "a2"),
		``,
		`{"prompt": "q3"}`,
	)
	v := NewDatasetValidator(FormatPromptCompletion)

	_, err := v.Validate(context.Background(), path)
	require.NoError(t, err)
	once := readFile(t, path)

	report, err := v.Validate(context.Background(), path)
	require.NoError(t, err)
	twice := readFile(t, path)

	assert.Equal(t, once, twice)
	assert.Equal(t, 0, report.Discarded)
	assert.Equal(t, 2, report.Kept)
	assert.Equal(t, `{"completion": "a1",   "prompt": "q1"}`, readLines(t, path)[0])
}

func TestDatasetValidator_AllValidIsIdentity(t *testing.T) {
	path := writeDataset(t,
		`{"prompt": "q", "completion": "a"}`,
		`{"prompt": "a < b & c", "completion": "x", "seed": 12345678901234567890}`,
	)
	before := readFile(t, path)

	report, err := NewDatasetValidator(FormatPromptCompletion).Validate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Kept)
	assert.Equal(t, before, readFile(t, path))
}

func TestDatasetValidator_KeptLinesAreNotReencoded(t *testing.T) {
	path := writeDataset(t,
		`{"prompt": "a < b & c", "completion": "x", "seed": 12345678901234567890}`,
		`{"prompt": "dropped"}`,
	)

	report, err := NewDatasetValidator(FormatPromptCompletion).Validate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Discarded)
	assert.Equal(t, []string{`{"prompt": "a < b & c", "completion": "x", "seed": 12345678901234567890}`}, readLines(t, path))
}

func TestDatasetValidator_EmptyResultIsNotAnError(t *testing.T) {
	path := writeDataset(t, `nope`, `{"prompt": "q"}`)

	report, err := NewDatasetValidator(FormatPromptCompletion).Validate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Kept)
	assert.Equal(t, 2, report.Discarded)
	assert.Empty(t, readFile(t, path))
}

func TestDatasetValidator_MissingFile(t *testing.T) {
	_, err := NewDatasetValidator(FormatPermissive).Validate(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

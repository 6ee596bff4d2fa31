package service

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/domain"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}

func numberedTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = "chunk text " + strings.Repeat("x", i+1)
	}
	return texts
}

func TestSynthesize_BatchesAreSequentialAndBounded(t *testing.T) {
	tests := []struct {
		name      string
		chunks    int
		batchSize int
	}{
		{name: "exact multiple", chunks: 10, batchSize: 5},
		{name: "partial last batch", chunks: 12, batchSize: 5},
		{name: "single batch", chunks: 3, batchSize: 5},
		{name: "batch of one", chunks: 4, batchSize: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{}
			// each call records how many calls had completed when it started
			startedAfter := make(map[int]int32)
			var completed int32
			gen.onCall = func(chunk domain.Chunk) {
				gen.mu.Lock()
				startedAfter[chunk.Ordinal] = completed
				gen.mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				gen.mu.Lock()
				completed++
				gen.mu.Unlock()
			}

			synth := NewDatasetSynthesizer(gen, SynthesizerConfig{BatchSize: tt.batchSize, DatasetDir: t.TempDir()})
			path, err := synth.Synthesize(context.Background(), makeChunks("rec", numberedTexts(tt.chunks)...))
			require.NoError(t, err)

			assert.Equal(t, int32(tt.chunks), gen.calls.Load())
			assert.LessOrEqual(t, gen.maxInFlight.Load(), int32(tt.batchSize))
			assert.Len(t, readLines(t, path), 2*tt.chunks)

			for ordinal, before := range startedAfter {
				batch := ordinal / tt.batchSize
				assert.GreaterOrEqual(t, int(before), batch*tt.batchSize,
					"chunk %d started before batch %d was complete", ordinal, batch-1)
			}
		})
	}
}

func TestSynthesize_ArtifactNaming(t *testing.T) {
	dir := t.TempDir()
	synth := NewDatasetSynthesizer(&fakeGenerator{}, SynthesizerConfig{BatchSize: 2, DatasetDir: dir})

	first, err := synth.Synthesize(context.Background(), makeChunks("rec", "a b c"))
	require.NoError(t, err)
	second, err := synth.Synthesize(context.Background(), makeChunks("rec", "a b c"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, dir, filepath.Dir(first))
	assert.True(t, strings.HasSuffix(first, ".jsonl"))
}

func TestSynthesize_SkipsEmptyChunks(t *testing.T) {
	gen := &fakeGenerator{}
	synth := NewDatasetSynthesizer(gen, SynthesizerConfig{BatchSize: 3, DatasetDir: t.TempDir()})

	path, err := synth.Synthesize(context.Background(), makeChunks("rec", "first", "   ", "", "second"))
	require.NoError(t, err)

	assert.Equal(t, int32(2), gen.calls.Load())
	assert.Len(t, readLines(t, path), 4)
}

func TestSynthesize_FirstErrorStopsLaterBatches(t *testing.T) {
	boom := errors.New("generation failed")
	gen := &fakeGenerator{
		fail: func(chunk domain.Chunk) error {
			if chunk.Ordinal == 1 {
				return boom
			}
			return nil
		},
	}
	synth := NewDatasetSynthesizer(gen, SynthesizerConfig{BatchSize: 2, DatasetDir: t.TempDir()})

	path, err := synth.Synthesize(context.Background(), makeChunks("rec", numberedTexts(8)...))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotEmpty(t, path, "path is returned so the caller can clean up")
	assert.FileExists(t, path)

	// only the first batch ran
	assert.Equal(t, int32(2), gen.calls.Load())
}

func TestSynthesize_RetriesFailedChunk(t *testing.T) {
	var attempts int
	gen := &fakeGenerator{
		fail: func(chunk domain.Chunk) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary")
			}
			return nil
		},
	}
	synth := NewDatasetSynthesizer(gen, SynthesizerConfig{
		BatchSize:  1,
		DatasetDir: t.TempDir(),
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	path, err := synth.Synthesize(context.Background(), makeChunks("rec", "only chunk"))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, readLines(t, path), 2)
}

func TestSplitFragments(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{name: "blank line separated", output: "{\"a\":1}\n\n{\"b\":2}", want: []string{`{"a":1}`, `{"b":2}`}},
		{name: "multi-line fragment is flattened", output: "{\"a\":\n 1}\n\n\n{\"b\":2}\n", want: []string{`{"a": 1}`, `{"b":2}`}},
		{name: "crlf", output: "{\"a\":1}\r\n\r\n{\"b\":2}", want: []string{`{"a":1}`, `{"b":2}`}},
		{name: "empty", output: "  \n\n ", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitFragments(tt.output))
		})
	}
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("eventual success", func(t *testing.T) {
		attempts := 0
		err := RetryWithBackoff(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary error")
			}
			return nil
		}, 5, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("all attempts fail", func(t *testing.T) {
		attempts := 0
		expected := errors.New("persistent error")
		err := RetryWithBackoff(context.Background(), func() error {
			attempts++
			return expected
		}, 3, time.Millisecond)
		assert.Equal(t, expected, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("configuration errors are not retried", func(t *testing.T) {
		attempts := 0
		err := RetryWithBackoff(context.Background(), func() error {
			attempts++
			return &domain.ConfigurationError{Key: "x", Kind: domain.ErrUnsupportedModel}
		}, 5, time.Millisecond)
		assert.ErrorIs(t, err, domain.ErrUnsupportedModel)
		assert.Equal(t, 1, attempts)
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		err := RetryWithBackoff(ctx, func() error {
			attempts++
			cancel()
			return errors.New("error")
		}, 10, time.Millisecond)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})

	t.Run("invalid max attempts", func(t *testing.T) {
		err := RetryWithBackoff(context.Background(), func() error { return nil }, 0, time.Millisecond)
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
	})
}

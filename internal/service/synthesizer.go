package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
)

// ErrInvalidMaxAttempts is returned by RetryWithBackoff for maxAttempts <= 0.
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be positive")

// SynthesizerConfig controls dataset synthesis.
type SynthesizerConfig struct {
	BatchSize  int // concurrent generations per batch
	DatasetDir string
	MaxRetries int // extra attempts per chunk
	RetryDelay time.Duration
}

// SynthesisStats summarizes one run.
type SynthesisStats struct {
	Batches int
	Chunks  int
	Lines   int64
}

// DatasetSynthesizer fans chunks out to a QAGenerator in fixed-size batches
// and appends the output to a fresh JSONL artifact.
type DatasetSynthesizer struct {
	generator QAGenerator
	cfg       SynthesizerConfig
}

// NewDatasetSynthesizer creates a synthesizer.
func NewDatasetSynthesizer(generator QAGenerator, cfg SynthesizerConfig) *DatasetSynthesizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.DatasetDir == "" {
		cfg.DatasetDir = os.TempDir()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &DatasetSynthesizer{generator: generator, cfg: cfg}
}

// artifactWriter appends lines to the artifact; each write reaches the file
// before the next generation result is handled.
type artifactWriter struct {
	mu    sync.Mutex
	f     *os.File
	lines int64
}

func (w *artifactWriter) writeFragments(output string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, fragment := range splitFragments(output) {
		if _, err := w.f.WriteString(fragment + "\n"); err != nil {
			return fmt.Errorf("failed to write dataset line: %w", err)
		}
		w.lines++
	}
	return nil
}

// splitFragments splits generator output on blank lines and flattens each
// fragment to a single line.
func splitFragments(output string) []string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	parts := strings.Split(output, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, strings.Join(strings.Fields(strings.ReplaceAll(p, "\n", " ")), " "))
	}
	return out
}

// Synthesize generates QA lines for chunks and returns the artifact path.
// At most BatchSize generations run at once and a batch finishes before the
// next starts. The first failure stops dispatching further batches; the path
// is still returned so the caller can clean it up.
func (s *DatasetSynthesizer) Synthesize(ctx context.Context, chunks []domain.Chunk) (string, error) {
	if err := os.MkdirAll(s.cfg.DatasetDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dataset dir: %w", err)
	}
	path := filepath.Join(s.cfg.DatasetDir, uuid.NewString()+".jsonl")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create dataset artifact: %w", err)
	}
	defer f.Close()

	pool, err := ants.NewPool(s.cfg.BatchSize)
	if err != nil {
		return path, fmt.Errorf("failed to create generation pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if !c.IsEmpty() {
			work = append(work, c)
		}
	}

	writer := &artifactWriter{f: f}
	stats := SynthesisStats{Chunks: len(work)}
	start := time.Now()

	var (
		firstErr error
		errOnce  sync.Once
		failed   atomic.Bool
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			failed.Store(true)
			cancel()
		})
	}

	for begin := 0; begin < len(work) && !failed.Load(); begin += s.cfg.BatchSize {
		end := begin + s.cfg.BatchSize
		if end > len(work) {
			end = len(work)
		}
		stats.Batches++

		var wg sync.WaitGroup
		for _, chunk := range work[begin:end] {
			chunk := chunk
			wg.Add(1)
			submitErr := pool.Submit(func() {
				defer wg.Done()
				out, err := s.generate(ctx, chunk)
				if err != nil {
					fail(fmt.Errorf("failed to generate qa pairs for chunk %d: %w", chunk.Ordinal, err))
					return
				}
				if err := writer.writeFragments(out); err != nil {
					fail(err)
				}
			})
			if submitErr != nil {
				wg.Done()
				fail(fmt.Errorf("failed to submit generation: %w", submitErr))
			}
		}
		wg.Wait()
	}

	stats.Lines = writer.lines
	logger.With(logger.Fields{
		logger.FieldBatch:      stats.Batches,
		logger.FieldCount:      stats.Chunks,
		"lines":                stats.Lines,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Dataset synthesis finished")

	if firstErr != nil {
		return path, firstErr
	}
	if err := f.Sync(); err != nil {
		return path, fmt.Errorf("failed to flush dataset artifact: %w", err)
	}
	return path, nil
}

func (s *DatasetSynthesizer) generate(ctx context.Context, chunk domain.Chunk) (string, error) {
	var out string
	err := RetryWithBackoff(ctx, func() error {
		var genErr error
		out, genErr = s.generator.Generate(ctx, chunk)
		return genErr
	}, s.cfg.MaxRetries+1, s.cfg.RetryDelay)
	return out, err
}

// RetryWithBackoff runs operation up to maxAttempts times, doubling the
// delay after each failure. Configuration errors are not retried.
func RetryWithBackoff(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if domain.IsConfigurationError(lastErr) || attempt == maxAttempts {
			break
		}

		delay := baseDelay << (attempt - 1)
		logger.CtxDebug(ctx, "Operation failed, retrying in %s (attempt %d/%d): %v", delay, attempt, maxAttempts, lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/source"
)

const (
	// ManifestFileName is the JSONL manifest file name in staging sources.
	ManifestFileName = "manifest.jsonl"
	// DocsDir holds the staged document files.
	DocsDir = "docs"
)

// ManifestItem is one line of manifest.jsonl.
type ManifestItem struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	URL            string `json:"url"`
	Type           string `json:"type"`
	Provider       string `json:"provider"`
	BaseModel      string `json:"base_model"`
	EmbeddingModel string `json:"embedding_model"`
	WebhookURL     string `json:"webhook_url"`
}

// Adapter implements source.Source for a staging directory laid out as
// <basePath>/<sourceID>/{manifest.jsonl,docs/}.
type Adapter struct {
	basePath string
	sourceID string
	items    []source.Item
	loaded   bool
}

// NewAdapter creates a new staging adapter.
// Parameters:
//   - basePath: base path to the staging directory.
//   - sourceID: identifier for the staging source.
// Returns:
//   - *Adapter: initialized staging adapter.
func NewAdapter(basePath, sourceID string) *Adapter {
	return &Adapter{
		basePath: basePath,
		sourceID: sourceID,
	}
}

func (a *Adapter) GetSourceID() string {
	return "staging:" + a.sourceID
}

func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("Staging (%s)", a.sourceID)
}

// FetchBatch pages through the manifest. The cursor is an item index.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.Item, string, error) {
	if !a.loaded {
		if err := a.loadItems(ctx); err != nil {
			return nil, "", fmt.Errorf("failed to load staging items: %w", err)
		}
		a.loaded = true
	}

	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
	}
	if startIndex >= len(a.items) {
		return []source.Item{}, "", nil
	}

	endIndex := startIndex + limit
	if endIndex > len(a.items) {
		endIndex = len(a.items)
	}

	nextCursor := ""
	if endIndex < len(a.items) {
		nextCursor = strconv.Itoa(endIndex)
	}
	return a.items[startIndex:endIndex], nextCursor, nil
}

func (a *Adapter) loadItems(ctx context.Context) error {
	stagingPath := filepath.Join(a.basePath, a.sourceID)
	manifestPath := filepath.Join(stagingPath, ManifestFileName)
	docsPath := filepath.Join(stagingPath, DocsDir)

	file, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	a.items = []source.Item{}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var m ManifestItem
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			logger.CtxWarn(ctx, "Skipping malformed manifest line %d: %v", lineNo, err)
			continue
		}

		item, err := a.toItem(m, docsPath)
		if err != nil {
			logger.CtxWarn(ctx, "Skipping manifest line %d: %v", lineNo, err)
			continue
		}
		a.items = append(a.items, item)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	sort.Slice(a.items, func(i, j int) bool {
		return a.items[i].SourceID < a.items[j].SourceID
	})
	return nil
}

func (a *Adapter) toItem(m ManifestItem, docsPath string) (source.Item, error) {
	typ, err := domain.ParseIngestType(m.Type)
	if err != nil {
		return source.Item{}, err
	}

	item := source.Item{
		SourceID:       fmt.Sprintf("%s_%s", a.sourceID, m.ID),
		Type:           typ,
		URL:            m.URL,
		Provider:       domain.ParseFinetuneProvider(m.Provider),
		BaseModel:      domain.BaseModel(strings.ToUpper(m.BaseModel)),
		EmbeddingModel: m.EmbeddingModel,
		WebhookURL:     m.WebhookURL,
	}

	if m.Filename != "" {
		localPath := filepath.Join(docsPath, m.Filename)
		if _, err := os.Stat(localPath); err != nil {
			return source.Item{}, fmt.Errorf("document %s: %w", m.Filename, err)
		}
		item.LocalPath = localPath
		item.URL = ""
	}
	if item.URL == "" && item.LocalPath == "" {
		return source.Item{}, domain.ErrMissingSource
	}
	return item, nil
}

// GetTotalCount returns the total number of items in staging.
func (a *Adapter) GetTotalCount(ctx context.Context) (int, error) {
	if !a.loaded {
		if err := a.loadItems(ctx); err != nil {
			return 0, err
		}
		a.loaded = true
	}
	return len(a.items), nil
}

// ListStagingSources lists all available staging sources.
// Parameters:
//   - basePath: base path to the staging directory.
// Returns:
//   - []string: list of staging source IDs.
//   - error: non-nil if reading the directory fails.
func ListStagingSources(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			manifestPath := filepath.Join(basePath, entry.Name(), ManifestFileName)
			if _, err := os.Stat(manifestPath); err == nil {
				sources = append(sources, entry.Name())
			}
		}
	}
	return sources, nil
}

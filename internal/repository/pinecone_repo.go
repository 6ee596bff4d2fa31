package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
)

const (
	pineconeAPIVersion   = "2024-07"
	defaultPineconeBatch = 100
)

// PineconeConfig holds configuration for one Pinecone index.
type PineconeConfig struct {
	APIKey      string
	ControlURL  string // https://api.pinecone.io
	Index       string
	Dimension   int
	Cloud       string
	Region      string
	UpsertBatch int
	// ReadyTimeout bounds how long EnsureIndex waits for a new index.
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

// PineconeRepository talks to the Pinecone REST API. Namespaces are native.
type PineconeRepository struct {
	control *resty.Client
	data    *resty.Client
	cfg     PineconeConfig
}

type pineconeIndex struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

type pineconeListResponse struct {
	Indexes []pineconeIndex `json:"indexes"`
}

type pineconeCreateRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Spec      struct {
		Serverless struct {
			Cloud  string `json:"cloud"`
			Region string `json:"region"`
		} `json:"serverless"`
	} `json:"spec"`
}

type pineconeVector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace,omitempty"`
}

type pineconeQueryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace,omitempty"`
	IncludeMetadata bool      `json:"includeMetadata"`
	IncludeValues   bool      `json:"includeValues"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string                 `json:"id"`
		Score    float32                `json:"score"`
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"matches"`
}

// NewPineconeRepository creates a client for cfg.Index. Call EnsureIndex
// before writing.
func NewPineconeRepository(cfg PineconeConfig) (*PineconeRepository, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("pinecone index name is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("pinecone index %s: dimension must be positive", cfg.Index)
	}
	if cfg.ControlURL == "" {
		cfg.ControlURL = "https://api.pinecone.io"
	}
	if cfg.UpsertBatch <= 0 {
		cfg.UpsertBatch = defaultPineconeBatch
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	newClient := func() *resty.Client {
		return resty.New().
			SetTimeout(60*time.Second).
			SetHeader("Api-Key", cfg.APIKey).
			SetHeader("X-Pinecone-API-Version", pineconeAPIVersion).
			SetHeader("Content-Type", "application/json")
	}

	return &PineconeRepository{
		control: newClient().SetBaseURL(strings.TrimSuffix(cfg.ControlURL, "/")),
		data:    newClient(),
		cfg:     cfg,
	}, nil
}

// Dimensions returns the index dimension.
func (r *PineconeRepository) Dimensions() int {
	return r.cfg.Dimension
}

// EnsureIndex creates the index with cosine metric when it does not exist
// and waits for it to become ready. An existing index with a different
// dimension is a configuration error.
func (r *PineconeRepository) EnsureIndex(ctx context.Context) error {
	var list pineconeListResponse
	resp, err := r.control.R().
		SetContext(ctx).
		SetResult(&list).
		Get("/indexes")
	if err != nil {
		return domain.NewUpstreamError("pinecone", "list indexes", 0, domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return domain.NewUpstreamError("pinecone", "list indexes", resp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("%s", resp.String()))
	}

	for _, idx := range list.Indexes {
		if idx.Name != r.cfg.Index {
			continue
		}
		if idx.Dimension != r.cfg.Dimension {
			return &domain.ConfigurationError{
				Key:    r.cfg.Index,
				Kind:   domain.ErrDimensionMismatch,
				Detail: fmt.Sprintf("index has dimension %d, expected %d", idx.Dimension, r.cfg.Dimension),
			}
		}
		if idx.Status.Ready {
			r.setHost(idx.Host)
			return nil
		}
		return r.waitReady(ctx)
	}

	req := pineconeCreateRequest{Name: r.cfg.Index, Dimension: r.cfg.Dimension, Metric: "cosine"}
	req.Spec.Serverless.Cloud = r.cfg.Cloud
	req.Spec.Serverless.Region = r.cfg.Region

	resp, err = r.control.R().
		SetContext(ctx).
		SetBody(req).
		Post("/indexes")
	if err != nil {
		return domain.NewUpstreamError("pinecone", "create index", 0, domain.ErrUpstreamUnavailable, err)
	}
	// 409: created concurrently by another process
	if resp.StatusCode() != 201 && resp.StatusCode() != 200 && resp.StatusCode() != 409 {
		return domain.NewUpstreamError("pinecone", "create index", resp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("%s", resp.String()))
	}
	logger.Info("Created pinecone index %s (dimension=%d)", r.cfg.Index, r.cfg.Dimension)

	return r.waitReady(ctx)
}

func (r *PineconeRepository) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(r.cfg.ReadyTimeout)
	for {
		var idx pineconeIndex
		resp, err := r.control.R().
			SetContext(ctx).
			SetResult(&idx).
			Get("/indexes/" + r.cfg.Index)
		if err != nil {
			return domain.NewUpstreamError("pinecone", "describe index", 0, domain.ErrUpstreamUnavailable, err)
		}
		if resp.StatusCode() == 200 && idx.Status.Ready {
			r.setHost(idx.Host)
			return nil
		}
		if time.Now().After(deadline) {
			return domain.NewUpstreamError("pinecone", "describe index", resp.StatusCode(), domain.ErrUpstreamUnavailable,
				fmt.Errorf("index %s not ready after %s", r.cfg.Index, r.cfg.ReadyTimeout))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

func (r *PineconeRepository) setHost(host string) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	r.data.SetBaseURL(strings.TrimSuffix(host, "/"))
}

// Upsert writes entries in batches of UpsertBatch. Vectors are checked
// before the first request so a bad entry never leaves a partial write.
func (r *PineconeRepository) Upsert(ctx context.Context, namespace string, entries []domain.EmbeddingEntry) error {
	if r.data.BaseURL == "" {
		return fmt.Errorf("pinecone index %s has no host; call EnsureIndex first", r.cfg.Index)
	}

	vectors := make([]pineconeVector, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) != r.cfg.Dimension {
			return fmt.Errorf("%w: entry %s has %d dimensions, index %s expects %d",
				domain.ErrDimensionMismatch, e.ID, len(e.Vector), r.cfg.Index, r.cfg.Dimension)
		}
		vectors = append(vectors, pineconeVector{ID: e.ID, Values: e.Vector, Metadata: e.Metadata})
	}

	for start := 0; start < len(vectors); start += r.cfg.UpsertBatch {
		end := start + r.cfg.UpsertBatch
		if end > len(vectors) {
			end = len(vectors)
		}

		resp, err := r.data.R().
			SetContext(ctx).
			SetBody(pineconeUpsertRequest{Vectors: vectors[start:end], Namespace: namespace}).
			Post("/vectors/upsert")
		if err != nil {
			return domain.NewUpstreamError("pinecone", "upsert", 0, domain.ErrUpstreamUnavailable, err)
		}
		if resp.StatusCode() != 200 {
			return domain.NewUpstreamError("pinecone", "upsert", resp.StatusCode(), domain.ErrUpstreamUnavailable,
				fmt.Errorf("%s", resp.String()))
		}
	}
	return nil
}

// Query returns the topK nearest vectors in namespace.
func (r *PineconeRepository) Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	if len(vector) != r.cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index %s expects %d",
			domain.ErrDimensionMismatch, len(vector), r.cfg.Index, r.cfg.Dimension)
	}
	if r.data.BaseURL == "" {
		return nil, fmt.Errorf("pinecone index %s has no host; call EnsureIndex first", r.cfg.Index)
	}

	var result pineconeQueryResponse
	resp, err := r.data.R().
		SetContext(ctx).
		SetBody(pineconeQueryRequest{
			Vector:          vector,
			TopK:            topK,
			Namespace:       namespace,
			IncludeMetadata: includeMetadata,
		}).
		SetResult(&result).
		Post("/query")
	if err != nil {
		return nil, domain.NewUpstreamError("pinecone", "query", 0, domain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() != 200 {
		return nil, domain.NewUpstreamError("pinecone", "query", resp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("%s", resp.String()))
	}

	matches := make([]domain.Match, len(result.Matches))
	for i, m := range result.Matches {
		matches[i] = domain.Match{ID: m.ID, Score: m.Score}
		if includeMetadata {
			matches[i].Metadata = m.Metadata
		}
	}
	return matches, nil
}

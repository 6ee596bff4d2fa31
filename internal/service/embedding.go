package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/nagato/internal/domain"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	jinaEndpoint        = "https://api.jina.ai/v1/embeddings"
	huggingFaceEndpoint = "https://router.huggingface.co/hf-inference/models"
)

// EmbeddingProvider turns texts into vectors of a fixed dimension.
type EmbeddingProvider interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the upstream model id.
	Model() string

	// Dimensions returns the vector length.
	Dimensions() int
}

// EmbeddingProviderConfig holds what a single provider needs.
type EmbeddingProviderConfig struct {
	Provider   string // jina, huggingface, openai, hash
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// NewEmbeddingProvider builds the provider named by cfg.Provider.
func NewEmbeddingProvider(cfg *EmbeddingProviderConfig) (EmbeddingProvider, error) {
	switch cfg.Provider {
	case "jina":
		return newJinaProvider(cfg), nil
	case "huggingface":
		return newHuggingFaceProvider(cfg), nil
	case "openai":
		return newOpenAIEmbeddingProvider(cfg), nil
	case "hash":
		return NewHashEmbeddingProvider(cfg.Model, cfg.Dimensions), nil
	default:
		return nil, &domain.ConfigurationError{Key: cfg.Provider, Kind: domain.ErrUnsupportedProvider, Detail: "unknown embedding provider"}
	}
}

func newBearerClient(apiKey string) *resty.Client {
	client := resty.New().SetTimeout(60 * time.Second)
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}
	client.SetHeader("Content-Type", "application/json")
	return client
}

func checkDimensions(model string, want int, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("%w: model %s returned %d dimensions for text %d, expected %d",
				domain.ErrDimensionMismatch, model, len(v), i, want)
		}
	}
	return nil
}

// ============================================================================
// Jina
// ============================================================================

type jinaProvider struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
}

func newJinaProvider(cfg *EmbeddingProviderConfig) *jinaProvider {
	endpoint := jinaEndpoint
	if cfg.BaseURL != "" {
		endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + "/embeddings"
	}
	return &jinaProvider{
		client:     newBearerClient(cfg.APIKey),
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

type jinaRequest struct {
	Model         string   `json:"model"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

func (p *jinaProvider) Model() string   { return p.model }
func (p *jinaProvider) Dimensions() int { return p.dimensions }

func (p *jinaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var resp jinaResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(jinaRequest{Model: p.model, Input: texts, EmbeddingType: "float"}).
		SetResult(&resp).
		Post(p.endpoint)
	if err != nil {
		return nil, domain.NewUpstreamError("jina", "embed", 0, domain.ErrUpstreamUnavailable, err)
	}
	if httpResp.StatusCode() != 200 {
		detail := resp.Detail
		if detail == "" {
			detail = httpResp.String()
		}
		return nil, domain.NewUpstreamError("jina", "embed", httpResp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("%s", detail))
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.NewUpstreamError("jina", "embed", httpResp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(texts)))
	}

	// results may arrive out of order
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(vectors) {
			vectors[item.Index] = item.Embedding
		}
	}
	if err := checkDimensions(p.model, p.dimensions, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// ============================================================================
// Hugging Face inference
// ============================================================================

type huggingFaceProvider struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
}

func newHuggingFaceProvider(cfg *EmbeddingProviderConfig) *huggingFaceProvider {
	base := huggingFaceEndpoint
	if cfg.BaseURL != "" {
		base = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &huggingFaceProvider{
		client:     newBearerClient(cfg.APIKey),
		endpoint:   fmt.Sprintf("%s/%s/pipeline/feature-extraction", base, cfg.Model),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

type huggingFaceRequest struct {
	Inputs  []string `json:"inputs"`
	Options struct {
		WaitForModel bool `json:"wait_for_model"`
	} `json:"options"`
}

func (p *huggingFaceProvider) Model() string   { return p.model }
func (p *huggingFaceProvider) Dimensions() int { return p.dimensions }

func (p *huggingFaceProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := huggingFaceRequest{Inputs: texts}
	req.Options.WaitForModel = true

	var vectors [][]float32
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&vectors).
		Post(p.endpoint)
	if err != nil {
		return nil, domain.NewUpstreamError("huggingface", "embed", 0, domain.ErrUpstreamUnavailable, err)
	}
	if httpResp.StatusCode() != 200 {
		return nil, domain.NewUpstreamError("huggingface", "embed", httpResp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("%s", httpResp.String()))
	}
	if len(vectors) != len(texts) {
		return nil, domain.NewUpstreamError("huggingface", "embed", httpResp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(vectors), len(texts)))
	}
	if err := checkDimensions(p.model, p.dimensions, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// ============================================================================
// OpenAI (langchaingo)
// ============================================================================

type openAIEmbeddingProvider struct {
	model      string
	dimensions int
	embedder   *lazyHandle[embeddings.Embedder]
}

func newOpenAIEmbeddingProvider(cfg *EmbeddingProviderConfig) *openAIEmbeddingProvider {
	p := &openAIEmbeddingProvider{model: cfg.Model, dimensions: cfg.Dimensions}
	p.embedder = newLazyHandle(func(context.Context) (embeddings.Embedder, error) {
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, &domain.ConfigurationError{Key: cfg.Model, Kind: domain.ErrUnsupportedModel, Detail: err.Error()}
		}
		return embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	})
	return p
}

func (p *openAIEmbeddingProvider) Model() string   { return p.model }
func (p *openAIEmbeddingProvider) Dimensions() int { return p.dimensions }

func (p *openAIEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	embedder, err := p.embedder.Get(ctx)
	if err != nil {
		return nil, err
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, domain.NewUpstreamError("openai", "embed", 0, domain.ErrUpstreamUnavailable, err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.NewUpstreamError("openai", "embed", 0, domain.ErrUpstreamUnavailable,
			fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(vectors), len(texts)))
	}
	if err := checkDimensions(p.model, p.dimensions, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// ============================================================================
// Hash
// ============================================================================

// HashEmbeddingProvider is a deterministic offline embedder: a signed,
// L2-normalized bag of FNV-hashed terms. Texts sharing words land close
// together, which is enough for local runs and tests.
type HashEmbeddingProvider struct {
	model      string
	dimensions int
}

// NewHashEmbeddingProvider creates a hash embedder of the given dimension.
func NewHashEmbeddingProvider(model string, dimensions int) *HashEmbeddingProvider {
	if model == "" {
		model = fmt.Sprintf("hash-%d", dimensions)
	}
	return &HashEmbeddingProvider{model: model, dimensions: dimensions}
}

func (p *HashEmbeddingProvider) Model() string   { return p.model }
func (p *HashEmbeddingProvider) Dimensions() int { return p.dimensions }

func (p *HashEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = p.embedOne(text)
	}
	return vectors, nil
}

func (p *HashEmbeddingProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dimensions)
	for _, term := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

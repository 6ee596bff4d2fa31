package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/service"
)

// PredictRequest is the body of POST /api/v1/predict.
type PredictRequest struct {
	Input        string `json:"input" binding:"required"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

// QueryRequest is the body of POST /api/v1/query. Without Answer only the
// retrieved matches are returned.
type QueryRequest struct {
	Query          string `json:"query" binding:"required"`
	Namespace      string `json:"namespace,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	VectorStore    string `json:"vector_store,omitempty"`
	TopK           int    `json:"top_k,omitempty" binding:"omitempty,min=1,max=100"`
	Rerank         *bool  `json:"rerank,omitempty"`

	Answer       bool   `json:"answer,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

// QueryHandler serves completions and retrieval.
type QueryHandler struct {
	svc      *service.QueryService
	defaults config.QueryConfig
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(svc *service.QueryService, defaults config.QueryConfig) *QueryHandler {
	return &QueryHandler{svc: svc, defaults: defaults}
}

// Predict handles POST /api/v1/predict.
func (h *QueryHandler) Predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := logger.SetFlow(c.Request.Context(), "predict")
	pr := service.PredictRequest{
		Input:        req.Input,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
	}

	if req.Stream {
		h.stream(c, func(ctx context.Context, sink func(string) error) error {
			pr.Stream, pr.Sink = true, sink
			_, err := h.svc.Predict(ctx, req.Provider, req.Model, pr)
			return err
		})
		return
	}

	out, err := h.svc.Predict(ctx, req.Provider, req.Model, pr)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"output": out})
}

// Query handles POST /api/v1/query.
func (h *QueryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := logger.SetFlow(c.Request.Context(), "query")
	opts := h.retrieveOptions(req)

	if !req.Answer {
		result, err := h.svc.Retrieve(ctx, req.Query, opts)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, result)
		return
	}

	ask := service.AskRequest{
		PredictRequest: service.PredictRequest{
			Input:        req.Query,
			SystemPrompt: req.SystemPrompt,
			MaxTokens:    req.MaxTokens,
		},
		Provider: req.Provider,
		Model:    req.Model,
		Retrieve: opts,
	}

	if req.Stream {
		h.stream(c, func(ctx context.Context, sink func(string) error) error {
			ask.Stream, ask.Sink = true, sink
			_, err := h.svc.Ask(ctx, ask)
			return err
		})
		return
	}

	result, err := h.svc.Ask(ctx, ask)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

func (h *QueryHandler) retrieveOptions(req QueryRequest) service.RetrieveOptions {
	opts := service.RetrieveOptions{
		EmbeddingModel: req.EmbeddingModel,
		VectorStore:    req.VectorStore,
		Namespace:      req.Namespace,
		TopK:           req.TopK,
		Rerank:         h.defaults.Rerank,
	}
	if opts.Namespace == "" {
		opts.Namespace = h.defaults.DefaultNamespace
	}
	if opts.TopK == 0 {
		opts.TopK = h.defaults.TopK
	}
	if req.Rerank != nil {
		opts.Rerank = *req.Rerank
	}
	return opts
}

// stream runs fn in the background and relays each delta as an "output"
// event. The stream ends with "done", or "error" when fn fails.
func (h *QueryHandler) stream(c *gin.Context, fn func(ctx context.Context, sink func(string) error) error) {
	ctx := c.Request.Context()
	deltas := make(chan string)
	done := make(chan error, 1)

	go func() {
		defer close(deltas)
		done <- fn(ctx, func(chunk string) error {
			select {
			case deltas <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		if chunk, ok := <-deltas; ok {
			c.SSEvent("output", chunk)
			return true
		}
		if err := <-done; err != nil {
			logger.CtxError(ctx, "Stream failed: error=%v", err)
			c.SSEvent("error", err.Error())
			return false
		}
		c.SSEvent("done", "")
		return false
	})
}

package service

import (
	"context"
	"fmt"

	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/prompts"
	"github.com/tmc/langchaingo/llms"
)

type openAIQueryProvider struct {
	model string
	cfg   config.QueryConfig
	llm   *lazyHandle[llms.Model]
}

func newOpenAIQueryProvider(openaiCfg config.OpenAIConfig, model string, cfg config.QueryConfig) *openAIQueryProvider {
	return &openAIQueryProvider{
		model: model,
		cfg:   cfg,
		llm: newLazyHandle(func(context.Context) (llms.Model, error) {
			return NewOpenAIChatModel(openaiCfg, model)
		}),
	}
}

func (p *openAIQueryProvider) Predict(ctx context.Context, req PredictRequest) (string, error) {
	return p.complete(ctx, req, req.Input, maxTokensOr(req, p.cfg.MaxTokens, DefaultPredictMaxTokens))
}

func (p *openAIQueryProvider) PredictWithEmbedding(ctx context.Context, req PredictRequest, retrievedContext string) (string, error) {
	return p.complete(ctx, req, prompts.RAGPrompt(retrievedContext, req.Input), maxTokensOr(req, p.cfg.RAGMaxTokens, DefaultRAGMaxTokens))
}

func (p *openAIQueryProvider) complete(ctx context.Context, req PredictRequest, user string, maxTokens int) (string, error) {
	llm, err := p.llm.Get(ctx)
	if err != nil {
		return "", err
	}

	system := req.SystemPrompt
	if system == "" {
		system = prompts.DefaultSystemPrompt
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	opts := []llms.CallOption{
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(0),
	}
	if req.Stream && req.Sink != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return req.emit(string(chunk))
		}))
	}

	resp, err := llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", domain.NewUpstreamError("openai", "predict", 0, domain.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewUpstreamError("openai", "predict", 0, domain.ErrUpstreamUnavailable,
			fmt.Errorf("no choices returned by %s", p.model))
	}
	return resp.Choices[0].Content, nil
}

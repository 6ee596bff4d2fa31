package service

import (
	"context"
	"fmt"

	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/prompts"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// QAGenerator produces raw QA text for one chunk. The output holds one JSON
// object per fragment, fragments separated by blank lines.
type QAGenerator interface {
	Generate(ctx context.Context, chunk domain.Chunk) (string, error)
}

// NewOpenAIChatModel builds a langchaingo chat model for model.
func NewOpenAIChatModel(cfg config.OpenAIConfig, model string) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, &domain.ConfigurationError{Key: model, Kind: domain.ErrUnsupportedModel, Detail: err.Error()}
	}
	return llm, nil
}

// LLMQAGenerator asks a chat model for question/answer pairs in a dataset
// format.
type LLMQAGenerator struct {
	model    llms.Model
	format   prompts.DatasetFormat
	numPairs int
}

// NewLLMQAGenerator creates a generator.
// Parameters:
//   - model: chat model used at temperature 0.
//   - format: example format the model must follow.
//   - numPairs: pairs requested per chunk.
// Returns:
//   - *LLMQAGenerator: generator ready for use.
func NewLLMQAGenerator(model llms.Model, format prompts.DatasetFormat, numPairs int) *LLMQAGenerator {
	if numPairs <= 0 {
		numPairs = 10
	}
	return &LLMQAGenerator{model: model, format: format, numPairs: numPairs}
}

func (g *LLMQAGenerator) Generate(ctx context.Context, chunk domain.Chunk) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, prompts.QAPairSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompts.QAPairPrompt(g.format, chunk.Text, g.numPairs)),
	}

	resp, err := g.model.GenerateContent(ctx, messages, llms.WithTemperature(0))
	if err != nil {
		return "", domain.NewUpstreamError("llm", "generate qa pairs", 0, domain.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewUpstreamError("llm", "generate qa pairs", 0, domain.ErrUpstreamUnavailable,
			fmt.Errorf("no choices returned for chunk %s", chunk.ID))
	}
	return resp.Choices[0].Content, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/prompts"
	"github.com/timmy/nagato/internal/storage"
)

// ErrEmptyDataset is returned when validation leaves nothing to train on.
var ErrEmptyDataset = errors.New("dataset has no valid records")

// FinetuneProvider turns chunks into a training dataset and submits it to a
// fine-tuning backend.
type FinetuneProvider interface {
	Name() domain.FinetuneProvider

	// Synchronous reports whether Finetune waits for the remote job to
	// finish. Asynchronous providers complete through the webhook.
	Synchronous() bool

	// GenerateDataset synthesizes a JSONL artifact and returns its path.
	// The path is returned with any error so the caller can clean it up.
	GenerateDataset(ctx context.Context, chunks []domain.Chunk) (string, error)

	// ValidateDataset filters the artifact in place.
	ValidateDataset(ctx context.Context, artifact string) (string, error)

	Finetune(ctx context.Context, artifact string, baseModel domain.BaseModel, webhookURL string) (*domain.FinetuneJob, error)

	// Cleanup removes the artifact. A missing file is not an error.
	Cleanup(artifact string) error
}

// GeneratorFactory builds the QA generator used for a dataset format.
type GeneratorFactory func(ctx context.Context, format prompts.DatasetFormat) (QAGenerator, error)

// FinetuneDeps carries everything fine-tune providers are built from.
type FinetuneDeps struct {
	OpenAI    config.OpenAIConfig
	Replicate config.ReplicateConfig
	Finetune  config.FinetuneConfig

	// Storage, when set, stages Replicate datasets instead of the files API.
	Storage       storage.ObjectStorage
	StoragePrefix string

	// NewGenerator defaults to an OpenAI chat model at temperature 0.
	NewGenerator GeneratorFactory
}

// DefaultGeneratorFactory returns a factory backed by the OpenAI chat API.
func DefaultGeneratorFactory(openaiCfg config.OpenAIConfig, numPairs int) GeneratorFactory {
	return func(_ context.Context, format prompts.DatasetFormat) (QAGenerator, error) {
		model, err := NewOpenAIChatModel(openaiCfg, openaiCfg.QAModel)
		if err != nil {
			return nil, err
		}
		return NewLLMQAGenerator(model, format, numPairs), nil
	}
}

// NewFinetuneProvider returns the provider registered under key.
func NewFinetuneProvider(key string, deps FinetuneDeps) (FinetuneProvider, error) {
	if deps.NewGenerator == nil {
		deps.NewGenerator = DefaultGeneratorFactory(deps.OpenAI, deps.Finetune.NumQuestionsPerChunk)
	}

	switch domain.ParseFinetuneProvider(key) {
	case domain.ProviderOpenAI:
		return newOpenAIFinetuner(deps), nil
	case domain.ProviderReplicate:
		return newReplicateFinetuner(deps), nil
	default:
		return nil, &domain.ConfigurationError{Key: key, Kind: domain.ErrUnsupportedProvider, Detail: "unknown finetune provider"}
	}
}

// FinetuneRegistry caches one provider per key so each keeps its lazily
// built QA generator.
type FinetuneRegistry struct {
	deps FinetuneDeps

	mu        sync.Mutex
	providers map[domain.FinetuneProvider]FinetuneProvider
}

// NewFinetuneRegistry creates a registry over deps.
func NewFinetuneRegistry(deps FinetuneDeps) *FinetuneRegistry {
	return &FinetuneRegistry{deps: deps, providers: make(map[domain.FinetuneProvider]FinetuneProvider)}
}

// Get returns the provider for key. Unknown keys are a ConfigurationError.
func (r *FinetuneRegistry) Get(key string) (FinetuneProvider, error) {
	name := domain.ParseFinetuneProvider(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	p, err := NewFinetuneProvider(key, r.deps)
	if err != nil {
		return nil, err
	}
	r.providers[name] = p
	return p, nil
}

// SupportsBaseModel reports whether provider can train baseModel.
func SupportsBaseModel(provider domain.FinetuneProvider, baseModel domain.BaseModel) bool {
	switch provider {
	case domain.ProviderOpenAI:
		_, ok := domain.OpenAIModels[baseModel]
		return ok
	case domain.ProviderReplicate:
		_, ok := domain.ReplicateModels[baseModel]
		return ok
	}
	return false
}

// datasetPipeline is the generate/validate/cleanup half shared by every
// provider. Providers differ in dataset format and in how they submit.
type datasetPipeline struct {
	format    prompts.DatasetFormat
	validator *DatasetValidator
	synthCfg  SynthesizerConfig
	generator *lazyHandle[QAGenerator]
}

func newDatasetPipeline(deps FinetuneDeps, format prompts.DatasetFormat, validation ValidationFormat) datasetPipeline {
	factory := deps.NewGenerator
	return datasetPipeline{
		format:    format,
		validator: NewDatasetValidator(validation),
		synthCfg: SynthesizerConfig{
			BatchSize:  deps.Finetune.BatchSize,
			DatasetDir: deps.Finetune.DatasetDir,
			MaxRetries: deps.Finetune.MaxRetries,
			RetryDelay: deps.Finetune.RetryDelay,
		},
		generator: newLazyHandle(func(ctx context.Context) (QAGenerator, error) {
			return factory(ctx, format)
		}),
	}
}

func (p *datasetPipeline) GenerateDataset(ctx context.Context, chunks []domain.Chunk) (string, error) {
	gen, err := p.generator.Get(ctx)
	if err != nil {
		return "", err
	}
	return NewDatasetSynthesizer(gen, p.synthCfg).Synthesize(ctx, chunks)
}

func (p *datasetPipeline) ValidateDataset(ctx context.Context, artifact string) (string, error) {
	report, err := p.validator.Validate(ctx, artifact)
	if err != nil {
		return artifact, err
	}
	logger.With(logger.Fields{
		logger.FieldCount: report.Total,
		"kept":            report.Kept,
		"discarded":       report.Discarded,
	}).Info(ctx, "Dataset validated")

	if report.Kept == 0 {
		return artifact, ErrEmptyDataset
	}
	return artifact, nil
}

func (p *datasetPipeline) Cleanup(artifact string) error {
	if artifact == "" {
		return nil
	}
	if err := os.Remove(artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove dataset artifact: %w", err)
	}
	return nil
}

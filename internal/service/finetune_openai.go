package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/prompts"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// openAIFinetuner uploads a chat-format dataset through the files API and
// starts a fine_tuning job. With a poll interval it waits for the job.
type openAIFinetuner struct {
	datasetPipeline
	client       *resty.Client
	baseURL      string
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func newOpenAIFinetuner(deps FinetuneDeps) *openAIFinetuner {
	baseURL := strings.TrimSuffix(deps.OpenAI.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	client := resty.New().SetTimeout(5 * time.Minute)
	if deps.OpenAI.APIKey != "" {
		client.SetAuthToken(deps.OpenAI.APIKey)
	}

	timeout := deps.OpenAI.PollTimeout
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}

	return &openAIFinetuner{
		datasetPipeline: newDatasetPipeline(deps, prompts.FormatChatMessages, FormatChatMessages),
		client:          client,
		baseURL:         baseURL,
		pollInterval:    deps.OpenAI.PollInterval,
		pollTimeout:     timeout,
	}
}

func (f *openAIFinetuner) Name() domain.FinetuneProvider { return domain.ProviderOpenAI }
func (f *openAIFinetuner) Synchronous() bool             { return f.pollInterval > 0 }

type openAIFile struct {
	ID      string `json:"id"`
	Purpose string `json:"purpose"`
	Bytes   int64  `json:"bytes"`
}

type openAIJob struct {
	ID             string `json:"id"`
	Model          string `json:"model"`
	Status         string `json:"status"`
	TrainingFile   string `json:"training_file"`
	FineTunedModel string `json:"fine_tuned_model"`
	CreatedAt      int64  `json:"created_at"`
	Error          *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (e *openAIErrorBody) message(resp *resty.Response) string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return resp.String()
}

func (f *openAIFinetuner) Finetune(ctx context.Context, artifact string, baseModel domain.BaseModel, _ string) (*domain.FinetuneJob, error) {
	model, ok := domain.OpenAIModels[baseModel]
	if !ok {
		return nil, &domain.ConfigurationError{Key: string(baseModel), Kind: domain.ErrUnsupportedModel, Detail: "no OpenAI model for base model"}
	}

	file, err := f.upload(ctx, artifact)
	if err != nil {
		return nil, err
	}

	var created openAIJob
	var apiErr openAIErrorBody
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"training_file": file.ID, "model": model}).
		SetResult(&created).
		SetError(&apiErr).
		Post(f.baseURL + "/fine_tuning/jobs")
	if err != nil {
		return nil, domain.NewUpstreamError("openai", "create fine-tuning job", 0, domain.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return nil, domain.NewUpstreamError("openai", "create fine-tuning job", resp.StatusCode(), domain.ErrTrainingJobRejected,
			fmt.Errorf("%s", apiErr.message(resp)))
	}

	logger.CtxInfo(ctx, "OpenAI fine-tuning job created: id=%s, model=%s, file=%s", created.ID, model, file.ID)

	if f.Synchronous() {
		polled, err := f.poll(ctx, created.ID)
		if err != nil {
			return nil, err
		}
		created = *polled
	}

	job := f.toJob(created, artifact, file.ID)
	if !job.Status.IsTerminal() {
		// queued or validating upstream; terminal state arrives later
		job.Status = domain.JobStatusPending
	}
	return job, nil
}

func (f *openAIFinetuner) upload(ctx context.Context, artifact string) (*openAIFile, error) {
	var file openAIFile
	var apiErr openAIErrorBody
	resp, err := f.client.R().
		SetContext(ctx).
		SetFile("file", artifact).
		SetFormData(map[string]string{"purpose": "fine-tune"}).
		SetResult(&file).
		SetError(&apiErr).
		Post(f.baseURL + "/files")
	if err != nil {
		return nil, domain.NewUpstreamError("openai", "upload dataset", 0, domain.ErrUploadFailed, err)
	}
	if resp.IsError() || file.ID == "" {
		return nil, domain.NewUpstreamError("openai", "upload dataset", resp.StatusCode(), domain.ErrUploadFailed,
			fmt.Errorf("%s", apiErr.message(resp)))
	}
	return &file, nil
}

// poll waits until the job reaches a terminal status or pollTimeout passes.
func (f *openAIFinetuner) poll(ctx context.Context, jobID string) (*openAIJob, error) {
	ctx, cancel := context.WithTimeout(ctx, f.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		var job openAIJob
		resp, err := f.client.R().
			SetContext(ctx).
			SetResult(&job).
			Get(f.baseURL + "/fine_tuning/jobs/" + jobID)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, domain.NewUpstreamError("openai", "poll fine-tuning job", 0, domain.ErrUpstreamUnavailable, ctx.Err())
		case err != nil:
			logger.CtxWarn(ctx, "Polling fine-tuning job %s failed: %v", jobID, err)
		case resp.IsError():
			return nil, domain.NewUpstreamError("openai", "poll fine-tuning job", resp.StatusCode(), domain.ErrUpstreamUnavailable,
				fmt.Errorf("%s", resp.String()))
		case domain.NormalizeJobStatus(job.Status).IsTerminal():
			return &job, nil
		}

		select {
		case <-ctx.Done():
			return nil, domain.NewUpstreamError("openai", "poll fine-tuning job", 0, domain.ErrUpstreamUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (f *openAIFinetuner) toJob(j openAIJob, artifact, fileID string) *domain.FinetuneJob {
	meta := map[string]interface{}{
		"file_id":    fileID,
		"base_model": j.Model,
		"created_at": j.CreatedAt,
	}
	if j.Status != "" {
		meta["provider_status"] = j.Status
	}
	if j.Error != nil && j.Error.Message != "" {
		meta["error"] = j.Error.Message
	}
	return &domain.FinetuneJob{
		ID:           j.ID,
		Provider:     domain.ProviderOpenAI,
		Status:       domain.NormalizeJobStatus(j.Status),
		TrainingFile: artifact,
		Model:        j.FineTunedModel,
		Metadata:     meta,
	}
}

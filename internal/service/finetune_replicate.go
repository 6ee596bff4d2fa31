package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/logger"
	"github.com/timmy/nagato/internal/prompts"
	"github.com/timmy/nagato/internal/storage"
)

const (
	replicateDefaultBaseURL = "https://api.replicate.com"
	replicateDefaultEpochs  = 6
)

// replicateFinetuner stages a prompt/completion dataset and starts a
// training. It never waits: completion arrives through the webhook.
type replicateFinetuner struct {
	datasetPipeline
	client      *resty.Client
	baseURL     string
	destination string
	epochs      int
	storage     storage.ObjectStorage
	prefix      string
}

func newReplicateFinetuner(deps FinetuneDeps) *replicateFinetuner {
	baseURL := strings.TrimSuffix(deps.Replicate.BaseURL, "/")
	if baseURL == "" {
		baseURL = replicateDefaultBaseURL
	}
	epochs := deps.Replicate.Epochs
	if epochs <= 0 {
		epochs = replicateDefaultEpochs
	}
	return &replicateFinetuner{
		datasetPipeline: newDatasetPipeline(deps, prompts.FormatPromptCompletion, FormatPromptCompletion),
		client:          newReplicateClient(deps.Replicate.APIKey),
		baseURL:         baseURL,
		destination:     deps.Replicate.Destination,
		epochs:          epochs,
		storage:         deps.Storage,
		prefix:          deps.StoragePrefix,
	}
}

func newReplicateClient(apiKey string) *resty.Client {
	client := resty.New().SetTimeout(5 * time.Minute)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return client
}

func (f *replicateFinetuner) Name() domain.FinetuneProvider { return domain.ProviderReplicate }
func (f *replicateFinetuner) Synchronous() bool             { return false }

type replicateFile struct {
	ID   string `json:"id"`
	URLs struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type replicateTraining struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Version string `json:"version"`
	Model   string `json:"model"`
	Output  struct {
		Version string `json:"version"`
	} `json:"output"`
	Error interface{} `json:"error"`
	URLs  struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

type replicateErrorBody struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

func (e *replicateErrorBody) message(resp *resty.Response) string {
	if e.Detail != "" {
		return e.Detail
	}
	return resp.String()
}

func (f *replicateFinetuner) Finetune(ctx context.Context, artifact string, baseModel domain.BaseModel, webhookURL string) (*domain.FinetuneJob, error) {
	ref, ok := domain.ReplicateModels[baseModel]
	if !ok {
		return nil, &domain.ConfigurationError{Key: string(baseModel), Kind: domain.ErrUnsupportedModel, Detail: "no Replicate model for base model"}
	}
	owner, name, version, ok := domain.ReplicateVersion(ref)
	if !ok {
		return nil, &domain.ConfigurationError{Key: ref, Kind: domain.ErrUnsupportedModel, Detail: "malformed replicate version"}
	}
	if f.destination == "" {
		return nil, &domain.ConfigurationError{Key: "replicate.destination", Kind: domain.ErrUnsupportedModel, Detail: "destination model is required"}
	}

	trainData, err := f.stage(ctx, artifact)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"destination": f.destination,
		"input": map[string]interface{}{
			"train_data":       trainData,
			"num_train_epochs": f.epochs,
		},
	}
	if webhookURL != "" {
		body["webhook"] = webhookURL
		body["webhook_events_filter"] = []string{"completed"}
	}

	var training replicateTraining
	var apiErr replicateErrorBody
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&training).
		SetError(&apiErr).
		Post(fmt.Sprintf("%s/v1/models/%s/%s/versions/%s/trainings", f.baseURL, owner, name, version))
	if err != nil {
		return nil, domain.NewUpstreamError("replicate", "create training", 0, domain.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() || training.ID == "" {
		return nil, domain.NewUpstreamError("replicate", "create training", resp.StatusCode(), domain.ErrTrainingJobRejected,
			fmt.Errorf("%s", apiErr.message(resp)))
	}

	logger.CtxInfo(ctx, "Replicate training created: id=%s, version=%s/%s, destination=%s", training.ID, owner, name, f.destination)

	return &domain.FinetuneJob{
		ID:           training.ID,
		Provider:     domain.ProviderReplicate,
		Status:       domain.JobStatusPending,
		TrainingFile: artifact,
		Metadata: map[string]interface{}{
			"train_data":      trainData,
			"destination":     f.destination,
			"version":         ref,
			"provider_status": training.Status,
		},
	}, nil
}

// stage makes the artifact reachable by Replicate and returns its URL.
func (f *replicateFinetuner) stage(ctx context.Context, artifact string) (string, error) {
	if f.storage != nil {
		return f.stageObject(ctx, artifact)
	}

	var file replicateFile
	var apiErr replicateErrorBody
	resp, err := f.client.R().
		SetContext(ctx).
		SetFile("content", artifact).
		SetFormData(map[string]string{"type": "application/jsonl"}).
		SetResult(&file).
		SetError(&apiErr).
		Post(f.baseURL + "/v1/files")
	if err != nil {
		return "", domain.NewUpstreamError("replicate", "upload dataset", 0, domain.ErrUploadFailed, err)
	}
	if resp.IsError() || file.URLs.Get == "" {
		return "", domain.NewUpstreamError("replicate", "upload dataset", resp.StatusCode(), domain.ErrUploadFailed,
			fmt.Errorf("%s", apiErr.message(resp)))
	}
	return file.URLs.Get, nil
}

func (f *replicateFinetuner) stageObject(ctx context.Context, artifact string) (string, error) {
	fh, err := os.Open(artifact)
	if err != nil {
		return "", fmt.Errorf("failed to open dataset artifact: %w", err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat dataset artifact: %w", err)
	}

	key := storage.JoinKey(f.prefix, filepath.Base(artifact))
	if err := f.storage.Upload(ctx, key, fh, info.Size(), "application/jsonl"); err != nil {
		return "", domain.NewUpstreamError("storage", "upload dataset", 0, domain.ErrUploadFailed, err)
	}
	url, err := f.storage.GetURL(ctx, key)
	if err != nil {
		return "", domain.NewUpstreamError("storage", "sign dataset url", 0, domain.ErrUploadFailed, err)
	}
	return url, nil
}

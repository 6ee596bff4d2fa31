package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/prompts"
	"github.com/timmy/nagato/internal/storage"
)

// fakeOpenAI serves the files and fine_tuning endpoints.
type fakeOpenAI struct {
	t *testing.T

	uploadStatus int
	jobStatus    int
	pollStatuses []string
	polls        atomic.Int32

	mu       sync.Mutex
	uploaded []string // uploaded file contents
	jobBody  map[string]string
}

func (f *fakeOpenAI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, http.MethodPost, r.Method)
		assert.Equal(f.t, "Bearer sk-test", r.Header.Get("Authorization"))
		if f.uploadStatus != 0 {
			w.WriteHeader(f.uploadStatus)
			_, _ = w.Write([]byte(`{"error":{"message":"file rejected"}}`))
			return
		}
		assert.NoError(f.t, r.ParseMultipartForm(1<<20))
		assert.Equal(f.t, "fine-tune", r.FormValue("purpose"))
		file, _, err := r.FormFile("file")
		if !assert.NoError(f.t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)

		f.mu.Lock()
		f.uploaded = append(f.uploaded, string(data))
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"file-abc","purpose":"fine-tune","bytes":10}`))
	})
	mux.HandleFunc("/fine_tuning/jobs", func(w http.ResponseWriter, r *http.Request) {
		if f.jobStatus != 0 {
			w.WriteHeader(f.jobStatus)
			_, _ = w.Write([]byte(`{"error":{"message":"model not available"}}`))
			return
		}
		var body map[string]string
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.jobBody = body
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"ftjob-1","model":"gpt-3.5-turbo","status":"validating_files","training_file":"file-abc","created_at":1}`))
	})
	mux.HandleFunc("/fine_tuning/jobs/ftjob-1", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1)) - 1
		status := f.pollStatuses[len(f.pollStatuses)-1]
		if n < len(f.pollStatuses) {
			status = f.pollStatuses[n]
		}
		_, _ = w.Write([]byte(`{"id":"ftjob-1","model":"gpt-3.5-turbo","status":"` + status + `","fine_tuned_model":"ft:gpt-3.5-turbo:acme"}`))
	})
	return jsonResponses(mux)
}

func openAIDeps(t *testing.T, baseURL string, gen *fakeGenerator) FinetuneDeps {
	return FinetuneDeps{
		OpenAI: config.OpenAIConfig{APIKey: "sk-test", BaseURL: baseURL},
		Finetune: config.FinetuneConfig{
			BatchSize:  5,
			DatasetDir: t.TempDir(),
			RetryDelay: time.Millisecond,
		},
		NewGenerator: generatorFactory(gen),
	}
}

func TestNewFinetuneProvider_UnknownKey(t *testing.T) {
	_, err := NewFinetuneProvider("HUGGINGFACE", FinetuneDeps{})
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationError(err))
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestFinetuneRegistry_CachesProviders(t *testing.T) {
	reg := NewFinetuneRegistry(FinetuneDeps{NewGenerator: generatorFactory(&fakeGenerator{})})

	a, err := reg.Get("openai")
	require.NoError(t, err)
	b, err := reg.Get("OPENAI")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, domain.ProviderOpenAI, a.Name())

	r, err := reg.Get("REPLICATE")
	require.NoError(t, err)
	assert.False(t, r.Synchronous())
}

func TestSupportsBaseModel(t *testing.T) {
	assert.True(t, SupportsBaseModel(domain.ProviderOpenAI, domain.BaseModelGPT35Turbo))
	assert.False(t, SupportsBaseModel(domain.ProviderOpenAI, domain.BaseModelLlama27BChat))
	assert.True(t, SupportsBaseModel(domain.ProviderReplicate, domain.BaseModelLlama27BChat))
	assert.False(t, SupportsBaseModel("OTHER", domain.BaseModelGPT35Turbo))
}

func TestOpenAIFinetuner_Flow(t *testing.T) {
	fake := &fakeOpenAI{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	gen := &fakeGenerator{}
	provider, err := NewFinetuneProvider("OPENAI", openAIDeps(t, server.URL, gen))
	require.NoError(t, err)
	assert.False(t, provider.Synchronous())

	ctx := context.Background()
	artifact, err := provider.GenerateDataset(ctx, makeChunks("rec", "Paris is the capital of France.", "Berlin is the capital of Germany."))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(readLines(t, artifact)), 2)

	artifact, err = provider.ValidateDataset(ctx, artifact)
	require.NoError(t, err)

	job, err := provider.Finetune(ctx, artifact, domain.BaseModelGPT35Turbo, "")
	require.NoError(t, err)
	assert.Equal(t, "ftjob-1", job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, artifact, job.TrainingFile)
	assert.Equal(t, "file-abc", job.Metadata["file_id"])

	assert.Equal(t, map[string]string{"training_file": "file-abc", "model": "gpt-3.5-turbo"}, fake.jobBody)
	require.Len(t, fake.uploaded, 1)
	assert.Contains(t, fake.uploaded[0], `"messages"`)

	require.NoError(t, provider.Cleanup(artifact))
	assert.NoFileExists(t, artifact)
	assert.NoError(t, provider.Cleanup(artifact), "second cleanup is a no-op")
}

func TestOpenAIFinetuner_Errors(t *testing.T) {
	tests := []struct {
		name      string
		fake      *fakeOpenAI
		baseModel domain.BaseModel
		wantErr   error
	}{
		{name: "unsupported base model", fake: &fakeOpenAI{}, baseModel: domain.BaseModelLlama27B, wantErr: domain.ErrUnsupportedModel},
		{name: "upload failure", fake: &fakeOpenAI{uploadStatus: http.StatusBadRequest}, baseModel: domain.BaseModelGPT35Turbo, wantErr: domain.ErrUploadFailed},
		{name: "job rejected", fake: &fakeOpenAI{jobStatus: http.StatusBadRequest}, baseModel: domain.BaseModelGPT35Turbo, wantErr: domain.ErrTrainingJobRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fake.t = t
			server := httptest.NewServer(tt.fake.handler())
			defer server.Close()

			provider, err := NewFinetuneProvider("OPENAI", openAIDeps(t, server.URL, &fakeGenerator{}))
			require.NoError(t, err)

			artifact := writeDataset(t, chatLine("q", "a"))
			_, err = provider.Finetune(context.Background(), artifact, tt.baseModel, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestOpenAIFinetuner_SynchronousPolling(t *testing.T) {
	fake := &fakeOpenAI{t: t, pollStatuses: []string{"running", "running", "succeeded"}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	deps := openAIDeps(t, server.URL, &fakeGenerator{})
	deps.OpenAI.PollInterval = 5 * time.Millisecond
	provider, err := NewFinetuneProvider("OPENAI", deps)
	require.NoError(t, err)
	assert.True(t, provider.Synchronous())

	job, err := provider.Finetune(context.Background(), writeDataset(t, chatLine("q", "a")), domain.BaseModelGPT35Turbo, "")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.Equal(t, "ft:gpt-3.5-turbo:acme", job.Model)
	assert.Equal(t, int32(3), fake.polls.Load())
}

func TestOpenAIFinetuner_EmptyDataset(t *testing.T) {
	provider, err := NewFinetuneProvider("OPENAI", openAIDeps(t, "http://unused", &fakeGenerator{}))
	require.NoError(t, err)

	artifact := writeDataset(t, `not json`)
	_, err = provider.ValidateDataset(context.Background(), artifact)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

// fakeReplicate serves files, trainings and predictions.
type fakeReplicate struct {
	t *testing.T

	mu           sync.Mutex
	trainingPath string
	trainingBody map[string]interface{}
	uploads      int
}

func (f *fakeReplicate) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/files", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(f.t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("content")
		assert.NoError(f.t, err)
		f.mu.Lock()
		f.uploads++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"file-9","urls":{"get":"https://api.replicate.com/v1/files/file-9"}}`))
	})
	mux.HandleFunc("/v1/models/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer r8-test", r.Header.Get("Authorization"))
		var body map[string]interface{}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.trainingPath = r.URL.Path
		f.trainingBody = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"train-7","status":"starting"}`))
	})
	return jsonResponses(mux)
}

func replicateDeps(t *testing.T, baseURL string) FinetuneDeps {
	return FinetuneDeps{
		Replicate:    config.ReplicateConfig{APIKey: "r8-test", BaseURL: baseURL, Destination: "acme/tuned"},
		Finetune:     config.FinetuneConfig{BatchSize: 5, DatasetDir: t.TempDir()},
		NewGenerator: generatorFactory(&fakeGenerator{}),
	}
}

func TestReplicateFinetuner_Training(t *testing.T) {
	fake := &fakeReplicate{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	provider, err := NewFinetuneProvider("REPLICATE", replicateDeps(t, server.URL))
	require.NoError(t, err)

	artifact := writeDataset(t, promptLine("q", "a"))
	job, err := provider.Finetune(context.Background(), artifact, domain.BaseModelLlama27BChat, "https://hooks.example.com/finetune")
	require.NoError(t, err)

	assert.Equal(t, "train-7", job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, fake.uploads)

	_, _, version, _ := domain.ReplicateVersion(domain.ReplicateModels[domain.BaseModelLlama27BChat])
	assert.Equal(t, "/v1/models/meta/llama-2-7b-chat/versions/"+version+"/trainings", fake.trainingPath)
	assert.Equal(t, "acme/tuned", fake.trainingBody["destination"])
	assert.Equal(t, "https://hooks.example.com/finetune", fake.trainingBody["webhook"])
	assert.Equal(t, []interface{}{"completed"}, fake.trainingBody["webhook_events_filter"])

	input, ok := fake.trainingBody["input"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "https://api.replicate.com/v1/files/file-9", input["train_data"])
	assert.Equal(t, float64(6), input["num_train_epochs"])
}

func TestReplicateFinetuner_StagesThroughObjectStorage(t *testing.T) {
	fake := &fakeReplicate{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	store := storage.NewMemoryStorage("https://cdn.example.com")
	deps := replicateDeps(t, server.URL)
	deps.Storage = store
	deps.StoragePrefix = "datasets"

	provider, err := NewFinetuneProvider("REPLICATE", deps)
	require.NoError(t, err)

	artifact := writeDataset(t, promptLine("q", "a"))
	_, err = provider.Finetune(context.Background(), artifact, domain.BaseModelGPTJ6B, "")
	require.NoError(t, err)

	assert.Equal(t, 0, fake.uploads, "files api is bypassed")
	key := "datasets/" + filepath.Base(artifact)
	exists, err := store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, exists)

	input := fake.trainingBody["input"].(map[string]interface{})
	assert.Equal(t, "https://cdn.example.com/"+key, input["train_data"])
	assert.NotContains(t, fake.trainingBody, "webhook")
}

func TestReplicateFinetuner_RequiresDestination(t *testing.T) {
	deps := replicateDeps(t, "http://unused")
	deps.Replicate.Destination = ""
	provider, err := NewFinetuneProvider("REPLICATE", deps)
	require.NoError(t, err)

	_, err = provider.Finetune(context.Background(), writeDataset(t, promptLine("q", "a")), domain.BaseModelLlama27B, "")
	assert.True(t, domain.IsConfigurationError(err))
}

func TestDatasetPipeline_GeneratorFactoryRetriedAfterFailure(t *testing.T) {
	attempts := 0
	deps := FinetuneDeps{
		Finetune: config.FinetuneConfig{BatchSize: 2, DatasetDir: t.TempDir()},
		NewGenerator: func(ctx context.Context, format prompts.DatasetFormat) (QAGenerator, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("no credentials yet")
			}
			return &fakeGenerator{format: format}, nil
		},
	}
	provider, err := NewFinetuneProvider("REPLICATE", deps)
	require.NoError(t, err)

	_, err = provider.GenerateDataset(context.Background(), makeChunks("rec", "text"))
	require.Error(t, err)

	artifact, err := provider.GenerateDataset(context.Background(), makeChunks("rec", "text"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(readFile(t, artifact), `"prompt"`))
	assert.Equal(t, 2, attempts)
	require.NoError(t, os.Remove(artifact))
}

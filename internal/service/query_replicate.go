package service

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/nagato/internal/config"
	"github.com/timmy/nagato/internal/domain"
	"github.com/timmy/nagato/internal/prompts"
)

// replicateQueryProvider calls the predictions API. model is "owner/name"
// or "owner/name:version".
type replicateQueryProvider struct {
	client       *resty.Client
	streamClient *http.Client
	baseURL      string
	apiKey       string
	owner        string
	name         string
	version      string
	cfg          config.QueryConfig
	pollInterval time.Duration
}

func newReplicateQueryProvider(repCfg config.ReplicateConfig, model string, cfg config.QueryConfig) (*replicateQueryProvider, error) {
	var owner, name, version string
	if o, n, v, ok := domain.ReplicateVersion(model); ok {
		owner, name, version = o, n, v
	} else {
		var found bool
		owner, name, found = strings.Cut(model, "/")
		if !found || owner == "" || name == "" {
			return nil, &domain.ConfigurationError{Key: model, Kind: domain.ErrUnsupportedModel, Detail: "expected owner/name[:version]"}
		}
	}

	baseURL := strings.TrimSuffix(repCfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = replicateDefaultBaseURL
	}
	return &replicateQueryProvider{
		client:       newReplicateClient(repCfg.APIKey),
		streamClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:      baseURL,
		apiKey:       repCfg.APIKey,
		owner:        owner,
		name:         name,
		version:      version,
		cfg:          cfg,
		pollInterval: time.Second,
	}, nil
}

type replicatePrediction struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Output interface{} `json:"output"`
	Error  interface{} `json:"error"`
	URLs   struct {
		Get    string `json:"get"`
		Stream string `json:"stream"`
	} `json:"urls"`
}

// text joins the prediction output, which is a token list for language
// models and a plain string for some others.
func (p *replicatePrediction) text() string {
	switch out := p.Output.(type) {
	case string:
		return out
	case []interface{}:
		var sb strings.Builder
		for _, tok := range out {
			if s, ok := tok.(string); ok {
				sb.WriteString(s)
			}
		}
		return sb.String()
	}
	return ""
}

func (p *replicateQueryProvider) Predict(ctx context.Context, req PredictRequest) (string, error) {
	return p.run(ctx, req, req.Input, maxTokensOr(req, p.cfg.MaxTokens, DefaultPredictMaxTokens))
}

func (p *replicateQueryProvider) PredictWithEmbedding(ctx context.Context, req PredictRequest, retrievedContext string) (string, error) {
	return p.run(ctx, req, prompts.RAGPrompt(retrievedContext, req.Input), maxTokensOr(req, p.cfg.RAGMaxTokens, DefaultRAGMaxTokens))
}

func (p *replicateQueryProvider) run(ctx context.Context, req PredictRequest, prompt string, maxTokens int) (string, error) {
	system := req.SystemPrompt
	if system == "" {
		system = prompts.DefaultSystemPrompt
	}
	stream := req.Stream && req.Sink != nil

	body := map[string]interface{}{
		"input": map[string]interface{}{
			"prompt":         prompt,
			"system_prompt":  system,
			"max_new_tokens": maxTokens,
			// llama models reject a temperature of exactly 0
			"temperature": 0.01,
		},
		"stream": stream,
	}
	endpoint := fmt.Sprintf("%s/v1/models/%s/%s/predictions", p.baseURL, p.owner, p.name)
	if p.version != "" {
		body["version"] = p.version
		endpoint = p.baseURL + "/v1/predictions"
	}

	r := p.client.R().SetContext(ctx).SetBody(body)
	if !stream {
		r.SetHeader("Prefer", "wait")
	}

	var pred replicatePrediction
	var apiErr replicateErrorBody
	resp, err := r.SetResult(&pred).SetError(&apiErr).Post(endpoint)
	if err != nil {
		return "", domain.NewUpstreamError("replicate", "predict", 0, domain.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return "", domain.NewUpstreamError("replicate", "predict", resp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("%s", apiErr.message(resp)))
	}

	if stream {
		if pred.URLs.Stream == "" {
			return "", domain.NewUpstreamError("replicate", "predict", 0, domain.ErrUpstreamUnavailable,
				fmt.Errorf("prediction %s has no stream url", pred.ID))
		}
		return p.readStream(ctx, pred.URLs.Stream, req)
	}
	return p.await(ctx, &pred)
}

// await polls a prediction that outlived the Prefer: wait window.
func (p *replicateQueryProvider) await(ctx context.Context, pred *replicatePrediction) (string, error) {
	for {
		switch domain.NormalizeJobStatus(pred.Status) {
		case domain.JobStatusSucceeded:
			return pred.text(), nil
		case domain.JobStatusFailed, domain.JobStatusCancelled:
			return "", domain.NewUpstreamError("replicate", "predict", 0, domain.ErrUpstreamUnavailable,
				fmt.Errorf("prediction %s %s: %v", pred.ID, pred.Status, pred.Error))
		}
		if pred.URLs.Get == "" {
			return "", domain.NewUpstreamError("replicate", "predict", 0, domain.ErrUpstreamUnavailable,
				fmt.Errorf("prediction %s is %s with no poll url", pred.ID, pred.Status))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.pollInterval):
		}

		next := &replicatePrediction{}
		resp, err := p.client.R().SetContext(ctx).SetResult(next).Get(pred.URLs.Get)
		if err != nil {
			return "", domain.NewUpstreamError("replicate", "poll prediction", 0, domain.ErrUpstreamUnavailable, err)
		}
		if resp.IsError() {
			return "", domain.NewUpstreamError("replicate", "poll prediction", resp.StatusCode(), domain.ErrUpstreamUnavailable,
				fmt.Errorf("%s", resp.String()))
		}
		pred = next
	}
}

// readStream consumes the prediction's server-sent events. "output" events
// carry deltas, "done" ends the stream and "error" fails it.
func (p *replicateQueryProvider) readStream(ctx context.Context, url string, req PredictRequest) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-store")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.streamClient.Do(httpReq)
	if err != nil {
		return "", domain.NewUpstreamError("replicate", "stream", 0, domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.NewUpstreamError("replicate", "stream", resp.StatusCode, domain.ErrUpstreamUnavailable,
			fmt.Errorf("unexpected stream status"))
	}

	var (
		full  strings.Builder
		event string
		data  []string
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// blank line dispatches the pending event
			payload := strings.Join(data, "\n")
			switch event {
			case "output", "":
				if len(data) > 0 {
					full.WriteString(payload)
					if err := req.emit(payload); err != nil {
						return full.String(), err
					}
				}
			case "error":
				return full.String(), domain.NewUpstreamError("replicate", "stream", 0, domain.ErrUpstreamUnavailable,
					fmt.Errorf("%s", payload))
			case "done":
				return full.String(), nil
			}
			event, data = "", data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), domain.NewUpstreamError("replicate", "stream", 0, domain.ErrUpstreamUnavailable, err)
	}
	return full.String(), nil
}

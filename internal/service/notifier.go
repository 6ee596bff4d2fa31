package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/nagato/internal/domain"
)

// Notifier POSTs JSON payloads to caller supplied webhooks.
type Notifier struct {
	client *resty.Client
}

// NewNotifier creates a notifier with the given request timeout.
func NewNotifier(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &Notifier{client: client}
}

// Notify sends payload to url. Non-2xx responses are errors.
func (n *Notifier) Notify(ctx context.Context, url string, payload interface{}) error {
	resp, err := n.client.R().SetContext(ctx).SetBody(payload).Post(url)
	if err != nil {
		return domain.NewUpstreamError("webhook", "notify", 0, domain.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return domain.NewUpstreamError("webhook", "notify", resp.StatusCode(), domain.ErrUpstreamUnavailable,
			fmt.Errorf("%s", resp.String()))
	}
	return nil
}

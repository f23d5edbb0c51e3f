package guided

import (
	"context"

	"github.com/zhouzirui/ulink/backend/internal/webhook"
)

// Fetcher performs the recommendation lookup.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// WebhookFetcher posts the request to a workflow webhook.
type WebhookFetcher struct {
	client *webhook.Client
	url    string
}

// NewWebhookFetcher binds a webhook client to url.
func NewWebhookFetcher(client *webhook.Client, url string) *WebhookFetcher {
	if client == nil {
		client = webhook.NewClient(nil)
	}
	return &WebhookFetcher{client: client, url: url}
}

// Fetch fails fast without network I/O when the URL is a placeholder.
func (f *WebhookFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if !webhook.Configured(f.url) {
		return nil, webhook.ErrNotConfigured
	}
	var res Result
	if err := f.client.PostJSON(ctx, f.url, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

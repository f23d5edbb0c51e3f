// Package webhook posts JSON payloads to external workflow endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotConfigured is returned for empty or placeholder endpoint URLs.
var ErrNotConfigured = errors.New("Webhook URL not configured for this assistant.")

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Webhook returned status %d", e.StatusCode)
}

// Client sends webhook requests. The zero timeout of http.DefaultClient is
// kept: a hung workflow blocks until the transport gives up.
type Client struct {
	httpClient *http.Client
}

// NewClient wraps httpClient, falling back to http.DefaultClient.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// Configured reports whether url can be called.
func Configured(url string) bool {
	url = strings.TrimSpace(url)
	return url != "" && !strings.HasPrefix(url, "PLACEHOLDER")
}

// Post sends payload as JSON and returns the raw response body.
func (c *Client) Post(ctx context.Context, url string, payload any) ([]byte, error) {
	if !Configured(url) {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read webhook response")
	}
	return data, nil
}

// PostJSON posts payload and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out any) error {
	data, err := c.Post(ctx, url, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode webhook response")
	}
	return nil
}

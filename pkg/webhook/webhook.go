// Package webhook posts health alerts to HTTP endpoints such as Slack incoming webhooks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultTimeout is the default per-attempt HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// maxResponseBody bounds how much of a response is kept.
const maxResponseBody = 1024 * 1024

// Client sends alerts to webhook endpoints.
type Client struct {
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

// NewClient creates a new webhook client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// SendOptions configures a webhook request.
type SendOptions struct {
	URL     string
	Token   string        // Bearer token (optional)
	Timeout time.Duration // Per-attempt timeout (uses DefaultTimeout if zero)

	// Retries is how many times a failed delivery is retried. Network errors
	// and 5xx responses are retried; 4xx responses are not.
	Retries int
}

// Response contains the result of a webhook request.
type Response struct {
	StatusCode int
	Body       string
	Duration   time.Duration
	Attempts   int
	Error      error
}

// Success returns true if the webhook was sent successfully (2xx status).
func (r *Response) Success() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Send posts payload as JSON to a webhook endpoint, retrying per opts.
func (c *Client) Send(ctx context.Context, payload any, opts SendOptions) *Response {
	start := time.Now()
	resp := &Response{}

	body, err := json.Marshal(payload)
	if err != nil {
		resp.Error = fmt.Errorf("failed to marshal payload: %w", err)
		return resp
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if opts.Retries > 0 {
		policy = backoff.WithMaxRetries(c.newBackOff(), uint64(opts.Retries))
	}

	resp.Error = backoff.Retry(func() error {
		resp.Attempts++
		return c.post(ctx, body, opts, resp)
	}, backoff.WithContext(policy, ctx))
	resp.Duration = time.Since(start)
	return resp
}

// post makes one delivery attempt and records the outcome in resp.
// Errors that retrying cannot fix are wrapped as permanent.
func (c *Client) post(ctx context.Context, body []byte, opts SendOptions, resp *Response) error {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "smartguard-webhook")
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	resp.StatusCode = httpResp.StatusCode
	resp.Body = string(respBody)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}

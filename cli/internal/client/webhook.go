// Package client posts signed Discourse webhooks to a hookwire gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hookwire/hookwire/common/signature"
)

// Header names used by Discourse.
const (
	HeaderEvent     = "X-Discourse-Event"
	HeaderSignature = "X-Discourse-Event-Signature"
	HeaderEventID   = "X-Discourse-Event-Id"
	HeaderInstance  = "X-Discourse-Instance"
)

// Webhook is one event to deliver.
type Webhook struct {
	EventType string
	EventID   string
	Instance  string
	Body      []byte
}

// Result is the gateway's reply.
type Result struct {
	StatusCode int    `json:"status_code" yaml:"status_code"`
	Status     string `json:"status,omitempty" yaml:"status,omitempty"`
	MessageID  string `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Accepted reports whether the gateway queued the event.
func (r *Result) Accepted() bool {
	return r.StatusCode == http.StatusOK
}

type WebhookClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewWebhookClient(baseURL, secret string) *WebhookClient {
	return &WebhookClient{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send signs and posts w. Non-2xx replies are returned as a Result, not an
// error; only transport failures are errors.
func (c *WebhookClient) Send(ctx context.Context, w Webhook) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook", bytes.NewReader(w.Body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, w.EventType)
	req.Header.Set(HeaderSignature, signature.Sign(w.Body, c.secret))
	if w.EventID != "" {
		req.Header.Set(HeaderEventID, w.EventID)
	}
	if w.Instance != "" {
		req.Header.Set(HeaderInstance, w.Instance)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	result := &Result{StatusCode: resp.StatusCode}
	if len(body) > 0 {
		// best effort: the gateway always replies with JSON, proxies may not
		if err := json.Unmarshal(body, result); err != nil {
			result.Error = string(body)
		}
	}
	return result, nil
}

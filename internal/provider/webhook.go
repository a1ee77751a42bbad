package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acteon-dev/acteon/internal/action"
)

// WebhookProvider posts the action payload as JSON to a configured URL,
// adapted from the teacher's generic webhook notification channel.
type WebhookProvider struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookProvider(name, url string, headers map[string]string) *WebhookProvider {
	return &WebhookProvider{
		name:    name,
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookProvider) Name() string { return w.name }

func (w *WebhookProvider) SupportsAttachments() bool { return false }

func (w *WebhookProvider) Execute(ctx context.Context, act *action.Action) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(act.Payload))
	if err != nil {
		return Result{}, fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Acteon-Action-Id", act.ID)
	req.Header.Set("X-Acteon-Action-Type", act.Type)
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{Retryable: true}, fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Success: true, StatusCode: resp.StatusCode, Body: body}, nil
	}

	retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return Result{Success: false, StatusCode: resp.StatusCode, Body: body, Retryable: retryable},
		fmt.Errorf("webhook returned %d", resp.StatusCode)
}

func (w *WebhookProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.url, nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook health check: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

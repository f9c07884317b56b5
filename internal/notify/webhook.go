package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Webhook posts notifications as JSON to URL and retracts them with
// DELETE URL/<id>.
type Webhook struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func NewWebhook(url string, timeout time.Duration, headers map[string]string) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		URL:     strings.TrimRight(url, "/"),
		Headers: headers,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Permitted(context.Context, string) bool { return w.URL != "" }

func (w *Webhook) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return w.do(ctx, http.MethodPost, w.URL, body)
}

func (w *Webhook) Retract(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("notification id is required")
	}
	return w.do(ctx, http.MethodDelete, w.URL+"/"+id, nil)
}

func (w *Webhook) do(ctx context.Context, method, url string, payload []byte) error {
	if w.URL == "" {
		return fmt.Errorf("URL is required")
	}

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range w.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d error: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// webhookPayload is the JSON body posted for every alert.
type webhookPayload struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Emoji   string            `json:"emoji,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	TS      string            `json:"ts"`
}

// WebhookNotifier POSTs alerts as JSON to a single endpoint. 5xx responses
// and transport errors are retried up to Retries times.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	now     func() time.Time
	Retries int
	Backoff time.Duration
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
		Retries: 2,
		Backoff: 500 * time.Millisecond,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Emoji:   alert.Emoji,
		Fields:  alert.Fields,
		TS:      w.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.Backoff * time.Duration(attempt)):
			}
		}
		retry, err := w.post(ctx, body)
		if err == nil {
			log.Printf("[webhook] delivered %q", alert.Title)
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

// post reports whether a failure is worth retrying.
func (w *WebhookNotifier) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return resp.StatusCode >= 500, fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
}

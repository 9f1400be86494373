package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts alerts as JSON to an arbitrary URL.
type Webhook struct {
	url  string
	http *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{url: url, http: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	data, err := json.Marshal(map[string]any{
		"source":    "cryptopiggy",
		"level":     msg.Level,
		"title":     msg.Title,
		"text":      msg.Text,
		"timestamp": msg.Time.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

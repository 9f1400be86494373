package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

const defaultTimeout = 5 * time.Second

// Telegram posts alerts to a bot chat.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
}

func NewTelegram(token, chatID string, timeout time.Duration) *Telegram {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		http:    &http.Client{Timeout: timeout},
	}
}

// WithBaseURL points the notifier at another API host.
func (t *Telegram) WithBaseURL(u string) *Telegram {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	text := msg.Text
	if msg.Title != "" {
		text = msg.Title + "\n" + msg.Text
	}
	if msg.Level == LevelCritical {
		text = "⚠️ " + text
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram returned status: %d", resp.StatusCode)
	}
	return nil
}

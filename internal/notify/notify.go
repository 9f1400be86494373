// Package notify delivers operator alerts over Telegram, webhooks and the log.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Level orders alerts by urgency.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelCritical Level = "critical"
)

// Message is a rendered alert.
type Message struct {
	Level Level     `json:"level"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
	Time  time.Time `json:"time"`
}

// Notifier sends a message to one destination.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to a zap logger.
type LogNotifier struct {
	Log *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, msg Message) error {
	log := l.Log
	if log == nil {
		return nil
	}
	fields := []zap.Field{zap.String("title", msg.Title), zap.String("level", string(msg.Level))}
	switch msg.Level {
	case LevelCritical:
		log.Error(msg.Text, fields...)
	case LevelWarn:
		log.Warn(msg.Text, fields...)
	default:
		log.Info(msg.Text, fields...)
	}
	return nil
}

// Options selects the destinations built by New.
type Options struct {
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
	Timeout        time.Duration
}

// New builds a Multi with a log sink plus every configured remote destination.
func New(opts Options, logger *zap.Logger) Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := Multi{LogNotifier{Log: logger.Named("notify")}}
	if opts.TelegramToken != "" && opts.TelegramChatID != "" {
		out = append(out, NewTelegram(opts.TelegramToken, opts.TelegramChatID, opts.Timeout))
	}
	if opts.WebhookURL != "" {
		out = append(out, NewWebhook(opts.WebhookURL, opts.Timeout))
	}
	return out
}

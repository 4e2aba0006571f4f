// Package notifier содержит реализации ports.Notifier.
package notifier

import (
	"context"
	"log/slog"
)

// Log пишет уведомления в лог. Используется, когда внешний канал доставки не настроен.
type Log struct {
	log *slog.Logger
}

// NewLog создает Log.
func NewLog(l *slog.Logger) *Log {
	if l == nil {
		l = slog.Default()
	}
	return &Log{log: l}
}

// Publish логирует уведомление для топика.
func (n *Log) Publish(ctx context.Context, topic, title, body string) error {
	n.log.InfoContext(ctx, "Push notification", "topic", topic, "title", title, "body", body)
	return nil
}

// NotifyUser логирует уведомление для пользователя.
func (n *Log) NotifyUser(ctx context.Context, userID, title, body string) error {
	n.log.InfoContext(ctx, "Push notification", "user_id", userID, "title", title, "body", body)
	return nil
}

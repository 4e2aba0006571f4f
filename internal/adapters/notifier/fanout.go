package notifier

import (
	"context"
	"errors"

	"chat-core/internal/ports"
)

// Fanout отправляет каждое уведомление во все вложенные Notifier и объединяет ошибки.
type Fanout []ports.Notifier

// Publish вызывает Publish у всех получателей.
func (f Fanout) Publish(ctx context.Context, topic, title, body string) error {
	var errs []error
	for _, n := range f {
		if err := n.Publish(ctx, topic, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyUser вызывает NotifyUser у всех получателей.
func (f Fanout) NotifyUser(ctx context.Context, userID, title, body string) error {
	var errs []error
	for _, n := range f {
		if err := n.NotifyUser(ctx, userID, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

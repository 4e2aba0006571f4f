// Package redisfeed связывает хранилища нескольких экземпляров сервиса через Redis pub/sub:
// запись на одном узле заставляет остальные узлы перечитать снимок канала.
package redisfeed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chat-core/internal/domain"
	"chat-core/internal/ports"
)

// DefaultPrefix — префикс каналов Redis, в которые публикуются уведомления об изменениях.
const DefaultPrefix = "chat:changed:"

// Backend — хранилище, которое умеет перечитывать снимок и завершать подписки.
type Backend interface {
	ports.MessageStore
	Refresh(ctx context.Context, channelID string) error
	FailSubscriptions(err error)
}

// Option — функциональная опция для Feed.
type Option func(*Feed)

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.log = l
		}
	}
}

// WithPrefix задает префикс каналов Redis.
func WithPrefix(prefix string) Option {
	return func(f *Feed) {
		if prefix != "" {
			f.prefix = prefix
		}
	}
}

// Feed декорирует Backend. Все методы MessageStore делегируются,
// после успешной записи в Redis публикуется ID канала.
type Feed struct {
	Backend

	rdb    *redis.Client
	prefix string
	origin string
	log    *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New создает Feed поверх backend.
func New(backend Backend, rdb *redis.Client, opts ...Option) *Feed {
	f := &Feed{
		Backend: backend,
		rdb:     rdb,
		prefix:  DefaultPrefix,
		origin:  uuid.NewString(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Append сохраняет сообщение и оповещает другие узлы.
func (f *Feed) Append(ctx context.Context, channelID string, msg domain.Message) (domain.Message, error) {
	out, err := f.Backend.Append(ctx, channelID, msg)
	if err != nil {
		return out, err
	}
	f.announce(ctx, channelID)
	return out, nil
}

// Patch обновляет сообщение и оповещает другие узлы.
func (f *Feed) Patch(ctx context.Context, channelID, messageID string, patch domain.Patch) error {
	if err := f.Backend.Patch(ctx, channelID, messageID, patch); err != nil {
		return err
	}
	f.announce(ctx, channelID)
	return nil
}

// Start подписывается на уведомления других узлов. Когда подписка Redis закрывается,
// все локальные подписчики получают ErrSubscription.
func (f *Feed) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := f.rdb.PSubscribe(ctx, f.prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return fmt.Errorf("subscribing to %s*: %w", f.prefix, err)
	}
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				f.Backend.FailSubscriptions(domain.ErrSubscription)
				return
			case msg, ok := <-ch:
				if !ok {
					f.log.Error("Redis subscription closed")
					f.Backend.FailSubscriptions(domain.ErrSubscription)
					return
				}
				f.handle(ctx, msg)
			}
		}
	}()

	f.log.Info("Listening for remote channel changes", "pattern", f.prefix+"*")
	return nil
}

// Stop останавливает прием уведомлений.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

func (f *Feed) handle(ctx context.Context, msg *redis.Message) {
	if msg.Payload == f.origin {
		return
	}
	channelID := strings.TrimPrefix(msg.Channel, f.prefix)
	if channelID == "" {
		return
	}
	if err := f.Backend.Refresh(ctx, channelID); err != nil {
		f.log.Error("Failed to refresh channel after remote change", "channel_id", channelID, "error", err)
	}
}

func (f *Feed) announce(ctx context.Context, channelID string) {
	if err := f.rdb.Publish(ctx, f.prefix+channelID, f.origin).Err(); err != nil {
		f.log.Warn("Failed to announce channel change", "channel_id", channelID, "error", err)
	}
}

package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"chat-core/internal/ports"
)

// BreakerConfig — параметры автоматического выключателя.
type BreakerConfig struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// Breaker оборачивает Notifier автоматическим выключателем: после серии ошибок
// вызовы отклоняются сразу, не дожидаясь недоступного сервиса доставки.
type Breaker struct {
	next ports.Notifier
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker создает Breaker с именем name.
func NewBreaker(name string, next ports.Notifier, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// Publish вызывает Publish через выключатель.
func (b *Breaker) Publish(ctx context.Context, topic, title, body string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, topic, title, body)
	})
	return err
}

// NotifyUser вызывает NotifyUser через выключатель.
func (b *Breaker) NotifyUser(ctx context.Context, userID, title, body string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.NotifyUser(ctx, userID, title, body)
	})
	return err
}

// State возвращает текущее состояние выключателя.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

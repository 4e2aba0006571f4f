// Package pin поддерживает не больше одного закрепленного сообщения в канале.
package pin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chat-core/internal/domain"
	"chat-core/internal/metrics"
	"chat-core/internal/ports"
)

// Option — функциональная опция для Manager.
type Option func(*Manager)

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock подменяет источник времени для PinnedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager закрепляет и открепляет сообщения. Операции не транзакционны:
// после закрепления выполняется сходимость, снимающая все закрепления, кроме
// победителя по правилу "последняя запись выигрывает".
type Manager struct {
	store ports.MessageStore
	now   func() time.Time
	log   *slog.Logger
}

// NewManager создает Manager.
func NewManager(store ports.MessageStore, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Pin закрепляет сообщение messageID от имени byUserID.
func (m *Manager) Pin(ctx context.Context, channelID, messageID, byUserID string) error {
	if _, err := m.store.Get(ctx, channelID, messageID); err != nil {
		metrics.PinOperations.WithLabelValues("pin", "error").Inc()
		return err
	}

	if err := m.clearExcept(ctx, channelID, messageID); err != nil {
		metrics.PinOperations.WithLabelValues("pin", "error").Inc()
		return err
	}

	if err := m.store.Patch(ctx, channelID, messageID, domain.PinPatch(byUserID, m.now().UnixMilli())); err != nil {
		metrics.PinOperations.WithLabelValues("pin", "error").Inc()
		return fmt.Errorf("pinning message %s: %w", messageID, err)
	}

	if err := m.converge(ctx, channelID); err != nil {
		m.log.WarnContext(ctx, "Pin convergence incomplete", "channel_id", channelID, "error", err)
	}

	metrics.PinOperations.WithLabelValues("pin", "ok").Inc()
	m.log.InfoContext(ctx, "Message pinned", "channel_id", channelID, "message_id", messageID, "by", byUserID)
	return nil
}

// Unpin снимает закрепление с сообщения.
func (m *Manager) Unpin(ctx context.Context, channelID, messageID string) error {
	if err := m.store.Patch(ctx, channelID, messageID, domain.UnpinPatch()); err != nil {
		metrics.PinOperations.WithLabelValues("unpin", "error").Inc()
		return fmt.Errorf("unpinning message %s: %w", messageID, err)
	}
	metrics.PinOperations.WithLabelValues("unpin", "ok").Inc()
	m.log.InfoContext(ctx, "Message unpinned", "channel_id", channelID, "message_id", messageID)
	return nil
}

// Current возвращает закрепленное сообщение канала или nil.
func (m *Manager) Current(ctx context.Context, channelID string) (*domain.Message, error) {
	pinned, err := m.store.GetOnce(ctx, channelID, isPinned)
	if err != nil {
		return nil, fmt.Errorf("querying pinned messages: %w", err)
	}
	return Winner(pinned), nil
}

// CurrentIn возвращает закрепленное сообщение снимка или nil.
func CurrentIn(snapshot []domain.Message) *domain.Message {
	var pinned []domain.Message
	for _, msg := range snapshot {
		if msg.IsPinned {
			pinned = append(pinned, msg)
		}
	}
	return Winner(pinned)
}

// Winner выбирает закрепление с наибольшим PinnedAt; при равенстве побеждает больший ID.
func Winner(pinned []domain.Message) *domain.Message {
	var best *domain.Message
	for i := range pinned {
		c := &pinned[i]
		if !c.IsPinned {
			continue
		}
		if best == nil || c.PinnedAt > best.PinnedAt || (c.PinnedAt == best.PinnedAt && c.ID > best.ID) {
			best = c
		}
	}
	if best == nil {
		return nil
	}
	out := best.Clone()
	return &out
}

func (m *Manager) clearExcept(ctx context.Context, channelID, keepID string) error {
	pinned, err := m.store.GetOnce(ctx, channelID, isPinned)
	if err != nil {
		return fmt.Errorf("querying pinned messages: %w", err)
	}

	var errs []error
	for _, msg := range pinned {
		if msg.ID == keepID {
			continue
		}
		if err := m.store.Patch(ctx, channelID, msg.ID, domain.UnpinPatch()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("unpinning %s: %w", msg.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) converge(ctx context.Context, channelID string) error {
	pinned, err := m.store.GetOnce(ctx, channelID, isPinned)
	if err != nil {
		return fmt.Errorf("querying pinned messages: %w", err)
	}
	if len(pinned) <= 1 {
		return nil
	}
	winner := Winner(pinned)
	m.log.DebugContext(ctx, "Concurrent pins detected", "channel_id", channelID, "pinned", len(pinned), "winner", winner.ID)
	return m.clearExcept(ctx, channelID, winner.ID)
}

func isPinned(msg domain.Message) bool {
	return msg.IsPinned
}

// Package memory реализует хранилище сообщений в памяти процесса.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nrednav/cuid2"

	"chat-core/internal/adapters/store/feed"
	"chat-core/internal/domain"
	"chat-core/internal/ports"
)

// Option — функциональная опция для Store.
type Option func(*Store)

// WithLogger устанавливает логгер хранилища.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store хранит журналы каналов в памяти. Безопасен для одновременного использования.
type Store struct {
	mu       sync.RWMutex
	channels map[string]map[string]*domain.Message
	hub      *feed.Hub
	now      func() time.Time
	log      *slog.Logger
}

// New создает пустое хранилище.
func New(opts ...Option) *Store {
	s := &Store{
		channels: make(map[string]map[string]*domain.Message),
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = feed.NewHub(s.log)
	return s
}

// NewKey выдает ключ нового сообщения.
func (s *Store) NewKey() (string, error) {
	return cuid2.Generate(), nil
}

// Append добавляет сообщение в журнал канала.
func (s *Store) Append(ctx context.Context, channelID string, msg domain.Message) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrWrite, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = cuid2.Generate()
	}

	log, ok := s.channels[channelID]
	if !ok {
		log = make(map[string]*domain.Message)
		s.channels[channelID] = log
	}
	if _, exists := log[msg.ID]; exists {
		return domain.Message{}, fmt.Errorf("%w: duplicate message id %s", domain.ErrWrite, msg.ID)
	}

	msg.ChannelID = channelID
	msg.CreatedAt = s.now().UnixMilli()
	msg.Status = domain.StatusSending
	stored := msg.Clone()
	log[msg.ID] = &stored

	s.hub.Publish(channelID, s.snapshotLocked(channelID))
	return stored.Clone(), nil
}

// Subscribe подписывает fn на снимки канала.
func (s *Store) Subscribe(ctx context.Context, channelID string, fn ports.SnapshotFunc) (ports.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub.Subscribe(channelID, fn, s.snapshotLocked(channelID)), nil
}

// Patch применяет частичное обновление к сообщению.
func (s *Store) Patch(ctx context.Context, channelID, messageID string, patch domain.Patch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWrite, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.channels[channelID][messageID]
	if !ok {
		return fmt.Errorf("message %s in channel %s: %w", messageID, channelID, domain.ErrNotFound)
	}
	if msg.Apply(patch) {
		s.hub.Publish(channelID, s.snapshotLocked(channelID))
	}
	return nil
}

// GetOnce возвращает упорядоченные сообщения канала, удовлетворяющие pred.
func (s *Store) GetOnce(ctx context.Context, channelID string, pred ports.Predicate) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.snapshotLocked(channelID)
	if pred == nil {
		return all, nil
	}
	out := make([]domain.Message, 0, len(all))
	for _, m := range all {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Get возвращает сообщение по ID.
func (s *Store) Get(ctx context.Context, channelID, messageID string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.channels[channelID][messageID]
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s in channel %s: %w", messageID, channelID, domain.ErrNotFound)
	}
	return msg.Clone(), nil
}

func (s *Store) snapshotLocked(channelID string) []domain.Message {
	log := s.channels[channelID]
	out := make([]domain.Message, 0, len(log))
	for _, m := range log {
		out = append(out, m.Clone())
	}
	domain.SortMessages(out)
	return out
}

// Refresh повторно публикует снимок канала подписчикам.
func (s *Store) Refresh(ctx context.Context, channelID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.hub.Publish(channelID, s.snapshotLocked(channelID))
	return nil
}

// FailSubscriptions завершает все подписки с ошибкой err.
func (s *Store) FailSubscriptions(err error) {
	s.hub.FailAll(err)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat-core/internal/core/channel"
	"chat-core/internal/core/notify"
	"chat-core/internal/core/pin"
	"chat-core/internal/core/search"
	"chat-core/internal/core/status"
	"chat-core/internal/domain"
	"chat-core/internal/metrics"
	"chat-core/internal/ports"
)

// Option — функциональная опция для настройки MessagingService.
type Option func(*MessagingService)

// WithLogger устанавливает логгер для сервиса.
func WithLogger(l *slog.Logger) Option {
	return func(s *MessagingService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDirectory подключает справочник каналов: регистрация участников и записи о последнем сообщении.
func WithDirectory(d ports.Directory) Option {
	return func(s *MessagingService) {
		s.directory = d
	}
}

// WithTracker задает трекер статусов.
func WithTracker(t *status.Tracker) Option {
	return func(s *MessagingService) {
		s.tracker = t
	}
}

// WithPinManager задает менеджер закреплений.
func WithPinManager(m *pin.Manager) Option {
	return func(s *MessagingService) {
		s.pins = m
	}
}

// WithDispatcher задает рассылку уведомлений. Без нее уведомления не отправляются.
func WithDispatcher(d *notify.Dispatcher) Option {
	return func(s *MessagingService) {
		s.dispatcher = d
	}
}

// WithFilter задает поисковый фильтр.
func WithFilter(f *search.Filter) Option {
	return func(s *MessagingService) {
		s.filter = f
	}
}

// WithBackgroundTimeout ограничивает время фоновых операций со справочником.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(s *MessagingService) {
		if d > 0 {
			s.backgroundTimeout = d
		}
	}
}

// MessagingService связывает хранилище, трекер статусов, закрепления, поиск и уведомления
// в операции отправки и просмотра канала. Безопасен для одновременного использования.
type MessagingService struct {
	store      ports.MessageStore
	blobs      ports.BlobStore
	identity   ports.Identity
	directory  ports.Directory
	tracker    *status.Tracker
	pins       *pin.Manager
	dispatcher *notify.Dispatcher
	filter     *search.Filter
	resolver   *channel.Resolver
	log        *slog.Logger

	backgroundTimeout time.Duration
	wg                sync.WaitGroup
}

// NewMessagingService создает сервис. Компоненты, не заданные опциями, создаются с настройками по умолчанию.
func NewMessagingService(store ports.MessageStore, blobs ports.BlobStore, identity ports.Identity, opts ...Option) *MessagingService {
	s := &MessagingService{
		store:             store,
		blobs:             blobs,
		identity:          identity,
		log:               slog.Default(),
		backgroundTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.tracker == nil {
		s.tracker = status.NewTracker(store, status.WithLogger(s.log))
	}
	if s.pins == nil {
		s.pins = pin.NewManager(store, pin.WithLogger(s.log))
	}
	if s.filter == nil {
		s.filter = search.NewFilter(nil)
	}
	s.resolver = channel.NewResolver(s.directory, s.log)
	return s
}

// Send отправляет сообщение от имени текущего пользователя.
// Медиафайл загружается до записи; при ошибке загрузки сообщение не создается.
func (s *MessagingService) Send(ctx context.Context, channelID string, draft domain.Draft) (domain.Message, error) {
	user, ok := s.identity.CurrentUser(ctx)
	if !ok {
		metrics.SendFailures.WithLabelValues("auth").Inc()
		return domain.Message{}, domain.ErrAuthRequired
	}
	if channelID == "" {
		return domain.Message{}, fmt.Errorf("%w: empty channel id", domain.ErrInvalidMessage)
	}
	if err := draft.Validate(); err != nil {
		metrics.SendFailures.WithLabelValues("invalid").Inc()
		return domain.Message{}, err
	}

	var upload *domain.Upload
	if draft.NeedsUpload() {
		if s.blobs == nil {
			return domain.Message{}, fmt.Errorf("%w: no blob store configured", domain.ErrUpload)
		}
		res, err := s.blobs.Upload(ctx, draft.Data, draft.Kind, draft.FileName)
		if err != nil {
			metrics.SendFailures.WithLabelValues("upload").Inc()
			s.log.ErrorContext(ctx, "Media upload failed", "channel_id", channelID, "kind", draft.Kind, "error", err)
			if !errors.Is(err, domain.ErrUpload) {
				err = fmt.Errorf("%w: %v", domain.ErrUpload, err)
			}
			return domain.Message{}, err
		}
		upload = &res
	}

	msg := draft.Message(user, upload)
	if kp, ok := s.store.(ports.KeyProvider); ok {
		if key, err := kp.NewKey(); err == nil {
			msg.ID = key
		}
	}

	stored, err := s.store.Append(ctx, channelID, msg)
	if err != nil {
		metrics.SendFailures.WithLabelValues("write").Inc()
		s.log.ErrorContext(ctx, "Message append failed", "channel_id", channelID, "error", err)
		if !errors.Is(err, domain.ErrWrite) {
			err = fmt.Errorf("%w: %v", domain.ErrWrite, err)
		}
		return domain.Message{}, err
	}
	metrics.MessagesSent.WithLabelValues(string(stored.Kind)).Inc()

	s.tracker.MarkSent(ctx, channelID, stored.ID)
	s.tracker.ScheduleDelivered(channelID, stored.ID)

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(channelID, stored)
	}
	s.updateSummary(channelID, stored)

	s.log.InfoContext(ctx, "Message sent", "channel_id", channelID, "message_id", stored.ID, "kind", stored.Kind, "sender_id", user.ID)

	if fresh, err := s.store.Get(ctx, channelID, stored.ID); err == nil {
		return fresh, nil
	}
	return stored, nil
}

// Pin закрепляет сообщение от имени текущего пользователя.
func (s *MessagingService) Pin(ctx context.Context, channelID, messageID string) error {
	user, ok := s.identity.CurrentUser(ctx)
	if !ok {
		return domain.ErrAuthRequired
	}
	return s.pins.Pin(ctx, channelID, messageID, user.ID)
}

// Unpin снимает закрепление.
func (s *MessagingService) Unpin(ctx context.Context, channelID, messageID string) error {
	if _, ok := s.identity.CurrentUser(ctx); !ok {
		return domain.ErrAuthRequired
	}
	return s.pins.Unpin(ctx, channelID, messageID)
}

// Pinned возвращает закрепленное сообщение канала или nil.
func (s *MessagingService) Pinned(ctx context.Context, channelID string) (*domain.Message, error) {
	if _, ok := s.identity.CurrentUser(ctx); !ok {
		return nil, domain.ErrAuthRequired
	}
	return s.pins.Current(ctx, channelID)
}

// MarkRead отмечает сообщение прочитанным текущим пользователем.
func (s *MessagingService) MarkRead(ctx context.Context, channelID, messageID string) error {
	user, ok := s.identity.CurrentUser(ctx)
	if !ok {
		return domain.ErrAuthRequired
	}
	return s.tracker.MarkRead(ctx, channelID, messageID, user.ID)
}

// History возвращает сообщения канала, отфильтрованные по запросу.
func (s *MessagingService) History(ctx context.Context, channelID, query string) ([]domain.Message, error) {
	if _, ok := s.identity.CurrentUser(ctx); !ok {
		return nil, domain.ErrAuthRequired
	}
	all, err := s.store.GetOnce(ctx, channelID, nil)
	if err != nil {
		return nil, fmt.Errorf("loading history of %s: %w", channelID, err)
	}
	return s.filter.Apply(all, query), nil
}

// PrivateChannel возвращает ID личного канала текущего пользователя с otherID
// и регистрирует обоих участников в справочнике.
func (s *MessagingService) PrivateChannel(ctx context.Context, otherID string) (string, error) {
	user, ok := s.identity.CurrentUser(ctx)
	if !ok {
		return "", domain.ErrAuthRequired
	}
	channelID, err := channel.Resolve(user.ID, otherID)
	if err != nil {
		return "", err
	}
	if s.directory != nil {
		var errs []error
		for _, id := range []string{user.ID, otherID} {
			if err := s.directory.Join(ctx, channelID, id); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			s.log.WarnContext(ctx, "Failed to register private channel participants", "channel_id", channelID, "error", err)
		}
	}
	return channelID, nil
}

// ChannelKind возвращает тип канала.
func (s *MessagingService) ChannelKind(ctx context.Context, channelID string) domain.ChannelKind {
	return s.resolver.Kind(ctx, channelID)
}

// Close дожидается фоновых операций: таймеров статусов, уведомлений и записей справочника.
func (s *MessagingService) Close(ctx context.Context) {
	s.tracker.Close(ctx)
	if s.dispatcher != nil {
		s.dispatcher.Wait()
	}
	s.wg.Wait()
}

func (s *MessagingService) updateSummary(channelID string, msg domain.Message) {
	if s.directory == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.backgroundTimeout)
		defer cancel()

		if err := s.directory.Join(ctx, channelID, msg.SenderID); err != nil {
			s.log.WarnContext(ctx, "Failed to register sender in channel", "channel_id", channelID, "error", err)
		}
		summary := domain.Summary{
			ChannelID:     channelID,
			Kind:          s.resolver.Kind(ctx, channelID),
			LastMessage:   notify.Summary(msg),
			LastSender:    msg.SenderName,
			LastMessageAt: msg.CreatedAt,
		}
		if err := s.directory.SaveSummary(ctx, summary); err != nil {
			s.log.WarnContext(ctx, "Failed to save channel summary", "channel_id", channelID, "error", err)
		}
	}()
}

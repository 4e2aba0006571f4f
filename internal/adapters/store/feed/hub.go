// Package feed раздает полные снимки каналов подписчикам хранилища.
package feed

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"chat-core/internal/domain"
	"chat-core/internal/metrics"
	"chat-core/internal/ports"
)

// Hub хранит подписчиков, сгруппированных по ID канала.
// Publish не блокируется: у каждого подписчика свой почтовый ящик на один снимок
// и своя горутина доставки, поэтому обратный вызов может писать в хранилище.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[string]*Subscription
	log      *slog.Logger
}

// NewHub создает пустой Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		channels: make(map[string]map[string]*Subscription),
		log:      log,
	}
}

// Subscribe регистрирует подписчика и ставит в очередь начальный снимок.
// Вызывающая сторона должна получить initial под той же блокировкой, под которой публикует изменения.
func (h *Hub) Subscribe(channelID string, fn ports.SnapshotFunc, initial []domain.Message) *Subscription {
	s := &Subscription{
		id:        uuid.NewString(),
		channelID: channelID,
		hub:       h,
		fn:        fn,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	subs, ok := h.channels[channelID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.channels[channelID] = subs
	}
	subs[s.id] = s
	h.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	h.log.Debug("Subscriber registered", "channel_id", channelID, "subscriber_id", s.id)

	go s.run()
	s.offer(initial)
	return s
}

// Publish передает снимок всем подписчикам канала.
func (h *Hub) Publish(channelID string, snapshot []domain.Message) {
	for _, s := range h.subscribers(channelID) {
		s.offer(snapshot)
	}
}

// HasSubscribers сообщает, есть ли у канала живые подписчики.
func (h *Hub) HasSubscribers(channelID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channelID]) > 0
}

// Channels возвращает каналы, у которых есть подписчики.
func (h *Hub) Channels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.channels))
	for id := range h.channels {
		out = append(out, id)
	}
	return out
}

// Fail завершает все подписки канала с ошибкой err.
func (h *Hub) Fail(channelID string, err error) {
	for _, s := range h.subscribers(channelID) {
		s.close(err)
	}
}

// FailAll завершает все подписки всех каналов с ошибкой err.
func (h *Hub) FailAll(err error) {
	for _, channelID := range h.Channels() {
		h.Fail(channelID, err)
	}
}

func (h *Hub) subscribers(channelID string) []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.channels[channelID]
	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.channels[s.channelID]
	if _, ok := subs[s.id]; !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(h.channels, s.channelID)
	}
	metrics.ActiveSubscriptions.Dec()
}

// Subscription — подписчик одного канала. Хранит только последний
// недоставленный снимок: более новый снимок всегда заменяет старый.
type Subscription struct {
	id        string
	channelID string
	hub       *Hub
	fn        ports.SnapshotFunc

	mu         sync.Mutex
	pending    []domain.Message
	hasPending bool
	closed     bool
	err        error

	wake chan struct{}
	done chan struct{}
}

// ID возвращает идентификатор подписчика.
func (s *Subscription) ID() string { return s.id }

// ChannelID возвращает канал подписки.
func (s *Subscription) ChannelID() string { return s.channelID }

// Done закрывается после завершения подписки.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err возвращает ошибку, с которой подписку завершило хранилище.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe прекращает доставку снимков. Повторные вызовы ничего не делают.
func (s *Subscription) Unsubscribe() {
	s.close(nil)
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.pending = nil
	s.hasPending = false
	close(s.done)
	s.mu.Unlock()

	s.hub.remove(s)
	if err != nil {
		s.hub.log.Warn("Subscription terminated by backend", "channel_id", s.channelID, "subscriber_id", s.id, "error", err)
	} else {
		s.hub.log.Debug("Subscriber removed", "channel_id", s.channelID, "subscriber_id", s.id)
	}
}

func (s *Subscription) offer(snapshot []domain.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = clone(snapshot)
	s.hasPending = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		if s.closed || !s.hasPending {
			s.mu.Unlock()
			continue
		}
		snapshot := s.pending
		s.pending = nil
		s.hasPending = false
		s.mu.Unlock()

		s.fn(snapshot)
	}
}

func clone(snapshot []domain.Message) []domain.Message {
	out := make([]domain.Message, len(snapshot))
	for i, m := range snapshot {
		out[i] = m.Clone()
	}
	return out
}

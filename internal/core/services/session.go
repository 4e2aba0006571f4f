package services

import (
	"context"
	"fmt"
	"sync"

	"chat-core/internal/core/pin"
	"chat-core/internal/domain"
	"chat-core/internal/ports"
)

// View — то, что видит участник открытого канала.
type View struct {
	ChannelID string           `json:"channel_id"`
	Query     string           `json:"query,omitempty"`
	Messages  []domain.Message `json:"messages"`
	Pinned    *domain.Message  `json:"pinned,omitempty"`
	Total     int              `json:"total"`
}

// ViewFunc получает новое представление канала. Вызовы последовательны.
type ViewFunc func(View)

// Session — открытый канал одного зрителя: живая подписка, отметки о прочтении
// и поисковый фильтр поверх каждого снимка.
type Session struct {
	svc       *MessagingService
	channelID string
	viewer    domain.User
	onView    ViewFunc

	emitMu sync.Mutex
	mu     sync.Mutex
	all    []domain.Message
	query  string
	ready  bool
	closed bool
	sub    ports.Subscription
}

// Open подписывает текущего пользователя на канал. Зритель регистрируется участником канала.
func (s *MessagingService) Open(ctx context.Context, channelID string, onView ViewFunc) (*Session, error) {
	user, ok := s.identity.CurrentUser(ctx)
	if !ok {
		return nil, domain.ErrAuthRequired
	}
	if channelID == "" {
		return nil, fmt.Errorf("%w: empty channel id", domain.ErrInvalidMessage)
	}
	if onView == nil {
		onView = func(View) {}
	}

	if s.directory != nil {
		if err := s.directory.Join(ctx, channelID, user.ID); err != nil {
			s.log.WarnContext(ctx, "Failed to register viewer in channel", "channel_id", channelID, "user_id", user.ID, "error", err)
		}
	}

	sess := &Session{
		svc:       s,
		channelID: channelID,
		viewer:    user,
		onView:    onView,
	}

	sub, err := s.store.Subscribe(ctx, channelID, sess.onSnapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSubscription, err)
	}
	sess.mu.Lock()
	sess.sub = sub
	sess.mu.Unlock()

	s.log.InfoContext(ctx, "Channel opened", "channel_id", channelID, "viewer_id", user.ID)
	return sess, nil
}

// ChannelID возвращает канал сессии.
func (sess *Session) ChannelID() string { return sess.channelID }

// SetQuery меняет поисковый запрос и сразу публикует новое представление.
func (sess *Session) SetQuery(query string) {
	sess.mu.Lock()
	sess.query = query
	sess.mu.Unlock()
	sess.emit()
}

// View возвращает текущее представление.
func (sess *Session) View() View {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.buildLocked()
}

// Done закрывается, когда подписка завершена.
func (sess *Session) Done() <-chan struct{} {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.sub.Done()
}

// Err возвращает причину завершения подписки со стороны хранилища.
func (sess *Session) Err() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.sub.Err()
}

// Close отписывается от канала. Повторный вызов безопасен.
// Запланированные отметки о прочтении продолжают работать.
func (sess *Session) Close() {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	sub := sess.sub
	sess.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	sess.svc.log.Debug("Channel closed", "channel_id", sess.channelID, "viewer_id", sess.viewer.ID)
}

func (sess *Session) onSnapshot(snapshot []domain.Message) {
	for i := range snapshot {
		snapshot[i] = snapshot[i].Normalize()
	}
	sess.svc.tracker.Observe(sess.channelID, sess.viewer.ID, snapshot)

	sess.mu.Lock()
	sess.all = snapshot
	sess.ready = true
	sess.mu.Unlock()

	sess.emit()
}

func (sess *Session) emit() {
	sess.emitMu.Lock()
	defer sess.emitMu.Unlock()

	sess.mu.Lock()
	if sess.closed || !sess.ready {
		sess.mu.Unlock()
		return
	}
	v := sess.buildLocked()
	sess.mu.Unlock()

	sess.onView(v)
}

func (sess *Session) buildLocked() View {
	return View{
		ChannelID: sess.channelID,
		Query:     sess.query,
		Messages:  sess.svc.filter.Apply(sess.all, sess.query),
		Pinned:    pin.CurrentIn(sess.all),
		Total:     len(sess.all),
	}
}

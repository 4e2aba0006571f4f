// Package status продвигает сообщения по цепочке SENDING→SENT→DELIVERED→READ.
package status

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"chat-core/internal/cache"
	"chat-core/internal/domain"
	"chat-core/internal/metrics"
	"chat-core/internal/ports"
)

// Config хранит задержки трекера.
type Config struct {
	// DeliveredDelay — через сколько после SENT сообщение считается доставленным.
	DeliveredDelay time.Duration
	// ReadDelayMin и ReadDelayMax задают интервал случайной задержки отметки о прочтении.
	ReadDelayMin time.Duration
	ReadDelayMax time.Duration
	// DedupeTTL — сколько помнить уже запланированную отметку о прочтении.
	DedupeTTL time.Duration
	// OperationTimeout — таймаут одной записи в хранилище из таймера.
	OperationTimeout time.Duration
}

// DefaultConfig возвращает задержки по умолчанию.
func DefaultConfig() Config {
	return Config{
		DeliveredDelay:   1 * time.Second,
		ReadDelayMin:     500 * time.Millisecond,
		ReadDelayMax:     1500 * time.Millisecond,
		DedupeTTL:        1 * time.Minute,
		OperationTimeout: 5 * time.Second,
	}
}

// Option — функциональная опция для Tracker.
type Option func(*Tracker)

// WithConfig заменяет задержки. Нулевые поля остаются по умолчанию.
func WithConfig(c Config) Option {
	return func(t *Tracker) {
		if c.DeliveredDelay > 0 {
			t.config.DeliveredDelay = c.DeliveredDelay
		}
		if c.ReadDelayMin > 0 {
			t.config.ReadDelayMin = c.ReadDelayMin
		}
		if c.ReadDelayMax > 0 {
			t.config.ReadDelayMax = c.ReadDelayMax
		}
		if c.DedupeTTL > 0 {
			t.config.DedupeTTL = c.DedupeTTL
		}
		if c.OperationTimeout > 0 {
			t.config.OperationTimeout = c.OperationTimeout
		}
	}
}

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithClock подменяет источник времени для отметок ReadBy.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithJitter подменяет генератор задержки отметки о прочтении.
func WithJitter(fn func(min, max time.Duration) time.Duration) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.jitter = fn
		}
	}
}

// Tracker планирует и записывает переходы статусов. Ошибки записи логируются
// и не повторяются: сообщение остается в последнем успешно записанном статусе.
// Таймеры живут дольше подписок и останавливаются только в Close.
type Tracker struct {
	store  ports.MessageStore
	config Config
	seen   *cache.TTLSet
	jitter func(min, max time.Duration) time.Duration
	now    func() time.Time
	log    *slog.Logger

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	pending map[uint64]*time.Timer
	wg      sync.WaitGroup
}

// NewTracker создает Tracker поверх хранилища.
func NewTracker(store ports.MessageStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		config:  DefaultConfig(),
		seen:    cache.NewTTLSet(),
		jitter:  Jitter,
		now:     time.Now,
		log:     slog.Default(),
		pending: make(map[uint64]*time.Timer),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.config.ReadDelayMax < t.config.ReadDelayMin {
		t.config.ReadDelayMax = t.config.ReadDelayMin
	}
	return t
}

// Jitter возвращает случайную длительность в [min, max].
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// StartCleanup периодически вычищает просроченные ключи дедупликации.
func (t *Tracker) StartCleanup(ctx context.Context) {
	t.seen.StartCleanupTicker(ctx, t.config.DedupeTTL)
}

// MarkSent синхронно переводит сообщение в SENT.
func (t *Tracker) MarkSent(ctx context.Context, channelID, messageID string) {
	t.advance(ctx, channelID, messageID, domain.StatusSent)
}

// ScheduleDelivered переводит сообщение в DELIVERED через DeliveredDelay.
func (t *Tracker) ScheduleDelivered(channelID, messageID string) bool {
	return t.schedule(t.config.DeliveredDelay, func(ctx context.Context) {
		t.advance(ctx, channelID, messageID, domain.StatusDelivered)
	})
}

// Observe планирует отметки о прочтении для чужих непрочитанных сообщений снимка.
// Для каждой тройки (канал, сообщение, зритель) отметка планируется не больше одного раза.
func (t *Tracker) Observe(channelID, viewerID string, snapshot []domain.Message) int {
	if viewerID == "" {
		return 0
	}

	scheduled := 0
	for _, m := range snapshot {
		if m.SenderID == viewerID || m.Status == domain.StatusRead || m.HasReadBy(viewerID) {
			continue
		}
		key := cache.Key(channelID, m.ID, viewerID)
		if !t.seen.Mark(key, t.config.DedupeTTL) {
			continue
		}

		messageID := m.ID
		ok := t.schedule(t.jitter(t.config.ReadDelayMin, t.config.ReadDelayMax), func(ctx context.Context) {
			if err := t.MarkRead(ctx, channelID, messageID, viewerID); err != nil {
				t.log.WarnContext(ctx, "Scheduled read mark failed", "channel_id", channelID, "message_id", messageID, "viewer_id", viewerID, "error", err)
			}
		})
		if !ok {
			t.seen.Forget(key)
			continue
		}
		scheduled++
	}

	if scheduled > 0 {
		t.log.Debug("Read marks scheduled", "channel_id", channelID, "viewer_id", viewerID, "count", scheduled)
	}
	return scheduled
}

// MarkRead добавляет userID в ReadBy и переводит сообщение в READ.
// Повторный вызов и чтение собственного сообщения ничего не меняют.
func (t *Tracker) MarkRead(ctx context.Context, channelID, messageID, userID string) error {
	msg, err := t.store.Get(ctx, channelID, messageID)
	if err != nil {
		metrics.StatusFailures.WithLabelValues(string(domain.StatusRead)).Inc()
		return err
	}
	if msg.SenderID == userID || msg.HasReadBy(userID) {
		return nil
	}

	if err := t.store.Patch(ctx, channelID, messageID, domain.ReadPatch(userID, t.now().UnixMilli())); err != nil {
		metrics.StatusFailures.WithLabelValues(string(domain.StatusRead)).Inc()
		return err
	}
	metrics.StatusTransitions.WithLabelValues(string(domain.StatusRead)).Inc()
	t.log.DebugContext(ctx, "Message marked as read", "channel_id", channelID, "message_id", messageID, "user_id", userID)
	return nil
}

// Close перестает принимать новые таймеры и ждет срабатывания запланированных.
// Таймеры, не сработавшие до отмены ctx, останавливаются.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	t.mu.Lock()
	stopped := 0
	for id, timer := range t.pending {
		if timer.Stop() {
			delete(t.pending, id)
			t.wg.Done()
			stopped++
		}
	}
	t.mu.Unlock()

	if stopped > 0 {
		t.log.Warn("Pending status timers dropped on shutdown", "count", stopped)
	}
	<-done
}

// Pending возвращает число запланированных, но еще не сработавших таймеров.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) advance(ctx context.Context, channelID, messageID string, next domain.Status) {
	if err := t.store.Patch(ctx, channelID, messageID, domain.StatusPatch(next)); err != nil {
		metrics.StatusFailures.WithLabelValues(string(next)).Inc()
		t.log.ErrorContext(ctx, "Status transition failed", "channel_id", channelID, "message_id", messageID, "status", next, "error", err)
		return
	}
	metrics.StatusTransitions.WithLabelValues(string(next)).Inc()
}

func (t *Tracker) schedule(delay time.Duration, fn func(ctx context.Context)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}

	id := t.nextID
	t.nextID++
	t.wg.Add(1)
	t.pending[id] = time.AfterFunc(delay, func() {
		t.mu.Lock()
		_, live := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if !live {
			return
		}
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.config.OperationTimeout)
		defer cancel()
		fn(ctx)
	})
	return true
}

// Package notify рассылает push-уведомления о новых сообщениях.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chat-core/internal/core/channel"
	"chat-core/internal/domain"
	"chat-core/internal/metrics"
	"chat-core/internal/ports"
)

// Summary возвращает текст уведомления: текст сообщения или описание его типа.
func Summary(msg domain.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	switch msg.Kind {
	case domain.KindImage:
		return "Imagem"
	case domain.KindVideo:
		return "Vídeo"
	case domain.KindAudio:
		return "Áudio"
	case domain.KindFile:
		return "Arquivo"
	case domain.KindEmoji:
		return "Emoji"
	case domain.KindSticker:
		return "Sticker"
	default:
		return "Mensagem"
	}
}

// Option — функциональная опция для Dispatcher.
type Option func(*Dispatcher)

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithDirectory подключает справочник участников.
func WithDirectory(dir ports.Directory) Option {
	return func(d *Dispatcher) {
		d.directory = dir
	}
}

// WithResolver задает классификатор каналов.
func WithResolver(r *channel.Resolver) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.resolver = r
		}
	}
}

// WithTimeout ограничивает время одной асинхронной рассылки.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// Dispatcher выбирает адресата уведомления по типу канала.
type Dispatcher struct {
	notifier  ports.Notifier
	directory ports.Directory
	resolver  *channel.Resolver
	timeout   time.Duration
	log       *slog.Logger
	wg        sync.WaitGroup
}

// NewDispatcher создает Dispatcher.
func NewDispatcher(notifier ports.Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		timeout:  10 * time.Second,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.resolver == nil {
		d.resolver = channel.NewResolver(d.directory, d.log)
	}
	return d
}

// Dispatch запускает рассылку в фоне. Ошибки только логируются.
func (d *Dispatcher) Dispatch(channelID string, msg domain.Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.Deliver(ctx, channelID, msg); err != nil {
			d.log.Warn("Notification failed", "channel_id", channelID, "message_id", msg.ID, "error", err)
		}
	}()
}

// Wait ждет завершения фоновых рассылок.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver синхронно отправляет уведомление о сообщении.
func (d *Dispatcher) Deliver(ctx context.Context, channelID string, msg domain.Message) error {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	summary := Summary(msg)

	if d.resolver.Kind(ctx, channelID) == domain.ChannelGroup {
		return d.deliverGroup(ctx, channelID, msg.SenderID, sender, summary)
	}
	return d.deliverPrivate(ctx, channelID, msg.SenderID, sender, summary)
}

func (d *Dispatcher) deliverGroup(ctx context.Context, channelID, senderID, sender, summary string) error {
	if d.directory != nil {
		participants, err := d.directory.ListParticipants(ctx, channelID)
		if err != nil {
			d.log.WarnContext(ctx, "Participant lookup failed, publishing anyway", "channel_id", channelID, "error", err)
		} else if !hasOther(participants, senderID) {
			metrics.Notifications.WithLabelValues("group", "skipped").Inc()
			d.log.DebugContext(ctx, "No other participants, group notification skipped", "channel_id", channelID)
			return nil
		}
	}

	err := d.notifier.Publish(ctx, channel.Topic(channelID), "New message in "+channelID, sender+": "+summary)
	record("group", err)
	return err
}

func (d *Dispatcher) deliverPrivate(ctx context.Context, channelID, senderID, sender, summary string) error {
	recipient, ok := channel.OtherParticipant(channelID, senderID)
	if !ok && d.directory != nil {
		participants, err := d.directory.ListParticipants(ctx, channelID)
		if err == nil {
			recipient, ok = other(participants, senderID)
		}
	}
	if !ok {
		metrics.Notifications.WithLabelValues("private", "skipped").Inc()
		d.log.WarnContext(ctx, "Private channel without a recipient", "channel_id", channelID, "sender_id", senderID)
		return nil
	}

	err := d.notifier.NotifyUser(ctx, recipient, sender, summary)
	record("private", err)
	return err
}

func record(target string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Notifications.WithLabelValues(target, result).Inc()
}

func hasOther(participants []string, selfID string) bool {
	_, ok := other(participants, selfID)
	return ok
}

func other(participants []string, selfID string) (string, bool) {
	for _, p := range participants {
		if p != "" && p != selfID {
			return p, true
		}
	}
	return "", false
}

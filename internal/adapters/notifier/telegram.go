package notifier

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram доставляет уведомления через Telegram-бота. Пользователи и топики
// сопоставляются с ID чатов Telegram; получатели без сопоставления пропускаются.
type Telegram struct {
	api    chatSender
	users  map[string]int64
	topics map[string]int64
	log    *slog.Logger
}

// NewTelegram авторизует бота по токену.
func NewTelegram(token string, users, topics map[string]int64, logger *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Authorized on account", slog.String("username", api.Self.UserName))
	return newTelegram(api, users, topics, logger), nil
}

func newTelegram(api chatSender, users, topics map[string]int64, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{api: api, users: users, topics: topics, log: logger}
}

// Publish отправляет уведомление в чат, сопоставленный с топиком.
func (t *Telegram) Publish(ctx context.Context, topic, title, body string) error {
	chatID, ok := t.topics[topic]
	if !ok {
		t.log.DebugContext(ctx, "No Telegram chat for topic", "topic", topic)
		return nil
	}
	return t.send(chatID, title, body)
}

// NotifyUser отправляет уведомление пользователю.
func (t *Telegram) NotifyUser(ctx context.Context, userID, title, body string) error {
	chatID, ok := t.users[userID]
	if !ok {
		t.log.DebugContext(ctx, "No Telegram chat for user", "user_id", userID)
		return nil
	}
	return t.send(chatID, title, body)
}

func (t *Telegram) send(chatID int64, title, body string) error {
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(body)))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message to %d: %w", chatID, err)
	}
	return nil
}

package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// BotAPILogger отдает сообщения go-telegram-bot-api в slog.
// Подключается через tgbotapi.SetLogger.
type BotAPILogger struct {
	Logger *slog.Logger
}

// Println реализует tgbotapi.BotLogger.
func (a *BotAPILogger) Println(v ...interface{}) {
	a.Logger.Debug(strings.TrimSpace(fmt.Sprintln(v...)), "component", "telegram")
}

// Printf реализует tgbotapi.BotLogger.
func (a *BotAPILogger) Printf(format string, v ...interface{}) {
	a.Logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "telegram")
}

// Package log содержит настройку slog для сервиса: выбор формата и уровня
// и обработчик, скрывающий секреты в сообщениях и атрибутах.
package log

import (
	"context"
	"io"
	"log/slog"
	"regexp"
)

// TokenMaskerHandler оборачивает slog.Handler и маскирует секреты:
// токены ботов, JWT, Bearer-заголовки, access_token в URL и пароли в строках подключения.
type TokenMaskerHandler struct {
	handler slog.Handler
}

// NewTokenMaskerHandler создает обработчик с маскировкой.
func NewTokenMaskerHandler(handler slog.Handler) *TokenMaskerHandler {
	return &TokenMaskerHandler{handler: handler}
}

type maskRule struct {
	re   *regexp.Regexp
	repl string
}

// Порядок важен: Bearer и access_token раньше голого JWT.
var maskRules = []maskRule{
	{regexp.MustCompile(`\bbot\d+:[A-Za-z0-9_-]{35,}`), "bot***:***masked-token***"},
	{regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer ***masked-token***"},
	{regexp.MustCompile(`\baccess_token=[^&\s"]+`), "access_token=***masked-token***"},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "***masked-jwt***"},
	{regexp.MustCompile(`\b((?:mongodb(?:\+srv)?|redis|rediss)://[^:/@\s]+):[^@\s]+@`), "$1:***@"},
}

func maskTokens(text string) string {
	for _, r := range maskRules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}

// Enabled реализует интерфейс slog.Handler
func (h *TokenMaskerHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle реализует интерфейс slog.Handler
func (h *TokenMaskerHandler) Handle(ctx context.Context, record slog.Record) error {
	// Новая запись: slog может переиспользовать исходную.
	r := slog.NewRecord(record.Time, record.Level, maskTokens(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		r.AddAttrs(maskAttr(a))
		return true
	})
	return h.handler.Handle(ctx, r)
}

// WithAttrs реализует интерфейс slog.Handler
func (h *TokenMaskerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		masked[i] = maskAttr(a)
	}
	return &TokenMaskerHandler{handler: h.handler.WithAttrs(masked)}
}

// WithGroup реализует интерфейс slog.Handler
func (h *TokenMaskerHandler) WithGroup(name string) slog.Handler {
	return &TokenMaskerHandler{handler: h.handler.WithGroup(name)}
}

func maskAttr(a slog.Attr) slog.Attr {
	return slog.Attr{Key: a.Key, Value: maskAttributeValue(a.Value)}
}

// maskAttributeValue рекурсивно маскирует значения атрибутов
func maskAttributeValue(value slog.Value) slog.Value {
	switch value.Kind() {
	case slog.KindString:
		return slog.StringValue(maskTokens(value.String()))
	case slog.KindAny:
		// ошибки часто несут URL с токеном
		if err, ok := value.Any().(error); ok {
			return slog.StringValue(maskTokens(err.Error()))
		}
		return value
	case slog.KindLogValuer:
		return maskAttributeValue(value.Resolve())
	case slog.KindGroup:
		group := value.Group()
		masked := make([]slog.Attr, len(group))
		for i, a := range group {
			masked[i] = maskAttr(a)
		}
		return slog.GroupValue(masked...)
	default:
		return value
	}
}

// ParseLevel переводит уровень из конфигурации в slog.Level. Неизвестное значение дает info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New создает логгер сервиса с маскировкой. format: text или json.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewTokenMaskerHandler(h))
}

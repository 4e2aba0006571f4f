// Package search фильтрует снимок канала по строке запроса.
package search

import (
	"strings"

	"golang.org/x/text/cases"

	"chat-core/internal/domain"
)

// Labels — локализованные названия типов сообщений, по которым ищутся нетекстовые сообщения.
type Labels map[domain.Kind][]string

// DefaultLabels возвращает названия на португальском и английском.
func DefaultLabels() Labels {
	return Labels{
		domain.KindAudio:   {"áudio", "audio"},
		domain.KindVideo:   {"vídeo", "video"},
		domain.KindFile:    {"arquivo", "file"},
		domain.KindSticker: {"sticker"},
		domain.KindEmoji:   {"emoji"},
		domain.KindImage:   {"imagem", "image"},
	}
}

// Filter — чистая функция фильтрации с настраиваемыми названиями типов.
type Filter struct {
	labels Labels
}

// NewFilter создает Filter. labels накладываются на DefaultLabels по типам:
// заданный тип получает только свои названия, остальные типы сохраняют названия по умолчанию.
func NewFilter(labels Labels) *Filter {
	merged := DefaultLabels()
	for kind, names := range labels {
		merged[kind] = names
	}
	return &Filter{labels: merged}
}

// Apply возвращает подпоследовательность messages, подходящую под query, в исходном порядке.
// Пустой после обрезки пробелов запрос возвращает messages без изменений.
func (f *Filter) Apply(messages []domain.Message, query string) []domain.Message {
	query = strings.TrimSpace(query)
	if query == "" {
		return messages
	}

	// Caser хранит состояние, поэтому свой на каждый вызов.
	fold := cases.Fold()
	q := fold.String(query)
	contains := func(s string) bool {
		return s != "" && strings.Contains(fold.String(s), q)
	}

	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if f.matches(m, contains) {
			out = append(out, m)
		}
	}
	return out
}

func (f *Filter) matches(m domain.Message, contains func(string) bool) bool {
	if contains(m.Text) || contains(m.SenderName) || contains(m.FileName) {
		return true
	}
	for _, label := range f.labels[m.Kind] {
		if contains(label) {
			return true
		}
	}

	// Сообщения только с визуальным содержимым всегда попадают в выдачу.
	switch m.Kind {
	case domain.KindSticker:
		return m.ImageURL != ""
	case domain.KindEmoji:
		return m.Text != ""
	}
	return false
}

// Messages фильтрует с названиями по умолчанию.
func Messages(messages []domain.Message, query string) []domain.Message {
	return NewFilter(nil).Apply(messages, query)
}

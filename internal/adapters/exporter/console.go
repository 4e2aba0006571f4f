package exporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"chat-core/internal/core/notify"
	"chat-core/internal/domain"
)

const maxSenderWidth = 16

// ConsoleExporter печатает сообщения канала в терминал.
type ConsoleExporter struct {
	w     io.Writer
	width int
	loc   *time.Location
}

// NewConsoleExporter создает экспортер. width задает ширину терминала, 0 отключает обрезку строк.
func NewConsoleExporter(w io.Writer, width int) *ConsoleExporter {
	return &ConsoleExporter{w: w, width: width, loc: time.Local}
}

// Export печатает закрепленное сообщение (если есть) и список сообщений.
func (e *ConsoleExporter) Export(messages []domain.Message, pinned *domain.Message) error {
	if pinned != nil {
		if _, err := fmt.Fprintln(e.w, e.fit("📌 "+senderOf(*pinned)+": "+notify.Summary(*pinned))); err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		_, err := fmt.Fprintln(e.w, "No messages.")
		return err
	}

	col := 0
	for _, m := range messages {
		col = max(col, runewidth.StringWidth(senderOf(m)))
	}
	col = min(col, maxSenderWidth)

	for _, m := range messages {
		if _, err := fmt.Fprintln(e.w, e.Line(m, col)); err != nil {
			return err
		}
	}
	return nil
}

// Line форматирует одно сообщение: время, отправитель, содержимое и отметку статуса.
// senderWidth <= 0 печатает имя отправителя без выравнивания.
func (e *ConsoleExporter) Line(m domain.Message, senderWidth int) string {
	ts := time.UnixMilli(m.CreatedAt).In(e.loc).Format("15:04")
	sender := senderOf(m)
	if senderWidth > 0 {
		sender = runewidth.FillRight(runewidth.Truncate(sender, senderWidth, "…"), senderWidth)
	}
	return e.fit(fmt.Sprintf("[%s] %s │ %s %s", ts, sender, body(m), statusMark(m.Status)))
}

func (e *ConsoleExporter) fit(line string) string {
	if e.width <= 0 {
		return line
	}
	return runewidth.Truncate(line, e.width, "…")
}

func senderOf(m domain.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

func body(m domain.Message) string {
	text := notify.Summary(m)
	switch m.Kind {
	case domain.KindFile:
		if m.FileName != "" {
			text += " " + m.FileName
		}
	case domain.KindAudio:
		if m.AudioDuration > 0 {
			text += fmt.Sprintf(" %ds", m.AudioDuration/1000)
		}
	}
	return strings.ReplaceAll(text, "\n", " ")
}

func statusMark(s domain.Status) string {
	switch s {
	case domain.StatusSending:
		return "…"
	case domain.StatusSent:
		return "✓"
	case domain.StatusDelivered:
		return "✓✓"
	case domain.StatusRead:
		return "✓✓ read"
	}
	return ""
}

package domain

import (
	"sort"
	"strings"
)

// Kind — тип содержимого сообщения. Закрытое множество значений;
// нераспознанные строки из хранилища отображаются в KindUnsupported.
type Kind string

const (
	KindText        Kind = "TEXT"
	KindImage       Kind = "IMAGE"
	KindVideo       Kind = "VIDEO"
	KindAudio       Kind = "AUDIO"
	KindFile        Kind = "FILE"
	KindEmoji       Kind = "EMOJI"
	KindSticker     Kind = "STICKER"
	KindUnsupported Kind = "UNSUPPORTED"
)

// ParseKind разбирает строковое представление типа сообщения.
// Пустая строка трактуется как TEXT, неизвестное значение как UNSUPPORTED.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindText, KindImage, KindVideo, KindAudio, KindFile, KindEmoji, KindSticker:
		return k
	case "":
		return KindText
	default:
		return KindUnsupported
	}
}

// IsMedia сообщает, требует ли тип загрузки файла в BlobStore.
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

// Status — прогресс доставки сообщения.
type Status string

const (
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

// ParseStatus разбирает статус из хранилища. Сообщения без статуса
// (старые записи) считаются доставленными.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusSending, StatusSent, StatusDelivered, StatusRead:
		return st
	default:
		return StatusDelivered
	}
}

func (s Status) rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// Before сообщает, предшествует ли s статусу other в цепочке SENDING→SENT→DELIVERED→READ.
func (s Status) Before(other Status) bool {
	return s.rank() < other.rank()
}

// Advance возвращает статус, который получится после попытки перехода в next.
// Статус никогда не откатывается назад.
func (s Status) Advance(next Status) Status {
	if s.Before(next) {
		return next
	}
	return s
}

// Message — одно сообщение канала: неизменяемое содержимое и изменяемые метаданные доставки.
type Message struct {
	ID              string `json:"id" db:"id"`
	ChannelID       string `json:"channel_id" db:"channel_id"`
	SenderID        string `json:"sender_id" db:"sender_id"`
	SenderName      string `json:"sender_name" db:"sender_name"`
	SenderAvatarURL string `json:"sender_avatar_url,omitempty" db:"sender_avatar_url"`
	CreatedAt       int64  `json:"created_at" db:"created_at"`
	Kind            Kind   `json:"kind" db:"kind"`

	Text          string `json:"text,omitempty" db:"text"`
	ImageURL      string `json:"image_url,omitempty" db:"image_url"`
	VideoURL      string `json:"video_url,omitempty" db:"video_url"`
	AudioURL      string `json:"audio_url,omitempty" db:"audio_url"`
	AudioDuration int64  `json:"audio_duration,omitempty" db:"audio_duration"`
	FileURL       string `json:"file_url,omitempty" db:"file_url"`
	FileName      string `json:"file_name,omitempty" db:"file_name"`
	FileSize      int64  `json:"file_size,omitempty" db:"file_size"`
	MimeType      string `json:"mime_type,omitempty" db:"mime_type"`

	Status   Status           `json:"status" db:"status"`
	ReadBy   map[string]int64 `json:"read_by,omitempty" db:"-"`
	IsPinned bool             `json:"is_pinned" db:"is_pinned"`
	PinnedAt int64            `json:"pinned_at,omitempty" db:"pinned_at"`
	PinnedBy string           `json:"pinned_by,omitempty" db:"pinned_by"`
}

// HasReadBy сообщает, отмечал ли пользователь сообщение прочитанным.
func (m Message) HasReadBy(userID string) bool {
	_, ok := m.ReadBy[userID]
	return ok
}

// Clone возвращает копию сообщения, не разделяющую карту ReadBy с оригиналом.
func (m Message) Clone() Message {
	if m.ReadBy != nil {
		readBy := make(map[string]int64, len(m.ReadBy))
		for k, v := range m.ReadBy {
			readBy[k] = v
		}
		m.ReadBy = readBy
	}
	return m
}

// Normalize приводит сообщение, прочитанное из внешнего хранилища, к каноническому виду.
func (m Message) Normalize() Message {
	m.Kind = ParseKind(string(m.Kind))
	m.Status = ParseStatus(string(m.Status))
	if !m.IsPinned {
		m.PinnedAt = 0
		m.PinnedBy = ""
	}
	return m
}

// Apply применяет патч к сообщению и сообщает, изменилось ли что-нибудь.
// Статус только продвигается вперед, записи ReadBy только добавляются.
func (m *Message) Apply(p Patch) bool {
	changed := false

	if p.Status != nil {
		next := m.Status.Advance(*p.Status)
		if next != m.Status {
			m.Status = next
			changed = true
		}
	}

	for userID, at := range p.ReadBy {
		if m.HasReadBy(userID) {
			continue
		}
		if m.ReadBy == nil {
			m.ReadBy = make(map[string]int64)
		}
		m.ReadBy[userID] = at
		changed = true
	}

	if p.Pin != nil {
		pin := *p.Pin
		if !pin.Pinned {
			pin = PinState{}
		}
		if m.IsPinned != pin.Pinned || m.PinnedAt != pin.At || m.PinnedBy != pin.By {
			m.IsPinned = pin.Pinned
			m.PinnedAt = pin.At
			m.PinnedBy = pin.By
			changed = true
		}
	}

	return changed
}

// PinState — значения трех полей закрепления, которые всегда меняются вместе.
type PinState struct {
	Pinned bool
	At     int64
	By     string
}

// Patch — частичное обновление полей доставки одного сообщения.
type Patch struct {
	Status *Status
	ReadBy map[string]int64
	Pin    *PinState
}

// StatusPatch создает патч, продвигающий статус.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

// ReadPatch создает патч отметки о прочтении пользователем.
func ReadPatch(userID string, at int64) Patch {
	read := StatusRead
	return Patch{
		Status: &read,
		ReadBy: map[string]int64{userID: at},
	}
}

// PinPatch создает патч закрепления сообщения.
func PinPatch(byUserID string, at int64) Patch {
	return Patch{Pin: &PinState{Pinned: true, At: at, By: byUserID}}
}

// UnpinPatch создает патч, снимающий закрепление.
func UnpinPatch() Patch {
	return Patch{Pin: &PinState{}}
}

// SortMessages упорядочивает сообщения канала: CreatedAt по возрастанию, ID при равенстве.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt != messages[j].CreatedAt {
			return messages[i].CreatedAt < messages[j].CreatedAt
		}
		return messages[i].ID < messages[j].ID
	})
}

// User — снимок личности пользователя.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Upload — результат загрузки медиафайла во внешнее хранилище.
type Upload struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

// ChannelKind различает личные и групповые каналы.
type ChannelKind string

const (
	ChannelPrivate ChannelKind = "private"
	ChannelGroup   ChannelKind = "group"
)

// Summary — запись о последнем сообщении канала для списков чатов.
type Summary struct {
	ChannelID     string      `json:"channel_id"`
	Kind          ChannelKind `json:"kind"`
	LastMessage   string      `json:"last_message"`
	LastSender    string      `json:"last_sender,omitempty"`
	LastMessageAt int64       `json:"last_message_at"`
}

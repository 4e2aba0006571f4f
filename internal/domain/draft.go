package domain

import (
	"fmt"
	"strings"
)

// Draft — запрос на отправку сообщения до того, как оно попало в хранилище.
// Для медиатипов содержимое передается в Data и загружается в BlobStore.
type Draft struct {
	Kind          Kind
	Text          string
	ImageURL      string
	Data          []byte
	FileName      string
	AudioDuration int64
}

// Validate проверяет, что черновик несет ровно то содержимое, которое требует его тип.
func (d Draft) Validate() error {
	switch d.Kind {
	case KindText, KindEmoji:
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("%w: %s requires text", ErrInvalidMessage, d.Kind)
		}
	case KindSticker:
		if d.ImageURL == "" {
			return fmt.Errorf("%w: sticker requires image url", ErrInvalidMessage)
		}
	case KindImage:
		if d.ImageURL == "" && len(d.Data) == 0 {
			return fmt.Errorf("%w: image requires data or url", ErrInvalidMessage)
		}
	case KindVideo, KindAudio, KindFile:
		if len(d.Data) == 0 {
			return fmt.Errorf("%w: %s requires data", ErrInvalidMessage, d.Kind)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidMessage, d.Kind)
	}
	return nil
}

// NeedsUpload сообщает, нужно ли загружать содержимое черновика перед отправкой.
func (d Draft) NeedsUpload() bool {
	return d.Kind.IsMedia() && len(d.Data) > 0
}

// Message строит сообщение из черновика и результата загрузки (если он был).
func (d Draft) Message(sender User, upload *Upload) Message {
	m := Message{
		SenderID:        sender.ID,
		SenderName:      sender.DisplayName,
		SenderAvatarURL: sender.AvatarURL,
		Kind:            d.Kind,
		Status:          StatusSending,
	}

	switch d.Kind {
	case KindText, KindEmoji:
		m.Text = d.Text
	case KindSticker:
		m.ImageURL = d.ImageURL
	case KindImage:
		m.ImageURL = d.ImageURL
		if upload != nil {
			m.ImageURL = upload.URL
		}
	case KindVideo:
		if upload != nil {
			m.VideoURL = upload.URL
		}
	case KindAudio:
		m.AudioDuration = d.AudioDuration
		if upload != nil {
			m.AudioURL = upload.URL
		}
	case KindFile:
		if upload != nil {
			m.FileURL = upload.URL
			m.FileName = upload.FileName
			m.FileSize = upload.FileSize
		}
	}

	if upload != nil {
		m.MimeType = upload.MimeType
		if m.FileName == "" && d.Kind == KindFile {
			m.FileName = d.FileName
		}
	}

	return m
}

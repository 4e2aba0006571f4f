// Package channel выводит идентификаторы каналов и определяет их тип.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chat-core/internal/domain"
)

// Separator разделяет идентификаторы участников в ID личного канала.
const Separator = "_"

// TopicPrefix — префикс топика уведомлений группового канала.
const TopicPrefix = "group_"

// KindSource — явный источник типа канала (обычно справочник групп).
type KindSource interface {
	ChannelKind(ctx context.Context, channelID string) (domain.ChannelKind, bool, error)
}

// Resolve строит ID личного канала из двух участников. Результат не зависит от порядка аргументов.
func Resolve(selfID, otherID string) (string, error) {
	for _, id := range []string{selfID, otherID} {
		if id == "" || strings.Contains(id, Separator) {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidParticipant, id)
		}
	}
	if selfID == otherID {
		return "", fmt.Errorf("%w: participants must differ", domain.ErrInvalidParticipant)
	}
	if otherID < selfID {
		selfID, otherID = otherID, selfID
	}
	return selfID + Separator + otherID, nil
}

// Classify определяет тип канала по форме идентификатора: личный канал
// делится разделителем ровно на две непустые части.
// Групповой ID вида "x_y" будет ошибочно принят за личный; если справочник
// знает тип канала, следует использовать Resolver.Kind.
func Classify(channelID string) domain.ChannelKind {
	if _, _, ok := split(channelID); ok {
		return domain.ChannelPrivate
	}
	return domain.ChannelGroup
}

// OtherParticipant возвращает второго участника личного канала.
func OtherParticipant(channelID, selfID string) (string, bool) {
	a, b, ok := split(channelID)
	if !ok {
		return "", false
	}
	switch selfID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// Participants возвращает обоих участников личного канала.
func Participants(channelID string) ([]string, bool) {
	a, b, ok := split(channelID)
	if !ok {
		return nil, false
	}
	return []string{a, b}, true
}

// Topic возвращает топик уведомлений для группового канала.
func Topic(channelID string) string {
	return TopicPrefix + channelID
}

func split(channelID string) (string, string, bool) {
	parts := strings.Split(channelID, Separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Resolver определяет тип канала, предпочитая явный тег из справочника
// и используя эвристику по форме ID только как запасной вариант.
type Resolver struct {
	source KindSource
	log    *slog.Logger
}

// NewResolver создает Resolver. source может быть nil.
func NewResolver(source KindSource, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{source: source, log: log}
}

// Kind возвращает тип канала.
func (r *Resolver) Kind(ctx context.Context, channelID string) domain.ChannelKind {
	if r != nil && r.source != nil {
		kind, ok, err := r.source.ChannelKind(ctx, channelID)
		if err != nil {
			r.log.WarnContext(ctx, "Channel kind lookup failed, falling back to id shape", "channel_id", channelID, "error", err)
		} else if ok {
			return kind
		}
	}
	return Classify(channelID)
}

package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"chat-core/internal/domain"
)

// Redis хранит справочник в Redis:
//   - <prefix>channel:<id>:participants: множество ID участников;
//   - <prefix>channel:<id>:kind: явный тип канала;
//   - <prefix>channel:<id>:summary: хеш с последним сообщением.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis создает справочник поверх клиента Redis.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(channelID, suffix string) string {
	return fmt.Sprintf("%schannel:%s:%s", r.prefix, channelID, suffix)
}

// ListParticipants возвращает отсортированный список участников канала.
func (r *Redis) ListParticipants(ctx context.Context, channelID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key(channelID, "participants")).Result()
	if err != nil {
		return nil, fmt.Errorf("listing participants of %s: %w", channelID, err)
	}
	sort.Strings(members)
	return members, nil
}

// Join добавляет участника в канал.
func (r *Redis) Join(ctx context.Context, channelID, userID string) error {
	if err := r.client.SAdd(ctx, r.key(channelID, "participants"), userID).Err(); err != nil {
		return fmt.Errorf("joining %s to %s: %w", userID, channelID, err)
	}
	return nil
}

// SetKind явно помечает тип канала.
func (r *Redis) SetKind(ctx context.Context, channelID string, kind domain.ChannelKind) error {
	if err := r.client.Set(ctx, r.key(channelID, "kind"), string(kind), 0).Err(); err != nil {
		return fmt.Errorf("setting kind of %s: %w", channelID, err)
	}
	return nil
}

// ChannelKind возвращает явный тип канала, если он задан.
func (r *Redis) ChannelKind(ctx context.Context, channelID string) (domain.ChannelKind, bool, error) {
	val, err := r.client.Get(ctx, r.key(channelID, "kind")).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting kind of %s: %w", channelID, err)
	}
	switch kind := domain.ChannelKind(val); kind {
	case domain.ChannelPrivate, domain.ChannelGroup:
		return kind, true, nil
	default:
		return "", false, nil
	}
}

// SaveSummary сохраняет запись о последнем сообщении.
func (r *Redis) SaveSummary(ctx context.Context, s domain.Summary) error {
	err := r.client.HSet(ctx, r.key(s.ChannelID, "summary"),
		"kind", string(s.Kind),
		"last_message", s.LastMessage,
		"last_sender", s.LastSender,
		"last_message_at", s.LastMessageAt,
	).Err()
	if err != nil {
		return fmt.Errorf("saving summary of %s: %w", s.ChannelID, err)
	}
	return nil
}

// Summary возвращает запись о последнем сообщении канала.
func (r *Redis) Summary(ctx context.Context, channelID string) (domain.Summary, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.key(channelID, "summary")).Result()
	if err != nil {
		return domain.Summary{}, false, fmt.Errorf("getting summary of %s: %w", channelID, err)
	}
	if len(fields) == 0 {
		return domain.Summary{}, false, nil
	}
	at, _ := strconv.ParseInt(fields["last_message_at"], 10, 64)
	return domain.Summary{
		ChannelID:     channelID,
		Kind:          domain.ChannelKind(fields["kind"]),
		LastMessage:   fields["last_message"],
		LastSender:    fields["last_sender"],
		LastMessageAt: at,
	}, true, nil
}

package directory

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/domain"
	"chat-core/internal/ports"
)

type summaryReader interface {
	Summary(ctx context.Context, channelID string) (domain.Summary, bool, error)
	SetKind(ctx context.Context, channelID string, kind domain.ChannelKind) error
}

func exerciseDirectory(t *testing.T, dir ports.Directory, extra summaryReader, channelID string) {
	ctx := context.Background()

	participants, err := dir.ListParticipants(ctx, channelID)
	require.NoError(t, err)
	assert.Empty(t, participants)

	require.NoError(t, dir.Join(ctx, channelID, "u2"))
	require.NoError(t, dir.Join(ctx, channelID, "u1"))
	require.NoError(t, dir.Join(ctx, channelID, "u2"))

	participants, err = dir.ListParticipants(ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, participants)

	_, ok, err := dir.ChannelKind(ctx, channelID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, extra.SetKind(ctx, channelID, domain.ChannelGroup))
	kind, ok, err := dir.ChannelKind(ctx, channelID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ChannelGroup, kind)

	summary := domain.Summary{ChannelID: channelID, Kind: domain.ChannelGroup, LastMessage: "Áudio", LastSender: "Ana", LastMessageAt: 99}
	require.NoError(t, dir.SaveSummary(ctx, summary))
	got, ok, err := extra.Summary(ctx, channelID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, summary, got)
}

func TestMemory(t *testing.T) {
	dir := NewMemory()
	exerciseDirectory(t, dir, dir, "team_alpha")
}

// Требует живой Redis: CHAT_TEST_REDIS_ADDR=localhost:6379.
func TestRedis(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS_ADDR is not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	prefix := "chat:test:" + t.Name() + ":"
	ctx := context.Background()
	keys, err := client.Keys(ctx, prefix+"*").Result()
	require.NoError(t, err)
	if len(keys) > 0 {
		require.NoError(t, client.Del(ctx, keys...).Err())
	}

	dir := NewRedis(client, prefix)
	exerciseDirectory(t, dir, dir, "team_alpha")
}

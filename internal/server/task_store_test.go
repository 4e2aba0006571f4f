package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/domain"
)

func TestTaskStore(t *testing.T) {
	t.Run("create and get", func(t *testing.T) {
		ts := NewTaskStore()
		ts.CreateTask("task-1", "u1", "u1_u2", 5*time.Minute)

		task, err := ts.GetTask("task-1", "u1")
		require.NoError(t, err)
		assert.Equal(t, "task-1", task.ID)
		assert.Equal(t, "u1_u2", task.ChannelID)
		assert.Equal(t, TaskStatusPending, task.Status)
	})

	t.Run("чужая задача не видна", func(t *testing.T) {
		ts := NewTaskStore()
		ts.CreateTask("task-1", "u1", "u1_u2", 5*time.Minute)

		_, err := ts.GetTask("task-1", "u2")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("complete and fail", func(t *testing.T) {
		ts := NewTaskStore()
		ts.CreateTask("ok", "u1", "c", time.Minute)
		ts.CreateTask("bad", "u1", "c", time.Minute)

		require.NoError(t, ts.UpdateTaskStatus("ok", TaskStatusUploading))
		require.NoError(t, ts.CompleteTask("ok", domain.Message{ID: "m1"}))
		require.NoError(t, ts.FailTask("bad", "media upload failed"))

		ok, err := ts.GetTask("ok", "u1")
		require.NoError(t, err)
		assert.Equal(t, TaskStatusCompleted, ok.Status)
		require.NotNil(t, ok.Message)
		assert.Equal(t, "m1", ok.Message.ID)

		bad, err := ts.GetTask("bad", "u1")
		require.NoError(t, err)
		assert.Equal(t, TaskStatusFailed, bad.Status)
		assert.Equal(t, "media upload failed", bad.ErrorMessage)
	})

	t.Run("update of missing task", func(t *testing.T) {
		ts := NewTaskStore()
		assert.ErrorIs(t, ts.UpdateTaskStatus("nope", TaskStatusUploading), domain.ErrNotFound)
		assert.ErrorIs(t, ts.CompleteTask("nope", domain.Message{}), domain.ErrNotFound)
		assert.ErrorIs(t, ts.FailTask("nope", "x"), domain.ErrNotFound)
	})

	t.Run("просроченные задачи удаляются", func(t *testing.T) {
		now := time.Unix(1000, 0)
		ts := NewTaskStore()
		ts.now = func() time.Time { return now }

		ts.CreateTask("short", "u1", "c", time.Second)
		ts.CreateTask("long", "u1", "c", time.Hour)

		now = now.Add(time.Minute)
		_, err := ts.GetTask("short", "u1")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		ts.CleanupExpired()
		assert.Equal(t, 1, ts.Len())
	})

	t.Run("cleanup ticker stops with context", func(t *testing.T) {
		ts := NewTaskStore()
		ts.CreateTask("gone", "u1", "c", time.Nanosecond)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ts.StartCleanupTicker(ctx, 5*time.Millisecond)

		assert.Eventually(t, func() bool { return ts.Len() == 0 }, time.Second, 5*time.Millisecond)
	})
}

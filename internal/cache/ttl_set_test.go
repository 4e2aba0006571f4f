package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLSet(t *testing.T) {
	t.Run("Первая отметка добавляет ключ", func(t *testing.T) {
		s := NewTTLSet()
		assert.True(t, s.Mark("k", time.Minute))
		assert.True(t, s.Has("k"))
		assert.False(t, s.Mark("k", time.Minute), "live key is not marked twice")
	})

	t.Run("Просроченный ключ можно отметить снова", func(t *testing.T) {
		s := NewTTLSet()
		current := time.Unix(100, 0)
		s.now = func() time.Time { return current }

		assert.True(t, s.Mark("k", time.Second))
		current = current.Add(2 * time.Second)
		assert.False(t, s.Has("k"))
		assert.True(t, s.Mark("k", time.Second))
	})

	t.Run("Forget removes key", func(t *testing.T) {
		s := NewTTLSet()
		s.Mark("k", time.Minute)
		s.Forget("k")
		assert.False(t, s.Has("k"))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("Очистка просроченных ключей", func(t *testing.T) {
		s := NewTTLSet()
		s.Mark("expired", -time.Minute)
		s.Mark("valid", time.Minute)

		s.CleanupExpired()

		assert.Equal(t, 1, s.Len())
		assert.True(t, s.Has("valid"))
	})

	t.Run("Составной ключ", func(t *testing.T) {
		assert.NotEqual(t, Key("a_b", "c"), Key("a", "b_c"))
		assert.Equal(t, Key("c1", "m1", "u1"), Key("c1", "m1", "u1"))
	})
}

func TestTTLSet_StartCleanupTicker(t *testing.T) {
	s := NewTTLSet()
	s.Mark("expired", -time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartCleanupTicker(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// TTLSet — множество ключей с ограниченным сроком жизни.
// Используется для дедупликации отложенных операций.
type TTLSet struct {
	items map[string]time.Time
	mutex sync.Mutex
	now   func() time.Time
}

// NewTTLSet создает новый экземпляр TTLSet
func NewTTLSet() *TTLSet {
	return &TTLSet{
		items: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Key склеивает части составного ключа.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// Mark добавляет ключ на ttl. Возвращает false, если живой ключ уже есть.
func (s *TTLSet) Mark(key string, ttl time.Duration) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	if expiresAt, exists := s.items[key]; exists && now.Before(expiresAt) {
		return false
	}
	s.items[key] = now.Add(ttl)
	return true
}

// Has сообщает, есть ли в множестве живой ключ.
func (s *TTLSet) Has(key string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	expiresAt, exists := s.items[key]
	return exists && s.now().Before(expiresAt)
}

// Forget удаляет ключ
func (s *TTLSet) Forget(key string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.items, key)
}

// Len возвращает число ключей, включая еще не вычищенные просроченные.
func (s *TTLSet) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.items)
}

// CleanupExpired удаляет просроченные ключи
func (s *TTLSet) CleanupExpired() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	for key, expiresAt := range s.items {
		if !now.Before(expiresAt) {
			delete(s.items, key)
		}
	}
}

// StartCleanupTicker запускает таймер для периодической очистки просроченных ключей
func (s *TTLSet) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired()
			}
		}
	}()
}

package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"chat-core/internal/domain"
)

// Memory хранит загруженные файлы в памяти. Для разработки и тестов.
type Memory struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
}

// NewMemory создает хранилище; URL объектов строятся от baseURL.
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "memory://blobs"
	}
	return &Memory{baseURL: baseURL, objects: make(map[string][]byte)}
}

// Upload сохраняет копию данных.
func (m *Memory) Upload(_ context.Context, data []byte, kind domain.Kind, fileName string) (domain.Upload, error) {
	if len(data) == 0 {
		return domain.Upload{}, fmt.Errorf("%w: empty payload", domain.ErrUpload)
	}
	key := objectKey(kind, fileName, uuid.NewString())

	m.mu.Lock()
	m.objects[key] = append([]byte(nil), data...)
	m.mu.Unlock()

	return domain.Upload{
		URL:      m.baseURL + "/" + key,
		FileName: displayName(fileName, key),
		FileSize: int64(len(data)),
		MimeType: DetectMimeType(fileName, data),
	}, nil
}

// Object возвращает сохраненные данные по ключу.
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

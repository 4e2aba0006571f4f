package services

import (
	"context"
	"sync"

	"chat-core/internal/domain"
	"chat-core/internal/ports"
)

// MockBlobStore - мок-реализация ports.BlobStore для тестирования
type MockBlobStore struct {
	UploadFunc func(ctx context.Context, data []byte, kind domain.Kind, fileName string) (domain.Upload, error)

	mu    sync.Mutex
	calls int
}

// Upload реализует интерфейс ports.BlobStore
func (m *MockBlobStore) Upload(ctx context.Context, data []byte, kind domain.Kind, fileName string) (domain.Upload, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, data, kind, fileName)
	}
	return domain.Upload{URL: "http://blob/" + fileName, FileName: fileName, FileSize: int64(len(data))}, nil
}

// Calls возвращает число вызовов Upload
func (m *MockBlobStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockMessageStore - мок ports.MessageStore, делегирующий вызовы во вложенное хранилище,
// если функция не задана
type MockMessageStore struct {
	ports.MessageStore
	AppendFunc func(ctx context.Context, channelID string, msg domain.Message) (domain.Message, error)
}

// Append реализует интерфейс ports.MessageStore
func (m *MockMessageStore) Append(ctx context.Context, channelID string, msg domain.Message) (domain.Message, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, channelID, msg)
	}
	return m.MessageStore.Append(ctx, channelID, msg)
}

// recordingNotifier запоминает все уведомления
type recordingNotifier struct {
	mu    sync.Mutex
	users []string
	topic []string
}

func (n *recordingNotifier) Publish(_ context.Context, topic, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topic = append(n.topic, topic+"|"+title+"|"+body)
	return nil
}

func (n *recordingNotifier) NotifyUser(_ context.Context, userID, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID+"|"+title+"|"+body)
	return nil
}

func (n *recordingNotifier) snapshot() ([]string, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.users...), append([]string(nil), n.topic...)
}

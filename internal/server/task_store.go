package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-core/internal/domain"
)

// TaskStatus — стадия фоновой загрузки медиафайла
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusUploading TaskStatus = "uploading"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task — одна загрузка медиафайла с последующей отправкой сообщения.
// Виден только владельцу.
type Task struct {
	ID           string          `json:"task_id"`
	OwnerID      string          `json:"-"`
	ChannelID    string          `json:"channel_id"`
	Status       TaskStatus      `json:"status"`
	Message      *domain.Message `json:"message,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"-"`
}

// TaskStore хранит задачи загрузки до истечения TTL
type TaskStore struct {
	tasks map[string]*Task
	mutex sync.RWMutex
	now   func() time.Time
}

// NewTaskStore создает новый экземпляр TaskStore
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// CreateTask создает задачу со статусом pending
func (ts *TaskStore) CreateTask(taskID, ownerID, channelID string, ttl time.Duration) {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	now := ts.now()
	ts.tasks[taskID] = &Task{
		ID:        taskID,
		OwnerID:   ownerID,
		ChannelID: channelID,
		Status:    TaskStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// UpdateTaskStatus обновляет статус задачи
func (ts *TaskStore) UpdateTaskStatus(taskID string, status TaskStatus) error {
	return ts.update(taskID, func(t *Task) {
		t.Status = status
	})
}

// CompleteTask сохраняет отправленное сообщение и переводит задачу в completed
func (ts *TaskStore) CompleteTask(taskID string, msg domain.Message) error {
	return ts.update(taskID, func(t *Task) {
		t.Status = TaskStatusCompleted
		t.Message = &msg
	})
}

// FailTask сохраняет причину ошибки и переводит задачу в failed
func (ts *TaskStore) FailTask(taskID string, errorMessage string) error {
	return ts.update(taskID, func(t *Task) {
		t.Status = TaskStatusFailed
		t.ErrorMessage = errorMessage
	})
}

// GetTask возвращает копию задачи владельца. Чужие и просроченные задачи не находятся.
func (ts *TaskStore) GetTask(taskID, ownerID string) (Task, error) {
	ts.mutex.RLock()
	defer ts.mutex.RUnlock()

	task, exists := ts.tasks[taskID]
	if !exists || task.OwnerID != ownerID || ts.now().After(task.ExpiresAt) {
		return Task{}, fmt.Errorf("задача с ID %s: %w", taskID, domain.ErrNotFound)
	}
	return *task, nil
}

// Len возвращает число хранимых задач
func (ts *TaskStore) Len() int {
	ts.mutex.RLock()
	defer ts.mutex.RUnlock()
	return len(ts.tasks)
}

// CleanupExpired удаляет просроченные задачи из хранилища
func (ts *TaskStore) CleanupExpired() {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	now := ts.now()
	for taskID, task := range ts.tasks {
		if now.After(task.ExpiresAt) {
			delete(ts.tasks, taskID)
		}
	}
}

// StartCleanupTicker запускает периодическую очистку до отмены ctx
func (ts *TaskStore) StartCleanupTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts.CleanupExpired()
			}
		}
	}()
}

func (ts *TaskStore) update(taskID string, fn func(*Task)) error {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()

	task, exists := ts.tasks[taskID]
	if !exists {
		return fmt.Errorf("задача с ID %s: %w", taskID, domain.ErrNotFound)
	}
	fn(task)
	return nil
}

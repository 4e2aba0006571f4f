// Package directory хранит справочники каналов и участников.
package directory

import (
	"context"
	"sort"
	"sync"

	"chat-core/internal/domain"
)

// Memory — справочник в памяти процесса.
type Memory struct {
	mu           sync.RWMutex
	participants map[string]map[string]struct{}
	kinds        map[string]domain.ChannelKind
	summaries    map[string]domain.Summary
}

// NewMemory создает пустой справочник.
func NewMemory() *Memory {
	return &Memory{
		participants: make(map[string]map[string]struct{}),
		kinds:        make(map[string]domain.ChannelKind),
		summaries:    make(map[string]domain.Summary),
	}
}

// ListParticipants возвращает отсортированный список участников канала.
func (m *Memory) ListParticipants(_ context.Context, channelID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.participants[channelID]))
	for id := range m.participants[channelID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Join добавляет участника в канал.
func (m *Memory) Join(_ context.Context, channelID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.participants[channelID]
	if !ok {
		set = make(map[string]struct{})
		m.participants[channelID] = set
	}
	set[userID] = struct{}{}
	return nil
}

// SetKind явно помечает тип канала.
func (m *Memory) SetKind(_ context.Context, channelID string, kind domain.ChannelKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds[channelID] = kind
	return nil
}

// ChannelKind возвращает явный тип канала, если он задан.
func (m *Memory) ChannelKind(_ context.Context, channelID string) (domain.ChannelKind, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kind, ok := m.kinds[channelID]
	return kind, ok, nil
}

// SaveSummary сохраняет запись о последнем сообщении.
func (m *Memory) SaveSummary(_ context.Context, summary domain.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[summary.ChannelID] = summary
	return nil
}

// Summary возвращает запись о последнем сообщении канала.
func (m *Memory) Summary(_ context.Context, channelID string) (domain.Summary, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[channelID]
	return s, ok, nil
}

package ports

import (
	"context"

	"chat-core/internal/domain"
)

// SnapshotFunc получает полный упорядоченный список сообщений канала.
type SnapshotFunc func(messages []domain.Message)

// Predicate отбирает сообщения в разовом запросе.
type Predicate func(m domain.Message) bool

// Subscription — активная подписка на снимки канала.
type Subscription interface {
	// ID возвращает идентификатор подписчика.
	ID() string
	// Unsubscribe прекращает доставку снимков. Повторный вызов безопасен.
	Unsubscribe()
	// Done закрывается, когда подписка завершена по любой причине.
	Done() <-chan struct{}
	// Err возвращает причину завершения со стороны хранилища или nil.
	Err() error
}

// MessageStore — упорядоченный журнал сообщений канала с живой подпиской.
type MessageStore interface {
	// Append сохраняет новое сообщение. Назначает ID (если его нет), CreatedAt и статус SENDING.
	Append(ctx context.Context, channelID string, msg domain.Message) (domain.Message, error)
	// Subscribe регистрирует получателя снимков канала. Первый снимок доставляется сразу.
	Subscribe(ctx context.Context, channelID string, fn SnapshotFunc) (Subscription, error)
	// Patch применяет частичное обновление к одному сообщению.
	Patch(ctx context.Context, channelID, messageID string, patch domain.Patch) error
	// GetOnce выполняет разовый запрос по предикату.
	GetOnce(ctx context.Context, channelID string, pred Predicate) ([]domain.Message, error)
	// Get возвращает сообщение по ID.
	Get(ctx context.Context, channelID, messageID string) (domain.Message, error)
}

// KeyProvider реализуется хранилищами, которые сами выдают ключи сообщений.
type KeyProvider interface {
	NewKey() (string, error)
}

// BlobStore загружает медиафайлы и возвращает их URL.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, kind domain.Kind, fileName string) (domain.Upload, error)
}

// Identity отдает текущего пользователя. ok=false, если пользователь не аутентифицирован.
type Identity interface {
	CurrentUser(ctx context.Context) (domain.User, bool)
}

// Directory — внешний справочник каналов и участников.
type Directory interface {
	ListParticipants(ctx context.Context, channelID string) ([]string, error)
	// Join регистрирует пользователя участником канала.
	Join(ctx context.Context, channelID, userID string) error
	// ChannelKind возвращает явный тип канала, если справочнику он известен.
	ChannelKind(ctx context.Context, channelID string) (domain.ChannelKind, bool, error)
	// SaveSummary обновляет запись о последнем сообщении канала.
	SaveSummary(ctx context.Context, summary domain.Summary) error
}

// Notifier доставляет push-уведомления.
type Notifier interface {
	Publish(ctx context.Context, topic, title, body string) error
	NotifyUser(ctx context.Context, userID, title, body string) error
}

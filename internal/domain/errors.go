package domain

import "errors"

var (
	// ErrWrite означает, что запись в хранилище (append или patch) не удалась.
	ErrWrite = errors.New("message store write failed")
	// ErrUpload: загрузка медиафайла не удалась, сообщение не создается.
	ErrUpload = errors.New("media upload failed")
	// ErrAuthRequired возвращается без текущего пользователя; операция не выполняется.
	ErrAuthRequired = errors.New("authentication required")
	// ErrSubscription означает отмену подписки на стороне хранилища.
	ErrSubscription = errors.New("subscription cancelled by backend")
	// ErrNotFound: сообщение или канал не найдены.
	ErrNotFound = errors.New("not found")
	// ErrInvalidMessage возвращается, если черновик не соответствует своему типу.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidParticipant возвращается, если из ID участника нельзя построить личный канал.
	ErrInvalidParticipant = errors.New("invalid participant id")
)

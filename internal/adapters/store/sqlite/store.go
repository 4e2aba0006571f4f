// Package sqlite реализует хранилище сообщений на SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"chat-core/internal/adapters/store/feed"
	"chat-core/internal/domain"
	"chat-core/internal/ports"
)

const schema = `
create table if not exists messages(
	channel_id        text    not null,
	id                text    not null,
	sender_id         text    not null,
	sender_name       text    not null default '',
	sender_avatar_url text    not null default '',
	created_at        integer not null,
	kind              text    not null,
	text              text    not null default '',
	image_url         text    not null default '',
	video_url         text    not null default '',
	audio_url         text    not null default '',
	audio_duration    integer not null default 0,
	file_url          text    not null default '',
	file_name         text    not null default '',
	file_size         integer not null default 0,
	mime_type         text    not null default '',
	status            text    not null default '',
	read_by           text    not null default '{}',
	is_pinned         integer not null default 0,
	pinned_at         integer not null default 0,
	pinned_by         text    not null default '',
	primary key (channel_id, id)
);
create index if not exists messages_channel_order on messages(channel_id, created_at, id);
create index if not exists messages_channel_pinned on messages(channel_id, is_pinned);
`

const columns = `channel_id, id, sender_id, sender_name, sender_avatar_url, created_at, kind, text,
	image_url, video_url, audio_url, audio_duration, file_url, file_name, file_size, mime_type,
	status, read_by, is_pinned, pinned_at, pinned_by`

type row struct {
	domain.Message
	ReadByJSON string `db:"read_by"`
}

func toRow(m domain.Message) (row, error) {
	readBy := m.ReadBy
	if readBy == nil {
		readBy = map[string]int64{}
	}
	data, err := json.Marshal(readBy)
	if err != nil {
		return row{}, fmt.Errorf("encoding read_by: %w", err)
	}
	return row{Message: m, ReadByJSON: string(data)}, nil
}

func (r row) message() (domain.Message, error) {
	m := r.Message
	if r.ReadByJSON != "" && r.ReadByJSON != "{}" {
		if err := json.Unmarshal([]byte(r.ReadByJSON), &m.ReadBy); err != nil {
			return domain.Message{}, fmt.Errorf("decoding read_by of %s: %w", m.ID, err)
		}
	}
	return m.Normalize(), nil
}

// Option — функциональная опция для Store.
type Option func(*Store)

// WithLogger устанавливает логгер хранилища.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store хранит сообщения в одной таблице SQLite. Запись сериализуется
// внутри процесса, поэтому патч "прочитать-применить-записать" атомарен для сообщения.
type Store struct {
	db  *sqlx.DB
	hub *feed.Hub
	wmu sync.Mutex
	now func() time.Time
	log *slog.Logger
}

// Open открывает (и при необходимости создает) базу по DSN, например "file:chat.db" или ":memory:".
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Одно соединение: ":memory:" живет внутри соединения, а запись и так сериализована.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	s := &Store{
		db:  db,
		now: time.Now,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = feed.NewHub(s.log)
	return s, nil
}

// Close закрывает базу и завершает подписки.
func (s *Store) Close() error {
	s.hub.FailAll(domain.ErrSubscription)
	return s.db.Close()
}

// FailSubscriptions завершает все подписки с ошибкой err, не закрывая хранилище.
func (s *Store) FailSubscriptions(err error) {
	s.hub.FailAll(err)
}

// Append вставляет новое сообщение.
func (s *Store) Append(ctx context.Context, channelID string, msg domain.Message) (domain.Message, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ChannelID = channelID
	msg.CreatedAt = s.now().UnixMilli()
	msg.Status = domain.StatusSending

	r, err := toRow(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrWrite, err)
	}

	res, err := s.db.NamedExecContext(ctx, `insert into messages (`+columns+`) values (
		:channel_id, :id, :sender_id, :sender_name, :sender_avatar_url, :created_at, :kind, :text,
		:image_url, :video_url, :audio_url, :audio_duration, :file_url, :file_name, :file_size, :mime_type,
		:status, :read_by, :is_pinned, :pinned_at, :pinned_by)`, r)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: inserting message: %v", domain.ErrWrite, err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return domain.Message{}, fmt.Errorf("%w: getting rows affected: %v", domain.ErrWrite, err)
	} else if rows != 1 {
		return domain.Message{}, fmt.Errorf("%w: expected 1 row to be affected, got %d", domain.ErrWrite, rows)
	}

	s.publishLocked(ctx, channelID)
	return msg, nil
}

// Subscribe подписывает fn на снимки канала.
func (s *Store) Subscribe(ctx context.Context, channelID string, fn ports.SnapshotFunc) (ports.Subscription, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	snapshot, err := s.list(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(channelID, fn, snapshot), nil
}

// Patch применяет частичное обновление к сообщению.
func (s *Store) Patch(ctx context.Context, channelID, messageID string, patch domain.Patch) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	msg, err := s.get(ctx, channelID, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrWrite, err)
	}
	if !msg.Apply(patch) {
		return nil
	}

	r, err := toRow(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWrite, err)
	}
	_, err = s.db.NamedExecContext(ctx, `update messages set
		status = :status, read_by = :read_by, is_pinned = :is_pinned, pinned_at = :pinned_at, pinned_by = :pinned_by
		where channel_id = :channel_id and id = :id`, r)
	if err != nil {
		return fmt.Errorf("%w: updating message %s: %v", domain.ErrWrite, messageID, err)
	}

	s.publishLocked(ctx, channelID)
	return nil
}

// GetOnce возвращает упорядоченные сообщения канала, удовлетворяющие pred.
func (s *Store) GetOnce(ctx context.Context, channelID string, pred ports.Predicate) ([]domain.Message, error) {
	all, err := s.list(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return all, nil
	}
	out := make([]domain.Message, 0, len(all))
	for _, m := range all {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Get возвращает сообщение по ID.
func (s *Store) Get(ctx context.Context, channelID, messageID string) (domain.Message, error) {
	return s.get(ctx, channelID, messageID)
}

// Refresh повторно публикует снимок канала подписчикам (например, после записи на другом узле).
func (s *Store) Refresh(ctx context.Context, channelID string) error {
	if !s.hub.HasSubscribers(channelID) {
		return nil
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	snapshot, err := s.list(ctx, channelID)
	if err != nil {
		return err
	}
	s.hub.Publish(channelID, snapshot)
	return nil
}

func (s *Store) get(ctx context.Context, channelID, messageID string) (domain.Message, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `select `+columns+` from messages where channel_id = ? and id = ?`, channelID, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, fmt.Errorf("message %s in channel %s: %w", messageID, channelID, domain.ErrNotFound)
		}
		return domain.Message{}, fmt.Errorf("fetching message: %w", err)
	}
	return r.message()
}

func (s *Store) list(ctx context.Context, channelID string) ([]domain.Message, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `select `+columns+` from messages where channel_id = ? order by created_at, id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.message()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) publishLocked(ctx context.Context, channelID string) {
	if !s.hub.HasSubscribers(channelID) {
		return
	}
	snapshot, err := s.list(ctx, channelID)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to build snapshot after write", "channel_id", channelID, "error", err)
		return
	}
	s.hub.Publish(channelID, snapshot)
}

// Package mongo реализует хранилище сообщений в MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chat-core/internal/adapters/store/feed"
	"chat-core/internal/domain"
	"chat-core/internal/ports"
)

// maxPatchAttempts ограничивает число попыток оптимистичного обновления одного сообщения.
const maxPatchAttempts = 5

type document struct {
	Key             string           `bson:"_id"`
	ChannelID       string           `bson:"channel_id"`
	MessageID       string           `bson:"message_id"`
	SenderID        string           `bson:"sender_id"`
	SenderName      string           `bson:"sender_name"`
	SenderAvatarURL string           `bson:"sender_avatar_url,omitempty"`
	CreatedAt       int64            `bson:"created_at"`
	Kind            string           `bson:"kind"`
	Text            string           `bson:"text,omitempty"`
	ImageURL        string           `bson:"image_url,omitempty"`
	VideoURL        string           `bson:"video_url,omitempty"`
	AudioURL        string           `bson:"audio_url,omitempty"`
	AudioDuration   int64            `bson:"audio_duration,omitempty"`
	FileURL         string           `bson:"file_url,omitempty"`
	FileName        string           `bson:"file_name,omitempty"`
	FileSize        int64            `bson:"file_size,omitempty"`
	MimeType        string           `bson:"mime_type,omitempty"`
	Status          string           `bson:"status"`
	ReadBy          map[string]int64 `bson:"read_by,omitempty"`
	IsPinned        bool             `bson:"is_pinned"`
	PinnedAt        int64            `bson:"pinned_at,omitempty"`
	PinnedBy        string           `bson:"pinned_by,omitempty"`
	Version         int64            `bson:"version"`
}

func docKey(channelID, messageID string) string {
	return channelID + "/" + messageID
}

func fromMessage(m domain.Message, version int64) document {
	return document{
		Key:             docKey(m.ChannelID, m.ID),
		ChannelID:       m.ChannelID,
		MessageID:       m.ID,
		SenderID:        m.SenderID,
		SenderName:      m.SenderName,
		SenderAvatarURL: m.SenderAvatarURL,
		CreatedAt:       m.CreatedAt,
		Kind:            string(m.Kind),
		Text:            m.Text,
		ImageURL:        m.ImageURL,
		VideoURL:        m.VideoURL,
		AudioURL:        m.AudioURL,
		AudioDuration:   m.AudioDuration,
		FileURL:         m.FileURL,
		FileName:        m.FileName,
		FileSize:        m.FileSize,
		MimeType:        m.MimeType,
		Status:          string(m.Status),
		ReadBy:          m.ReadBy,
		IsPinned:        m.IsPinned,
		PinnedAt:        m.PinnedAt,
		PinnedBy:        m.PinnedBy,
		Version:         version,
	}
}

func (d document) message() domain.Message {
	return domain.Message{
		ID:              d.MessageID,
		ChannelID:       d.ChannelID,
		SenderID:        d.SenderID,
		SenderName:      d.SenderName,
		SenderAvatarURL: d.SenderAvatarURL,
		CreatedAt:       d.CreatedAt,
		Kind:            domain.Kind(d.Kind),
		Text:            d.Text,
		ImageURL:        d.ImageURL,
		VideoURL:        d.VideoURL,
		AudioURL:        d.AudioURL,
		AudioDuration:   d.AudioDuration,
		FileURL:         d.FileURL,
		FileName:        d.FileName,
		FileSize:        d.FileSize,
		MimeType:        d.MimeType,
		Status:          domain.Status(d.Status),
		ReadBy:          d.ReadBy,
		IsPinned:        d.IsPinned,
		PinnedAt:        d.PinnedAt,
		PinnedBy:        d.PinnedBy,
	}.Normalize()
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

// Store хранит сообщения всех каналов в одной коллекции.
// Патчи применяются оптимистично по полю version.
type Store struct {
	coll *mongo.Collection
	hub  *feed.Hub
	wmu  sync.Mutex
	now  func() time.Time
	log  *slog.Logger
}

// Connect подключается к MongoDB по URI.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return client, nil
}

// New создает хранилище поверх коллекции и создает индексы.
func New(ctx context.Context, coll *mongo.Collection, opts ...Option) (*Store, error) {
	s := &Store{
		coll: coll,
		now:  time.Now,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = feed.NewHub(s.log)

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetName("channel_order_idx"),
		},
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}, {Key: "is_pinned", Value: 1}},
			Options: options.Index().SetName("channel_pinned_idx"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}
	return s, nil
}

// Close завершает подписки. Клиент MongoDB закрывает вызывающая сторона.
func (s *Store) Close() {
	s.hub.FailAll(domain.ErrSubscription)
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

	if _, err := s.coll.InsertOne(ctx, fromMessage(msg, 1)); err != nil {
		return domain.Message{}, fmt.Errorf("%w: inserting message: %v", domain.ErrWrite, err)
	}

	s.publishLocked(ctx, channelID)
	return msg, nil
}

// Subscribe подписывает fn на снимки канала.
func (s *Store) Subscribe(ctx context.Context, channelID string, fn ports.SnapshotFunc) (ports.Subscription, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	snapshot, err := s.find(ctx, bson.M{"channel_id": channelID})
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(channelID, fn, snapshot), nil
}

// Patch применяет частичное обновление. Конфликт версий повторяется ограниченное число раз.
func (s *Store) Patch(ctx context.Context, channelID, messageID string, patch domain.Patch) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	key := docKey(channelID, messageID)
	for attempt := 1; attempt <= maxPatchAttempts; attempt++ {
		var doc document
		err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return fmt.Errorf("message %s in channel %s: %w", messageID, channelID, domain.ErrNotFound)
			}
			return fmt.Errorf("%w: fetching message: %v", domain.ErrWrite, err)
		}

		msg := doc.message()
		if !msg.Apply(patch) {
			return nil
		}

		next := fromMessage(msg, doc.Version+1)
		res, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": key, "version": doc.Version},
			bson.M{"$set": bson.M{
				"status":    next.Status,
				"read_by":   next.ReadBy,
				"is_pinned": next.IsPinned,
				"pinned_at": next.PinnedAt,
				"pinned_by": next.PinnedBy,
				"version":   next.Version,
			}},
		)
		if err != nil {
			return fmt.Errorf("%w: updating message %s: %v", domain.ErrWrite, messageID, err)
		}
		if res.MatchedCount == 1 {
			s.publishLocked(ctx, channelID)
			return nil
		}
		s.log.DebugContext(ctx, "Concurrent update detected, retrying patch", "channel_id", channelID, "message_id", messageID, "attempt", attempt)
	}
	return fmt.Errorf("%w: message %s kept changing concurrently", domain.ErrWrite, messageID)
}

// GetOnce возвращает упорядоченные сообщения канала, удовлетворяющие pred.
func (s *Store) GetOnce(ctx context.Context, channelID string, pred ports.Predicate) ([]domain.Message, error) {
	all, err := s.find(ctx, bson.M{"channel_id": channelID})
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
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"_id": docKey(channelID, messageID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Message{}, fmt.Errorf("message %s in channel %s: %w", messageID, channelID, domain.ErrNotFound)
		}
		return domain.Message{}, fmt.Errorf("fetching message: %w", err)
	}
	return doc.message(), nil
}

// Refresh повторно публикует снимок канала подписчикам.
func (s *Store) Refresh(ctx context.Context, channelID string) error {
	if !s.hub.HasSubscribers(channelID) {
		return nil
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	snapshot, err := s.find(ctx, bson.M{"channel_id": channelID})
	if err != nil {
		return err
	}
	s.hub.Publish(channelID, snapshot)
	return nil
}

func (s *Store) find(ctx context.Context, filter bson.M) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "message_id", Value: 1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		out = append(out, doc.message())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

func (s *Store) publishLocked(ctx context.Context, channelID string) {
	if !s.hub.HasSubscribers(channelID) {
		return
	}
	snapshot, err := s.find(ctx, bson.M{"channel_id": channelID})
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to build snapshot after write", "channel_id", channelID, "error", err)
		return
	}
	s.hub.Publish(channelID, snapshot)
}

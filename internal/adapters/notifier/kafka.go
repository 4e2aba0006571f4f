package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event — уведомление в том виде, в каком оно уходит в Kafka.
type Event struct {
	Target string `json:"target"`
	Topic  string `json:"topic,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	SentAt int64  `json:"sent_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka публикует уведомления как JSON-события; сервис доставки push читает их из топика.
type Kafka struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafka создает продюсер для topic.
func NewKafka(brokers []string, topic string) *Kafka {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &Kafka{writer: w, now: time.Now}
}

// Publish отправляет событие для топика. Ключом служит топик, события одного канала идут по порядку.
func (k *Kafka) Publish(ctx context.Context, topic, title, body string) error {
	return k.write(ctx, topic, Event{Target: "topic", Topic: topic, Title: title, Body: body})
}

// NotifyUser отправляет событие для пользователя.
func (k *Kafka) NotifyUser(ctx context.Context, userID, title, body string) error {
	return k.write(ctx, "user:"+userID, Event{Target: "user", UserID: userID, Title: title, Body: body})
}

// Close закрывает продюсер.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func (k *Kafka) write(ctx context.Context, key string, ev Event) error {
	now := k.now()
	ev.SentAt = now.UnixMilli()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{Key: []byte(key), Value: data, Time: now}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing notification event: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"

	"chat-core/internal/adapters/blob"
	"chat-core/internal/adapters/directory"
	"chat-core/internal/adapters/identity"
	"chat-core/internal/adapters/notifier"
	"chat-core/internal/adapters/store/memory"
	mongostore "chat-core/internal/adapters/store/mongo"
	"chat-core/internal/adapters/store/redisfeed"
	"chat-core/internal/adapters/store/sqlite"
	applog "chat-core/internal/log"
	"chat-core/internal/pkg/config"
	"chat-core/internal/ports"
)

// closers собирает функции освобождения ресурсов; вызываются в обратном порядке.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, cl *closers) (redisfeed.Backend, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := sqlite.Open(cfg.Store.SQLitePath, sqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		cl.add(func() { _ = s.Close() })
		return s, nil
	case "mongo":
		client, err := mongostore.Connect(ctx, cfg.Store.MongoURI)
		if err != nil {
			return nil, err
		}
		cl.add(func() { _ = client.Disconnect(context.Background()) })
		coll := client.Database(cfg.Store.MongoDatabase).Collection(cfg.Store.MongoCollection)
		s, err := mongostore.New(ctx, coll, mongostore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create mongo store: %w", err)
		}
		cl.add(s.Close)
		return s, nil
	default:
		return memory.New(memory.WithLogger(logger)), nil
	}
}

// buildRedis подключает межпроцессную рассылку изменений и справочник каналов.
// Без Redis справочник живет в памяти процесса.
func buildRedis(ctx context.Context, cfg *config.Config, backend redisfeed.Backend, logger *slog.Logger, cl *closers) (ports.MessageStore, ports.Directory, error) {
	if !cfg.Redis.Enabled() {
		return backend, directory.NewMemory(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cl.add(func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	feed := redisfeed.New(backend, rdb,
		redisfeed.WithLogger(logger),
		redisfeed.WithPrefix(cfg.Redis.FeedPrefix),
	)
	if err := feed.Start(ctx); err != nil {
		return nil, nil, err
	}
	cl.add(feed.Stop)

	logger.Info("Redis change feed started", "addr", cfg.Redis.Addr)
	return feed, directory.NewRedis(rdb, cfg.Redis.DirectoryPrefix), nil
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (ports.BlobStore, error) {
	if cfg.Blob.Driver != "s3" {
		return blob.NewMemory(cfg.Blob.BaseURL), nil
	}
	s3, err := blob.NewS3(ctx, blob.S3Config{
		Region:        cfg.Blob.S3.Region,
		Bucket:        cfg.Blob.S3.Bucket,
		Endpoint:      cfg.Blob.S3.Endpoint,
		PublicBaseURL: cfg.Blob.S3.PublicBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 blob store: %w", err)
	}
	return s3, nil
}

// buildNotifier оборачивает каждый включенный канал уведомлений в выключатель.
func buildNotifier(cfg *config.Config, logger *slog.Logger, cl *closers) (ports.Notifier, error) {
	breaker := notifier.BreakerConfig{
		MaxFailures: cfg.Notifier.Breaker.MaxFailures,
		Interval:    cfg.Notifier.Breaker.Interval,
		Timeout:     cfg.Notifier.Breaker.Timeout,
	}

	var out notifier.Fanout
	for _, name := range cfg.Notifier.Drivers {
		var n ports.Notifier
		switch name {
		case "log":
			n = notifier.NewLog(logger)
		case "kafka":
			k := notifier.NewKafka(cfg.Notifier.Kafka.Brokers, cfg.Notifier.Kafka.Topic)
			cl.add(func() { _ = k.Close() })
			n = k
		case "telegram":
			if err := tgbotapi.SetLogger(&applog.BotAPILogger{Logger: logger}); err != nil {
				return nil, fmt.Errorf("failed to set bot api logger: %w", err)
			}
			tg, err := notifier.NewTelegram(cfg.Notifier.Telegram.Token, cfg.Notifier.Telegram.Users, cfg.Notifier.Telegram.Topics, logger)
			if err != nil {
				return nil, err
			}
			n = tg
		default:
			return nil, fmt.Errorf("unknown notifier %q", name)
		}
		out = append(out, notifier.NewBreaker(name, n, breaker, logger))
	}
	if len(out) == 0 {
		return nil, errors.New("no notifiers configured")
	}
	return out, nil
}

func buildVerifier(cfg *config.Config) (*identity.Verifier, error) {
	if cfg.Auth.JWTPublicKeyPath != "" {
		return identity.NewRSAVerifier(cfg.Auth.JWTPublicKeyPath)
	}
	return identity.NewHMACVerifier(cfg.Auth.JWTSecret)
}

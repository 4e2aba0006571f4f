// Package config предоставляет управление конфигурацией приложения
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"chat-core/internal/domain"
)

// Server содержит конфигурацию HTTP-сервера
type Server struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxUploadSizeMB int           `json:"max_upload_size_mb" yaml:"max_upload_size_mb"`
	UploadTimeout   time.Duration `json:"upload_timeout" yaml:"upload_timeout"`
	UploadTaskTTL   time.Duration `json:"upload_task_ttl" yaml:"upload_task_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	// AllowedOrigins разрешает WebSocket-подключения с других хостов
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// Store выбирает хранилище сообщений: memory, sqlite или mongo
type Store struct {
	Driver          string `json:"driver" yaml:"driver"`
	SQLitePath      string `json:"sqlite_path" yaml:"sqlite_path"`
	MongoURI        string `json:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase   string `json:"mongo_database" yaml:"mongo_database"`
	MongoCollection string `json:"mongo_collection" yaml:"mongo_collection"`
}

// Redis включает межпроцессную рассылку изменений и справочник каналов.
// Пустой адрес отключает Redis.
type Redis struct {
	Addr            string `json:"addr" yaml:"addr"`
	Password        string `json:"password" yaml:"password"`
	DB              int    `json:"db" yaml:"db"`
	FeedPrefix      string `json:"feed_prefix" yaml:"feed_prefix"`
	DirectoryPrefix string `json:"directory_prefix" yaml:"directory_prefix"`
}

// Enabled сообщает, настроен ли Redis.
func (r Redis) Enabled() bool { return r.Addr != "" }

// Kafka содержит настройки публикации уведомлений в Kafka
type Kafka struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// Telegram содержит настройки доставки уведомлений через бота.
// Users и Topics сопоставляют получателей с chat id.
type Telegram struct {
	Token  string           `json:"token" yaml:"token"`
	Users  map[string]int64 `json:"users" yaml:"users"`
	Topics map[string]int64 `json:"topics" yaml:"topics"`
}

// Breaker настраивает автоматический выключатель для каждого канала уведомлений
type Breaker struct {
	MaxFailures uint32        `json:"max_failures" yaml:"max_failures"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// Notifier перечисляет включенные каналы уведомлений: log, kafka, telegram
type Notifier struct {
	Drivers  []string      `json:"drivers" yaml:"drivers"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Kafka    Kafka         `json:"kafka" yaml:"kafka"`
	Telegram Telegram      `json:"telegram" yaml:"telegram"`
	Breaker  Breaker       `json:"breaker" yaml:"breaker"`
}

// S3 содержит настройки бакета для медиафайлов
type S3 struct {
	Region        string `json:"region" yaml:"region"`
	Bucket        string `json:"bucket" yaml:"bucket"`
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`
}

// Blob выбирает хранилище медиафайлов: memory или s3
type Blob struct {
	Driver  string `json:"driver" yaml:"driver"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	S3      S3     `json:"s3" yaml:"s3"`
}

// Auth содержит ключи проверки JWT. Задается ровно один из них.
type Auth struct {
	JWTSecret        string `json:"jwt_secret" yaml:"jwt_secret"`
	JWTPublicKeyPath string `json:"jwt_public_key_path" yaml:"jwt_public_key_path"`
}

// Status содержит задержки переходов статусов
type Status struct {
	DeliveredDelay   time.Duration `json:"delivered_delay" yaml:"delivered_delay"`
	ReadDelayMin     time.Duration `json:"read_delay_min" yaml:"read_delay_min"`
	ReadDelayMax     time.Duration `json:"read_delay_max" yaml:"read_delay_max"`
	DedupeTTL        time.Duration `json:"dedupe_ttl" yaml:"dedupe_ttl"`
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout"`
	SummaryTimeout   time.Duration `json:"summary_timeout" yaml:"summary_timeout"`
}

// Search задает локализованные метки типов для поиска. Ключи задают типы сообщений (AUDIO, VIDEO, ...).
// Пустая карта означает метки по умолчанию.
type Search struct {
	Labels map[string][]string `json:"labels" yaml:"labels"`
}

// RateLimit ограничивает частоту запросов одного пользователя
type RateLimit struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 - без ограничений
	Burst             int `json:"burst" yaml:"burst"`
}

// Logging содержит конфигурацию логирования
type Logging struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// Config содержит конфигурацию приложения
type Config struct {
	Server    Server    `json:"server" yaml:"server"`
	Store     Store     `json:"store" yaml:"store"`
	Redis     Redis     `json:"redis" yaml:"redis"`
	Notifier  Notifier  `json:"notifier" yaml:"notifier"`
	Blob      Blob      `json:"blob" yaml:"blob"`
	Auth      Auth      `json:"auth" yaml:"auth"`
	Status    Status    `json:"status" yaml:"status"`
	Search    Search    `json:"search" yaml:"search"`
	RateLimit RateLimit `json:"rate_limit" yaml:"rate_limit"`
	Logging   Logging   `json:"logging" yaml:"logging"`
}

// defaultConfig возвращает конфигурацию со значениями по умолчанию
func defaultConfig() *Config {
	return &Config{
		Server: Server{
			Host:            DefaultServerHost,
			Port:            DefaultServerPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxUploadSizeMB: DefaultMaxUploadSizeMB,
			UploadTimeout:   DefaultUploadTimeout,
			UploadTaskTTL:   DefaultUploadTaskTTL,
			CleanupInterval: DefaultCleanupInterval,
		},
		Store: Store{
			Driver:          DefaultStoreDriver,
			SQLitePath:      DefaultSQLitePath,
			MongoDatabase:   DefaultMongoDatabase,
			MongoCollection: DefaultMongoCollection,
		},
		Redis: Redis{
			FeedPrefix:      DefaultRedisFeedPrefix,
			DirectoryPrefix: DefaultRedisDirectoryPrefix,
		},
		Notifier: Notifier{
			Drivers: []string{"log"},
			Timeout: DefaultNotifyTimeout,
			Kafka:   Kafka{Topic: DefaultKafkaTopic},
			Breaker: Breaker{
				MaxFailures: DefaultBreakerMaxFailures,
				Interval:    DefaultBreakerInterval,
				Timeout:     DefaultBreakerOpenDuration,
			},
		},
		Blob: Blob{
			Driver:  DefaultBlobDriver,
			BaseURL: DefaultBlobBaseURL,
		},
		Status: Status{
			DeliveredDelay:   DefaultDeliveredDelay,
			ReadDelayMin:     DefaultReadDelayMin,
			ReadDelayMax:     DefaultReadDelayMax,
			DedupeTTL:        DefaultDedupeTTL,
			OperationTimeout: DefaultStatusOpTimeout,
			SummaryTimeout:   DefaultSummaryOpTimeout,
		},
		RateLimit: RateLimit{
			RequestsPerMinute: DefaultRequestsPerMinute,
			Burst:             DefaultRateBurst,
		},
		Logging: Logging{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// LoadConfig загружает конфигурацию: значения по умолчанию, затем YAML-файл (если он есть),
// затем переменные окружения, включая .env файл.
func LoadConfig(path string) (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	cfg := defaultConfig()
	if err := loadFromYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("не удалось применить переменные окружения: %w", err)
	}
	return cfg, nil
}

// loadFromYAML накладывает YAML-файл на cfg. Отсутствие файла не является ошибкой.
func loadFromYAML(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("не удалось прочитать файл конфигурации %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("не удалось разобрать YAML конфигурацию: %w", err)
	}
	return nil
}

// applyEnv переопределяет значения из переменных окружения CHAT_*
func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Host, "CHAT_SERVER_HOST")
	if err := setInt(&cfg.Server.Port, "CHAT_SERVER_PORT"); err != nil {
		return err
	}
	setString(&cfg.Logging.Level, "CHAT_LOG_LEVEL")
	setString(&cfg.Logging.Format, "CHAT_LOG_FORMAT")

	setString(&cfg.Store.Driver, "CHAT_STORE_DRIVER")
	setString(&cfg.Store.SQLitePath, "CHAT_SQLITE_PATH")
	setString(&cfg.Store.MongoURI, "CHAT_MONGO_URI")

	setString(&cfg.Redis.Addr, "CHAT_REDIS_ADDR")
	setString(&cfg.Redis.Password, "CHAT_REDIS_PASSWORD")

	setString(&cfg.Auth.JWTSecret, "CHAT_JWT_SECRET")
	setString(&cfg.Auth.JWTPublicKeyPath, "CHAT_JWT_PUBLIC_KEY_PATH")

	setString(&cfg.Blob.Driver, "CHAT_BLOB_DRIVER")
	setString(&cfg.Blob.S3.Bucket, "CHAT_S3_BUCKET")
	setString(&cfg.Blob.S3.Region, "CHAT_S3_REGION")
	setString(&cfg.Blob.S3.Endpoint, "CHAT_S3_ENDPOINT")

	setString(&cfg.Notifier.Telegram.Token, "CHAT_TELEGRAM_TOKEN")
	if v := os.Getenv("CHAT_KAFKA_BROKERS"); v != "" {
		cfg.Notifier.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("CHAT_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("CHAT_NOTIFIERS"); v != "" {
		cfg.Notifier.Drivers = splitList(v)
	}
	return setInt(&cfg.RateLimit.RequestsPerMinute, "CHAT_RATE_LIMIT_RPM")
}

// Address возвращает адрес сервера в формате "host:port"
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// HasNotifier сообщает, включен ли канал уведомлений с данным именем
func (c *Config) HasNotifier(name string) bool {
	for _, d := range c.Notifier.Drivers {
		if d == name {
			return true
		}
	}
	return false
}

// SearchLabels возвращает метки поиска, приведенные к типам сообщений.
// Возвращает nil, если метки не заданы.
func (c *Config) SearchLabels() map[domain.Kind][]string {
	if len(c.Search.Labels) == 0 {
		return nil
	}
	labels := make(map[domain.Kind][]string, len(c.Search.Labels))
	for k, v := range c.Search.Labels {
		labels[domain.ParseKind(k)] = v
	}
	return labels
}

// Validate проверяет, являются ли значения конфигурации допустимыми
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port должен быть действительным номером порта (1-65535)")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout должно быть положительным")
	}
	if c.Server.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("server.max_upload_size_mb должно быть положительным")
	}
	if c.Server.UploadTimeout <= 0 || c.Server.UploadTaskTTL <= 0 {
		return fmt.Errorf("server.upload_timeout и server.upload_task_ttl должны быть положительными")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path не может быть пустым для драйвера sqlite")
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			return fmt.Errorf("store.mongo_uri не может быть пустым для драйвера mongo")
		}
	default:
		return fmt.Errorf("store.driver должен быть одним из: memory, sqlite, mongo")
	}

	for _, d := range c.Notifier.Drivers {
		switch d {
		case "log":
		case "kafka":
			if len(c.Notifier.Kafka.Brokers) == 0 || c.Notifier.Kafka.Topic == "" {
				return fmt.Errorf("notifier.kafka.brokers и notifier.kafka.topic обязательны для драйвера kafka")
			}
		case "telegram":
			if c.Notifier.Telegram.Token == "" {
				return fmt.Errorf("notifier.telegram.token не может быть пустым для драйвера telegram")
			}
		default:
			return fmt.Errorf("notifier.drivers: неизвестный драйвер %q", d)
		}
	}

	switch c.Blob.Driver {
	case "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket не может быть пустым для драйвера s3")
		}
	default:
		return fmt.Errorf("blob.driver должен быть одним из: memory, s3")
	}

	if (c.Auth.JWTSecret == "") == (c.Auth.JWTPublicKeyPath == "") {
		return fmt.Errorf("нужно задать ровно один из auth.jwt_secret и auth.jwt_public_key_path")
	}

	if c.Status.DeliveredDelay <= 0 {
		return fmt.Errorf("status.delivered_delay должно быть положительным")
	}
	if c.Status.ReadDelayMin <= 0 || c.Status.ReadDelayMax < c.Status.ReadDelayMin {
		return fmt.Errorf("status.read_delay_min должно быть положительным и не больше status.read_delay_max")
	}

	for k := range c.Search.Labels {
		if domain.ParseKind(k) == domain.KindUnsupported {
			return fmt.Errorf("search.labels: неизвестный тип сообщения %q", k)
		}
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute должно быть неотрицательным (0 для отсутствия ограничений)")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst должно быть положительным")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// all good
	default:
		return fmt.Errorf("logging.level должен быть одним из: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format должен быть одним из: text, json")
	}

	return nil
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("недопустимый %s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

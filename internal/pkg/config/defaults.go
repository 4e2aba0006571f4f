package config

import "time"

// Default values for configuration.
const (
	// Server defaults
	DefaultServerHost      = "0.0.0.0"
	DefaultServerPort      = 8080
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxUploadSizeMB = 10
	DefaultCleanupInterval = 1 * time.Hour

	// Media upload tasks
	DefaultUploadTimeout = 60 * time.Second
	DefaultUploadTaskTTL = 24 * time.Hour

	// Store defaults
	DefaultStoreDriver     = "memory"
	DefaultSQLitePath      = "chat.db"
	DefaultMongoDatabase   = "chat"
	DefaultMongoCollection = "messages"

	// Redis defaults
	DefaultRedisFeedPrefix      = "chat:changed:"
	DefaultRedisDirectoryPrefix = "chat:"

	// Notification defaults
	DefaultNotifyTimeout       = 10 * time.Second
	DefaultKafkaTopic          = "chat.notifications"
	DefaultBreakerMaxFailures  = 5
	DefaultBreakerInterval     = 60 * time.Second
	DefaultBreakerOpenDuration = 30 * time.Second

	// Blob defaults
	DefaultBlobDriver  = "memory"
	DefaultBlobBaseURL = "http://localhost:8080/media"

	// Status tracker defaults
	DefaultDeliveredDelay   = 1 * time.Second
	DefaultReadDelayMin     = 500 * time.Millisecond
	DefaultReadDelayMax     = 1500 * time.Millisecond
	DefaultDedupeTTL        = 1 * time.Minute
	DefaultStatusOpTimeout  = 5 * time.Second
	DefaultSummaryOpTimeout = 10 * time.Second

	// Rate limit defaults
	DefaultRequestsPerMinute = 600
	DefaultRateBurst         = 20

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

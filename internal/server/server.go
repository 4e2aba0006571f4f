package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"chat-core/internal/adapters/identity"
	"chat-core/internal/core/services"
	"chat-core/internal/domain"
	"chat-core/internal/metrics"
	"chat-core/internal/pkg/config"
)

// Messenger — операции ядра сообщений, которые обслуживает HTTP API.
type Messenger interface {
	Send(ctx context.Context, channelID string, draft domain.Draft) (domain.Message, error)
	Open(ctx context.Context, channelID string, onView services.ViewFunc) (*services.Session, error)
	Pin(ctx context.Context, channelID, messageID string) error
	Unpin(ctx context.Context, channelID, messageID string) error
	Pinned(ctx context.Context, channelID string) (*domain.Message, error)
	MarkRead(ctx context.Context, channelID, messageID string) error
	History(ctx context.Context, channelID, query string) ([]domain.Message, error)
	PrivateChannel(ctx context.Context, otherID string) (string, error)
	ChannelKind(ctx context.Context, channelID string) domain.ChannelKind
}

// Option — функциональная опция для настройки Server.
type Option func(*Server)

// WithLogger устанавливает логгер сервера.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithVerifier включает проверку JWT. Без него все запросы анонимны.
func WithVerifier(v *identity.Verifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// WithRegistry открывает /metrics для реестра.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithOriginPatterns разрешает WebSocket-подключения с указанных origin.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.originPatterns = patterns
	}
}

// Server представляет HTTP-сервер
type Server struct {
	HTTPServer *http.Server
	cfg        *config.Config
	svc        Messenger
	taskStore  *TaskStore
	limiter    *RateLimiter
	verifier   *identity.Verifier
	registry   *prometheus.Registry
	log        *slog.Logger

	originPatterns []string

	// фоновые загрузки и тикеры очистки
	bgCtx    context.Context
	bgCancel context.CancelFunc
	uploads  sync.WaitGroup
}

// New создает новый экземпляр Server
func New(cfg *config.Config, svc Messenger, taskStore *TaskStore, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		taskStore: taskStore,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	cleanup := cfg.Server.CleanupInterval
	if cleanup <= 0 {
		cleanup = config.DefaultCleanupInterval
	}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, s.log)
		s.limiter.StartCleanupTicker(s.bgCtx, cleanup)
	}
	s.taskStore.StartCleanupTicker(s.bgCtx, cleanup)

	s.HTTPServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// access_token в URL потока маскируется логгером
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.log.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.registry != nil {
		r.Handle("/metrics", metrics.Handler(s.registry))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.verifier != nil {
			r.Use(identity.Middleware(s.verifier, s.log))
		}
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		r.Post("/channels/private", s.handlePrivateChannel)
		r.Get("/uploads/{taskID}", s.handleUploadStatus)

		r.Route("/channels/{channelID}", func(r chi.Router) {
			r.Get("/", s.handleChannel)
			r.Get("/messages", s.handleHistory)
			r.Post("/messages", s.handleSend)
			r.Post("/media", s.handleUpload)
			r.Post("/messages/{messageID}/read", s.handleRead)
			r.Put("/messages/{messageID}/pin", s.handlePin)
			r.Delete("/messages/{messageID}/pin", s.handleUnpin)
			r.Get("/pinned", s.handlePinned)
			r.Get("/stream", s.handleStream)
		})
	})

	return r
}

// Handler возвращает корневой обработчик.
func (s *Server) Handler() http.Handler {
	return s.HTTPServer.Handler
}

// ListenAndServe запускает HTTP-сервер
func (s *Server) ListenAndServe() error {
	return s.HTTPServer.ListenAndServe()
}

// Shutdown закрывает потоки, останавливает прием запросов и ждет фоновые загрузки.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	// WebSocket-соединения перехвачены у http.Server, их закрывает bgCtx
	s.bgCancel()
	err := s.HTTPServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.uploads.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Pending uploads abandoned on shutdown")
	}
	return err
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chat-core/internal/adapters/identity"
	"chat-core/internal/core/notify"
	"chat-core/internal/core/pin"
	"chat-core/internal/core/search"
	"chat-core/internal/core/services"
	"chat-core/internal/core/status"
	applog "chat-core/internal/log"
	"chat-core/internal/metrics"
	"chat-core/internal/pkg/config"
	"chat-core/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}

// run инкапсулирует всю логику инициализации и запуска приложения.
func run() error {
	configPath := flag.String("config", "config.yml", "path to YAML config")
	flag.Parse()

	// 1. Загрузка конфигурации
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// Логгер еще не инициализирован, выводим в stderr
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Логгер с маскированием токенов
	logger := applog.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	// 3. Валидация конфигурации (после инициализации логгера)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	var cl closers
	defer cl.run()

	// 4. Метрики
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// 5. Хранилище, рассылка изменений и справочник
	backend, err := buildStore(appCtx, cfg, logger, &cl)
	if err != nil {
		return err
	}
	store, dir, err := buildRedis(appCtx, cfg, backend, logger, &cl)
	if err != nil {
		return err
	}
	logger.Info("Message store ready", "driver", cfg.Store.Driver, "redis", cfg.Redis.Enabled())

	blobs, err := buildBlobStore(appCtx, cfg)
	if err != nil {
		return err
	}

	n, err := buildNotifier(cfg, logger, &cl)
	if err != nil {
		return err
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	// 6. Ядро
	tracker := status.NewTracker(store,
		status.WithLogger(logger),
		status.WithConfig(status.Config{
			DeliveredDelay:   cfg.Status.DeliveredDelay,
			ReadDelayMin:     cfg.Status.ReadDelayMin,
			ReadDelayMax:     cfg.Status.ReadDelayMax,
			DedupeTTL:        cfg.Status.DedupeTTL,
			OperationTimeout: cfg.Status.OperationTimeout,
		}),
	)
	tracker.StartCleanup(appCtx)

	dispatcher := notify.NewDispatcher(n,
		notify.WithLogger(logger),
		notify.WithDirectory(dir),
		notify.WithTimeout(cfg.Notifier.Timeout),
	)

	svc := services.NewMessagingService(store, blobs, identity.Context{},
		services.WithLogger(logger),
		services.WithDirectory(dir),
		services.WithTracker(tracker),
		services.WithPinManager(pin.NewManager(store, pin.WithLogger(logger))),
		services.WithDispatcher(dispatcher),
		services.WithFilter(search.NewFilter(search.Labels(cfg.SearchLabels()))),
		services.WithBackgroundTimeout(cfg.Status.SummaryTimeout),
	)

	// 7. HTTP-сервер
	srv, err := server.New(cfg, svc, server.NewTaskStore(),
		server.WithLogger(logger),
		server.WithVerifier(verifier),
		server.WithRegistry(registry),
		server.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// 8. Запуск сервера и graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", cfg.Address())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		logger.Info("Signal received, shutting down...")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Сначала закрываем потоки и HTTP, затем дожидаемся таймеров статусов и уведомлений
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	<-serverErr
	logger.Info("HTTP server stopped")

	svc.Close(shutdownCtx)
	appCancel()

	logger.Info("Application exited gracefully")
	return runErr
}

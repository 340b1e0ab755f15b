package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediadrop/internal/api/handler"
	"github.com/hszk-dev/mediadrop/internal/api/middleware"
	"github.com/hszk-dev/mediadrop/internal/config"
	"github.com/hszk-dev/mediadrop/internal/domain/repository"
	"github.com/hszk-dev/mediadrop/internal/downloader"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/cache"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/queue"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/storage"
	"github.com/hszk-dev/mediadrop/internal/session"
	"github.com/hszk-dev/mediadrop/internal/tier"
	"github.com/hszk-dev/mediadrop/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	checks := make(map[string]handler.HealthCheck)

	// Redis is only dialled when it backs the artifact cache.
	var redisClient redis.UniversalClient
	if cfg.Cache.Backend == string(cache.KindRedis) {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rc.Close()

		// An unreachable Redis degrades to cache misses; do not fail startup.
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", slog.String("error", err.Error()))
		} else {
			logger.Info("connected to Redis")
		}
		redisClient = rc
		checks["redis"] = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	backend, err := cache.NewBackend(cache.Options{
		Kind:      cache.Kind(cfg.Cache.Backend),
		Capacity:  cfg.Cache.Capacity,
		OpTimeout: cfg.Cache.OpTimeout,
		Logger:    logger,
	}, redisClient)
	if err != nil {
		return fmt.Errorf("failed to create cache backend: %w", err)
	}

	var remote repository.ObjectStorage
	if cfg.Storage.RemoteEnabled {
		storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
			Endpoint:       cfg.MinIO.Endpoint,
			PublicEndpoint: cfg.MinIO.PublicEndpoint,
			AccessKey:      cfg.MinIO.AccessKey,
			SecretKey:      cfg.MinIO.SecretKey,
			Bucket:         cfg.MinIO.Bucket,
			Region:         cfg.MinIO.Region,
			UseSSL:         cfg.MinIO.UseSSL,
			CreateBucket:   cfg.MinIO.CreateBucket,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to MinIO: %w", err)
		}
		logger.Info("connected to MinIO", slog.String("bucket", storageClient.Bucket()))
		remote = storageClient
		checks["minio"] = storageClient.Ping
	}

	artifacts, err := tier.New(tier.Config{
		Root:       cfg.Storage.DownloadRoot,
		KeepLocal:  cfg.Storage.KeepLocal,
		PresignTTL: cfg.PresignTTL(),
	}, remote, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage tier: %w", err)
	}

	var publisher repository.EventPublisher = queue.NopPublisher{}
	if cfg.Events.Enabled {
		queueCfg := queue.DefaultClientConfig(cfg.RabbitMQ.URL())
		queueCfg.QueueName = cfg.RabbitMQ.Queue
		queueCfg.RoutingKey = cfg.RabbitMQ.Queue
		queueClient, err := queue.NewClient(ctx, queueCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		logger.Info("connected to RabbitMQ", slog.String("queue", queueCfg.QueueName))
		publisher = queueClient
	}
	defer publisher.Close()

	registry, err := session.NewRegistry(session.Config{
		Timeout:         cfg.Session.Timeout,
		RetainArtifacts: cfg.Session.RetainArtifacts,
	}, artifacts, logger)
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}

	engine := downloader.NewYtDlp(downloader.YtDlpConfig{
		BinaryPath: cfg.Downloader.BinaryPath,
		CookieFile: cfg.Downloader.CookieFile,
	}, logger)

	downloadSvc := usecase.NewDownloadService(
		registry,
		artifacts,
		backend,
		engine,
		publisher,
		usecase.DownloadServiceConfig{
			CacheTTL:        cfg.Cache.TTL,
			DownloadTimeout: cfg.Downloader.Timeout,
			MaxConcurrent:   cfg.Downloader.MaxConcurrent,
			DefaultFormat:   cfg.Downloader.DefaultFormat,
			EventTimeout:    cfg.Events.Timeout,
		},
		logger,
	)

	formatSvc, err := usecase.NewFormatService(engine, usecase.FormatServiceConfig{
		Capacity: cfg.Cache.FormatCapacity,
		TTL:      cfg.Cache.FormatTTL,
		Timeout:  cfg.Downloader.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create format service: %w", err)
	}

	r := setupRouter(logger,
		handler.NewDownloadHandler(downloadSvc, logger),
		handler.NewFormatHandler(formatSvc, logger),
		handler.NewHealthHandler(checks),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			slog.Int("port", cfg.Server.Port),
			slog.String("download_root", artifacts.Root()),
			slog.Bool("remote_storage", artifacts.RemoteEnabled()),
			slog.String("cache_backend", cfg.Cache.Backend),
			slog.Duration("session_timeout", cfg.Session.Timeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	// Waits for background downloads, then purges every session.
	if err := downloadSvc.Close(shutdownCtx); err != nil {
		logger.Warn("background downloads cancelled", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return nil
}

func setupRouter(logger *slog.Logger, downloads *handler.DownloadHandler, formats *handler.FormatHandler, health *handler.HealthHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", health.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/downloads", downloads.Create)
		r.Get("/sessions/{session_id}", downloads.GetSession)
		r.Get("/files/{session_id}", downloads.ServeFile)
		r.Get("/formats", formats.List)
		r.Post("/formats", formats.List)
	})

	return r
}

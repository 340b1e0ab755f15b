package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hszk-dev/mediadrop/internal/config"
	"github.com/hszk-dev/mediadrop/internal/domain/repository"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/postgres"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/queue"
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

	// Initialize infrastructure clients
	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")

	historyRepo := postgres.NewHistoryRepository(pgClient.Pool())
	if err := historyRepo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare download_history schema: %w", err)
	}

	queueCfg := queue.DefaultClientConfig(cfg.RabbitMQ.URL())
	queueCfg.QueueName = cfg.RabbitMQ.Queue
	queueCfg.RoutingKey = cfg.RabbitMQ.Queue
	queueCfg.Prefetch = cfg.Worker.Prefetch
	queueCfg.MaxRetries = cfg.Worker.MaxRetries
	queueClient, err := queue.NewClient(ctx, queueCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer queueClient.Close()
	logger.Info("connected to RabbitMQ", slog.String("queue", queueCfg.QueueName))

	historySvc := usecase.NewHistoryService(historyRepo, logger)

	// Setup signal handling for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// WaitGroup to track in-flight events
	var wg sync.WaitGroup

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting worker, consuming session events")
		err := queueClient.ConsumeSessionEvents(ctx, func(event repository.SessionEvent) error {
			wg.Add(1)
			defer wg.Done()

			// Handlers outlive ctx cancellation so an in-flight write can finish.
			if err := historySvc.ProcessEvent(context.WithoutCancel(ctx), event); err != nil {
				logger.Error("event processing failed",
					slog.String("session_id", event.SessionID.String()),
					slog.String("type", string(event.Type)),
					slog.Int("retry_count", event.RetryCount),
					slog.String("error", err.Error()),
				)
				return err
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Cancel the main context to stop consuming new messages
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all in-flight events completed")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some events may not have been archived")
	}

	stats := pgClient.Stats()
	logger.Info("worker stopped",
		slog.Int64("db_acquire_count", stats.AcquireCount),
		slog.Int("db_total_conns", int(stats.TotalConns)),
	)
	return nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/domain/repository"
)

// HistoryService archives session lifecycle events.
type HistoryService interface {
	// ProcessEvent records one event from the message queue.
	// Returns nil on success or when the event carries nothing to archive.
	// Returns error for transient failures that should trigger a retry.
	ProcessEvent(ctx context.Context, event repository.SessionEvent) error
}

type historyService struct {
	repo   repository.DownloadHistoryRepository
	logger *slog.Logger
}

// NewHistoryService creates a new HistoryService instance.
func NewHistoryService(repo repository.DownloadHistoryRepository, logger *slog.Logger) HistoryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &historyService{repo: repo, logger: logger}
}

// ProcessEvent upserts the history row on READY and FAILED, and stamps the
// expiry on EXPIRED.
func (s *historyService) ProcessEvent(ctx context.Context, event repository.SessionEvent) error {
	logger := s.logger.With(
		slog.String("session_id", event.SessionID.String()),
		slog.String("type", string(event.Type)),
	)

	switch event.Type {
	case repository.EventSessionReady, repository.EventSessionFailed:
		status := model.StatusReady
		if event.Type == repository.EventSessionFailed {
			status = model.StatusFailed
		}
		record := &repository.DownloadRecord{
			SessionID:   event.SessionID,
			SourceURL:   event.SourceURL,
			Format:      event.Format,
			Filename:    event.Filename,
			Storage:     event.Storage,
			Status:      status.String(),
			CompletedAt: event.OccurredAt,
		}
		if err := s.repo.Upsert(ctx, record); err != nil {
			return fmt.Errorf("upsert history: %w", err)
		}
		logger.Info("download archived", slog.String("status", record.Status))
		return nil

	case repository.EventSessionExpired:
		err := s.repo.MarkExpired(ctx, event.SessionID, event.OccurredAt)
		if errors.Is(err, repository.ErrHistoryNotFound) {
			// Sessions that expired while pending never produced a row.
			logger.Debug("no history row to expire")
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark history expired: %w", err)
		}
		logger.Info("download expiry archived")
		return nil

	default:
		logger.Warn("ignoring unknown session event")
		return nil
	}
}

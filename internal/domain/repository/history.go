package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DownloadRecord is one archived download in the history table.
type DownloadRecord struct {
	SessionID   uuid.UUID
	SourceURL   string
	Format      string
	Filename    string
	Storage     string
	Status      string
	CompletedAt time.Time
	ExpiredAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DownloadHistoryRepository persists the download history.
// Implementations should be provided by the infrastructure layer (e.g., PostgreSQL).
type DownloadHistoryRepository interface {
	// Upsert inserts the record or overwrites the existing row for the session.
	Upsert(ctx context.Context, record *DownloadRecord) error

	// MarkExpired stamps expired_at on the row for the session.
	// Returns ErrHistoryNotFound if no row exists.
	MarkExpired(ctx context.Context, id uuid.UUID, expiredAt time.Time) error

	// GetBySessionID retrieves a record.
	// Returns nil and ErrHistoryNotFound if no row exists.
	GetBySessionID(ctx context.Context, id uuid.UUID) (*DownloadRecord, error)

	// ListRecent returns up to limit records ordered by newest first.
	ListRecent(ctx context.Context, limit int) ([]*DownloadRecord, error)
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hszk-dev/mediadrop/internal/domain/repository"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/metrics"
)

// DBTX is an interface that abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
	CREATE TABLE IF NOT EXISTS download_history (
		session_id   UUID PRIMARY KEY,
		source_url   TEXT NOT NULL,
		format       TEXT NOT NULL,
		filename     TEXT,
		storage      TEXT,
		status       TEXT NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		expired_at   TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS download_history_completed_at_idx
		ON download_history (completed_at DESC);
`

// HistoryRepository implements repository.DownloadHistoryRepository using PostgreSQL.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository creates a new HistoryRepository instance.
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// EnsureSchema creates the history table if it does not exist.
func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure download_history schema: %w", err)
	}
	return nil
}

// Upsert inserts the record or overwrites the row for the same session.
func (r *HistoryRepository) Upsert(ctx context.Context, record *repository.DownloadRecord) error {
	const query = `
		INSERT INTO download_history
			(session_id, source_url, format, filename, storage, status, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (session_id) DO UPDATE
		SET filename = EXCLUDED.filename,
			storage = EXCLUDED.storage,
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryInsert, metrics.TableDownloadHistory).Inc()

	now := time.Now()
	_, err := r.db.Exec(ctx, query,
		record.SessionID,
		record.SourceURL,
		record.Format,
		nullString(record.Filename),
		nullString(record.Storage),
		record.Status,
		record.CompletedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert download history: %w", err)
	}

	record.UpdatedAt = now
	return nil
}

// MarkExpired stamps expired_at on the row for the session.
func (r *HistoryRepository) MarkExpired(ctx context.Context, id uuid.UUID, expiredAt time.Time) error {
	const query = `
		UPDATE download_history
		SET expired_at = $2, updated_at = $3
		WHERE session_id = $1
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryUpdate, metrics.TableDownloadHistory).Inc()

	tag, err := r.db.Exec(ctx, query, id, expiredAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark download history expired: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrHistoryNotFound
	}

	return nil
}

// GetBySessionID retrieves the record for a session.
func (r *HistoryRepository) GetBySessionID(ctx context.Context, id uuid.UUID) (*repository.DownloadRecord, error) {
	const query = `
		SELECT session_id, source_url, format, filename, storage, status, completed_at, expired_at, created_at, updated_at
		FROM download_history
		WHERE session_id = $1
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQuerySelect, metrics.TableDownloadHistory).Inc()

	record, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrHistoryNotFound
		}
		return nil, fmt.Errorf("failed to get download history: %w", err)
	}

	return record, nil
}

// ListRecent returns up to limit records, newest first.
func (r *HistoryRepository) ListRecent(ctx context.Context, limit int) ([]*repository.DownloadRecord, error) {
	const query = `
		SELECT session_id, source_url, format, filename, storage, status, completed_at, expired_at, created_at, updated_at
		FROM download_history
		ORDER BY completed_at DESC
		LIMIT $1
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQuerySelect, metrics.TableDownloadHistory).Inc()

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query download history: %w", err)
	}
	defer rows.Close()

	var records []*repository.DownloadRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download history: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating download history: %w", err)
	}

	return records, nil
}

// scanRecord scans a single row into a DownloadRecord. pgx.Rows satisfies pgx.Row.
func scanRecord(row pgx.Row) (*repository.DownloadRecord, error) {
	var (
		record   repository.DownloadRecord
		filename *string
		storage  *string
	)

	err := row.Scan(
		&record.SessionID,
		&record.SourceURL,
		&record.Format,
		&filename,
		&storage,
		&record.Status,
		&record.CompletedAt,
		&record.ExpiredAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if filename != nil {
		record.Filename = *filename
	}
	if storage != nil {
		record.Storage = *storage
	}

	return &record, nil
}

// nullString returns nil for empty strings, otherwise returns a pointer to the string.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time verification that HistoryRepository implements repository.DownloadHistoryRepository.
var _ repository.DownloadHistoryRepository = (*HistoryRepository)(nil)

package usecase

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hszk-dev/mediadrop/internal/domain/repository"
	"github.com/hszk-dev/mediadrop/internal/downloader"
)

// mockDownloader provides a configurable mock for Downloader.
type mockDownloader struct {
	mu         sync.Mutex
	calls      int
	downloadFn func(ctx context.Context, req downloader.Request) (*downloader.Result, error)
}

func (m *mockDownloader) Download(ctx context.Context, req downloader.Request) (*downloader.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.downloadFn != nil {
		return m.downloadFn(ctx, req)
	}
	return nil, nil
}

func (m *mockDownloader) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockObjectStorage provides a configurable mock for ObjectStorage.
type mockObjectStorage struct {
	uploadFn                       func(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	generatePresignedDownloadURLFn func(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
	deleteFn                       func(ctx context.Context, key string) error
	existsFn                       func(ctx context.Context, key string) (bool, error)
}

func (m *mockObjectStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, key, reader, size, contentType)
	}
	_, err := io.Copy(io.Discard, reader)
	return err
}

func (m *mockObjectStorage) GeneratePresignedDownloadURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error) {
	if m.generatePresignedDownloadURLFn != nil {
		return m.generatePresignedDownloadURLFn(ctx, key, filename, expiry)
	}
	return "http://example.com/" + key, nil
}

func (m *mockObjectStorage) Delete(ctx context.Context, key string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return nil
}

func (m *mockObjectStorage) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	return false, nil
}

// mockEventPublisher records published events.
type mockEventPublisher struct {
	mu        sync.Mutex
	events    []repository.SessionEvent
	publishFn func(ctx context.Context, event repository.SessionEvent) error
}

func (m *mockEventPublisher) PublishSessionEvent(ctx context.Context, event repository.SessionEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.publishFn != nil {
		return m.publishFn(ctx, event)
	}
	return nil
}

func (m *mockEventPublisher) Close() error {
	return nil
}

func (m *mockEventPublisher) types() []repository.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// mockHistoryRepository provides a configurable mock for DownloadHistoryRepository.
type mockHistoryRepository struct {
	upsertFn         func(ctx context.Context, record *repository.DownloadRecord) error
	markExpiredFn    func(ctx context.Context, id uuid.UUID, expiredAt time.Time) error
	getBySessionIDFn func(ctx context.Context, id uuid.UUID) (*repository.DownloadRecord, error)
	listRecentFn     func(ctx context.Context, limit int) ([]*repository.DownloadRecord, error)
}

func (m *mockHistoryRepository) Upsert(ctx context.Context, record *repository.DownloadRecord) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, record)
	}
	return nil
}

func (m *mockHistoryRepository) MarkExpired(ctx context.Context, id uuid.UUID, expiredAt time.Time) error {
	if m.markExpiredFn != nil {
		return m.markExpiredFn(ctx, id, expiredAt)
	}
	return nil
}

func (m *mockHistoryRepository) GetBySessionID(ctx context.Context, id uuid.UUID) (*repository.DownloadRecord, error) {
	if m.getBySessionIDFn != nil {
		return m.getBySessionIDFn(ctx, id)
	}
	return nil, repository.ErrHistoryNotFound
}

func (m *mockHistoryRepository) ListRecent(ctx context.Context, limit int) ([]*repository.DownloadRecord, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

// mockFormatLister provides a configurable mock for FormatLister.
type mockFormatLister struct {
	mu     sync.Mutex
	calls  int
	urls   []string
	listFn func(ctx context.Context, url string) (*downloader.FormatListing, error)
}

func (m *mockFormatLister) ListFormats(ctx context.Context, url string) (*downloader.FormatListing, error) {
	m.mu.Lock()
	m.calls++
	m.urls = append(m.urls, url)
	m.mu.Unlock()
	if m.listFn != nil {
		return m.listFn(ctx, url)
	}
	return &downloader.FormatListing{Title: "demo", Formats: []downloader.Format{{Type: downloader.FormatVideoAudio, Format: "best"}}}, nil
}

func (m *mockFormatLister) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

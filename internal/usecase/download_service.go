package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/domain/repository"
	"github.com/hszk-dev/mediadrop/internal/downloader"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/cache"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediadrop/internal/session"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// ErrServiceClosed is returned by Submit after Close has been called.
var ErrServiceClosed = errors.New("download service closed")

// eventBuffer is the number of lifecycle events queued for the publisher.
const eventBuffer = 256

// DownloadServiceConfig holds configuration for DownloadService.
type DownloadServiceConfig struct {
	// CacheTTL is how long a resolved artifact stays in the cache. It is not
	// tied to the session lifetime.
	CacheTTL time.Duration
	// DownloadTimeout bounds a single engine run.
	DownloadTimeout time.Duration
	// MaxConcurrent is the number of engine runs allowed at once.
	MaxConcurrent int
	// DefaultFormat is used when the request does not name one.
	DefaultFormat string
	// EventTimeout bounds publishing one lifecycle event.
	EventTimeout time.Duration
}

// DefaultDownloadServiceConfig returns the default configuration.
func DefaultDownloadServiceConfig() DownloadServiceConfig {
	return DownloadServiceConfig{
		CacheTTL:        30 * time.Minute,
		DownloadTimeout: 4 * time.Minute,
		MaxConcurrent:   4,
		DefaultFormat:   downloader.DefaultFormat,
		EventTimeout:    2 * time.Second,
	}
}

// DownloadInput is a request to fetch one source URL.
type DownloadInput struct {
	URL          string
	Format       string
	SubtitleLang string
}

// DownloadOutput describes a session as seen by a client.
type DownloadOutput struct {
	SessionID uuid.UUID
	Status    model.Status
	Filename  string
	Storage   model.StorageKind
	// URL is a presigned link, set only for remote artifacts.
	URL       string
	ExpiresAt time.Time
	ExpiresIn time.Duration
	Cached    bool
}

// ArtifactTier is the storage surface the service needs. *tier.Tier
// satisfies it.
type ArtifactTier interface {
	SessionDir(id uuid.UUID) (string, error)
	Persist(ctx context.Context, localPath string, id uuid.UUID) model.StorageLocation
	Resolve(ctx context.Context, loc model.StorageLocation, filename string) (*model.ServableRef, error)
	Delete(ctx context.Context, loc model.StorageLocation)
	DeleteSessionDir(id uuid.UUID)
}

// DownloadService defines the interface for download session operations.
type DownloadService interface {
	// Download fetches the URL and returns once the artifact is READY.
	// A cached artifact is returned without running the engine.
	Download(ctx context.Context, input DownloadInput) (*DownloadOutput, error)

	// Submit starts the download in the background and returns the PENDING
	// session. Identical requests submitted while one is pending share it.
	Submit(ctx context.Context, input DownloadInput) (*DownloadOutput, error)

	// ResolveArtifact returns what to serve for a READY session.
	ResolveArtifact(ctx context.Context, rawID string) (*model.ServableRef, error)

	// GetSession returns the current view of a session for polling.
	GetSession(ctx context.Context, rawID string) (*DownloadOutput, error)

	// Close waits for background downloads, closes the registry and flushes
	// queued lifecycle events.
	Close(ctx context.Context) error
}

type downloadService struct {
	registry   *session.Registry
	tier       ArtifactTier
	cache      cache.Backend
	downloader downloader.Downloader
	publisher  repository.EventPublisher
	sfGroup    singleflight.Group
	sem        *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]uuid.UUID
	closing  bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc

	events       chan repository.SessionEvent
	eventsMu     sync.RWMutex
	eventsClosed bool
	eventsDone   chan struct{}

	cacheTTL        time.Duration
	downloadTimeout time.Duration
	defaultFormat   string
	eventTimeout    time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

// NewDownloadService creates a new DownloadService and subscribes it to the
// registry's transitions. publisher may be nil to disable lifecycle events.
func NewDownloadService(
	registry *session.Registry,
	artifacts ArtifactTier,
	backend cache.Backend,
	dl downloader.Downloader,
	publisher repository.EventPublisher,
	cfg DownloadServiceConfig,
	logger *slog.Logger,
) DownloadService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = downloader.DefaultFormat
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &downloadService{
		registry:        registry,
		tier:            artifacts,
		cache:           backend,
		downloader:      dl,
		publisher:       publisher,
		sem:             semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		inflight:        make(map[string]uuid.UUID),
		baseCtx:         baseCtx,
		cancel:          cancel,
		cacheTTL:        cfg.CacheTTL,
		downloadTimeout: cfg.DownloadTimeout,
		defaultFormat:   cfg.DefaultFormat,
		eventTimeout:    cfg.EventTimeout,
		now:             time.Now,
		logger:          logger,
	}
	if publisher != nil {
		s.events = make(chan repository.SessionEvent, eventBuffer)
		s.eventsDone = make(chan struct{})
		go s.dispatchEvents()
	}
	registry.OnTransition(s.onTransition)
	return s
}

// Download implements the cache-aside flow. Concurrent identical requests
// are coalesced so the engine runs once per cache key.
func (s *downloadService) Download(ctx context.Context, input DownloadInput) (*DownloadOutput, error) {
	input, key, err := s.prepare(input)
	if err != nil {
		return nil, err
	}

	if out, ok := s.lookupCached(ctx, key); ok {
		return out, nil
	}

	// The shared flight must outlive the caller that started it.
	flightCtx := context.WithoutCancel(ctx)
	result, err, shared := s.sfGroup.Do(key, func() (any, error) {
		if out, ok := s.lookupCached(flightCtx, key); ok {
			return out, nil
		}
		id, err := s.registry.Create(session.CreateInput{
			CacheKey:  key,
			SourceURL: input.URL,
			Format:    input.Format,
		})
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return s.execute(flightCtx, id, key, input)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}

	// Callers sharing a flight must not alias the same output.
	out := *result.(*DownloadOutput)
	return &out, nil
}

// Submit registers a PENDING session and downloads in the background.
func (s *downloadService) Submit(ctx context.Context, input DownloadInput) (*DownloadOutput, error) {
	input, key, err := s.prepare(input)
	if err != nil {
		return nil, err
	}

	if out, ok := s.lookupCached(ctx, key); ok {
		return out, nil
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	if id, ok := s.inflight[key]; ok {
		if sess, err := s.registry.Get(id); err == nil {
			s.mu.Unlock()
			return s.buildOutput(ctx, sess, false), nil
		}
	}

	id, err := s.registry.Create(session.CreateInput{
		CacheKey:  key,
		SourceURL: input.URL,
		Format:    input.Format,
	})
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.inflight[key] = id
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.inflight[key] == id {
				delete(s.inflight, key)
			}
			s.mu.Unlock()
		}()

		if _, err := s.execute(s.baseCtx, id, key, input); err != nil {
			s.logger.Warn("background download failed",
				slog.String("session_id", id.String()),
				slog.String("cache_key", key),
				slog.String("error", err.Error()),
			)
		}
	}()

	sess, err := s.registry.Get(id)
	if err != nil {
		// Already failed or expired; report what the client asked for.
		return &DownloadOutput{SessionID: id, Status: model.StatusPending}, nil
	}
	return s.buildOutput(ctx, sess, false), nil
}

// execute runs the engine for an already registered session and publishes
// the result to the registry and the cache.
func (s *downloadService) execute(ctx context.Context, id uuid.UUID, key string, input DownloadInput) (*DownloadOutput, error) {
	logger := s.logger.With(slog.String("session_id", id.String()))

	// Queueing and the engine run are bounded by the session lifetime; an
	// artifact finished after expiry would be discarded anyway.
	runCtx := ctx
	if sess, err := s.registry.Get(id); err == nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, sess.ExpiresAt)
		defer cancel()
	}

	if err := s.sem.Acquire(runCtx, 1); err != nil {
		s.fail(id)
		return nil, fmt.Errorf("%w: %v", model.ErrDownloadFailed, err)
	}
	res, err := s.runEngine(runCtx, id, input)
	s.sem.Release(1)
	if err != nil {
		s.fail(id)
		if !errors.Is(err, model.ErrDownloadFailed) {
			err = fmt.Errorf("%w: %v", model.ErrDownloadFailed, err)
		}
		logger.Warn("download failed", slog.String("error", err.Error()))
		return nil, err
	}

	loc := s.tier.Persist(ctx, res.Path, id)
	if err := s.registry.MarkReady(id, loc, res.Filename); err != nil {
		// The session expired while the engine was running. Nothing can
		// reach this artifact anymore.
		s.tier.Delete(ctx, loc)
		s.tier.DeleteSessionDir(id)
		return nil, fmt.Errorf("%w: session %s ended before completion", model.ErrDownloadFailed, id)
	}

	s.cache.Set(ctx, key, &model.CachedArtifact{
		SessionID: id,
		Filename:  res.Filename,
		Location:  loc,
		CachedAt:  s.now(),
	}, s.cacheTTL)

	sess, err := s.registry.Get(id)
	if err != nil {
		// The session ended before the entry was stored, so the expiry
		// listener could not drop it.
		s.invalidate(ctx, model.Session{ID: id, CacheKey: key, Status: model.StatusExpired, Location: loc})
		if out, ok := s.lookupCached(ctx, key); ok && out.SessionID == id {
			out.Cached = false
			return out, nil
		}
		return nil, fmt.Errorf("%w: session %s ended before completion", model.ErrDownloadFailed, id)
	}
	return s.buildOutput(ctx, sess, false), nil
}

func (s *downloadService) runEngine(ctx context.Context, id uuid.UUID, input DownloadInput) (*downloader.Result, error) {
	dir, err := s.tier.SessionDir(id)
	if err != nil {
		return nil, err
	}

	if s.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.downloadTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.downloader.Download(ctx, downloader.Request{
		URL:          input.URL,
		Format:       input.Format,
		SubtitleLang: input.SubtitleLang,
		OutputDir:    dir,
	})
	result := metrics.DownloadSuccess
	if err != nil {
		result = metrics.DownloadFailure
	}
	metrics.DownloadDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return res, err
}

func (s *downloadService) fail(id uuid.UUID) {
	if err := s.registry.MarkFailed(id); err != nil && !errors.Is(err, model.ErrSessionNotFound) {
		s.logger.Warn("failed to mark session failed",
			slog.String("session_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
	s.tier.DeleteSessionDir(id)
}

// lookupCached returns a servable output for a cache hit. Entries whose
// artifact is no longer reachable are dropped and reported as a miss.
func (s *downloadService) lookupCached(ctx context.Context, key string) (*DownloadOutput, bool) {
	art, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}

	if sess, err := s.registry.Get(art.SessionID); err == nil && sess.IsReady() {
		return s.buildOutput(ctx, sess, true), true
	}

	// Without retention the artifact went away with its session.
	if art.Location.Kind != model.StorageRemote || !s.registry.RetainsArtifacts() {
		s.cache.Delete(ctx, key)
		return nil, false
	}

	// A retained remote object outlives the session that produced it;
	// presign it directly.
	ref, err := s.tier.Resolve(ctx, art.Location, art.Filename)
	if err != nil {
		s.logger.Warn("cached remote artifact unavailable",
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
		s.cache.Delete(ctx, key)
		return nil, false
	}
	return &DownloadOutput{
		SessionID: art.SessionID,
		Status:    model.StatusReady,
		Filename:  art.Filename,
		Storage:   model.StorageRemote,
		URL:       ref.URL,
		ExpiresAt: ref.ExpiresAt,
		ExpiresIn: ref.ExpiresAt.Sub(s.now()),
		Cached:    true,
	}, true
}

// ResolveArtifact returns the servable reference for a READY session.
func (s *downloadService) ResolveArtifact(ctx context.Context, rawID string) (*model.ServableRef, error) {
	sess, err := s.registry.Lookup(rawID)
	if err != nil {
		return nil, err
	}
	if !sess.IsReady() {
		return nil, model.ErrNotReady
	}
	return s.tier.Resolve(ctx, sess.Location, sess.Filename)
}

// GetSession returns the polling view of a session.
func (s *downloadService) GetSession(ctx context.Context, rawID string) (*DownloadOutput, error) {
	sess, err := s.registry.Lookup(rawID)
	if err != nil {
		return nil, err
	}
	return s.buildOutput(ctx, sess, false), nil
}

// Close stops accepting background work and waits for it. If ctx ends
// first, running downloads are cancelled and awaited.
func (s *downloadService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.cancel()
		<-done
	}
	s.cancel()

	s.registry.Close(context.WithoutCancel(ctx))
	s.closeEvents(ctx)
	return err
}

func (s *downloadService) buildOutput(ctx context.Context, sess model.Session, cached bool) *DownloadOutput {
	out := &DownloadOutput{
		SessionID: sess.ID,
		Status:    sess.Status,
		Filename:  sess.Filename,
		Storage:   sess.Location.Kind,
		ExpiresAt: sess.ExpiresAt,
		ExpiresIn: sess.ExpiresIn(s.now()),
		Cached:    cached,
	}

	if sess.IsReady() && sess.Location.Kind == model.StorageRemote {
		ref, err := s.tier.Resolve(ctx, sess.Location, sess.Filename)
		if err != nil {
			s.logger.Warn("failed to presign artifact",
				slog.String("session_id", sess.ID.String()),
				slog.String("error", err.Error()),
			)
			return out
		}
		out.URL = ref.URL
	}
	return out
}

// prepare fills in the default format and swaps the URL for its canonical
// form so the engine and the cache key agree on the source.
func (s *downloadService) prepare(input DownloadInput) (DownloadInput, string, error) {
	if input.Format == "" {
		input.Format = s.defaultFormat
	}
	normalized, err := model.NormalizeSourceURL(input.URL)
	if err != nil {
		return input, "", err
	}
	input.URL = normalized
	key, err := model.CacheKey(normalized, input.Format, input.SubtitleLang)
	if err != nil {
		return input, "", err
	}
	return input, key, nil
}

// onTransition keeps the cache consistent with the registry and queues the
// lifecycle event. Publishing happens on the dispatcher goroutine so a slow
// broker never holds up a transition.
func (s *downloadService) onTransition(sess model.Session) {
	if sess.Status != model.StatusReady && sess.CacheKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), s.eventTimeout)
		s.invalidate(ctx, sess)
		cancel()
	}
	if event, ok := s.sessionEvent(sess); ok {
		s.enqueue(event)
	}
}

// invalidate drops the cache entry only if it still points at sess; a newer
// session may have replaced it.
func (s *downloadService) invalidate(ctx context.Context, sess model.Session) {
	art, ok := s.cache.Get(ctx, sess.CacheKey)
	if !ok || art.SessionID != sess.ID {
		return
	}
	// A retained remote object can still be presigned after expiry.
	if sess.Status == model.StatusExpired && art.Location.Kind == model.StorageRemote && s.registry.RetainsArtifacts() {
		return
	}
	s.cache.Delete(ctx, sess.CacheKey)
	s.logger.Debug("cache entry invalidated",
		slog.String("session_id", sess.ID.String()),
		slog.String("cache_key", sess.CacheKey),
	)
}

func (s *downloadService) sessionEvent(sess model.Session) (repository.SessionEvent, bool) {
	var eventType repository.EventType
	switch sess.Status {
	case model.StatusReady:
		eventType = repository.EventSessionReady
	case model.StatusFailed:
		eventType = repository.EventSessionFailed
	case model.StatusExpired:
		eventType = repository.EventSessionExpired
	default:
		return repository.SessionEvent{}, false
	}

	return repository.SessionEvent{
		Type:       eventType,
		SessionID:  sess.ID,
		SourceURL:  sess.SourceURL,
		Format:     sess.Format,
		Filename:   sess.Filename,
		Storage:    string(sess.Location.Kind),
		OccurredAt: s.now(),
	}, true
}

// enqueue hands the event to the dispatcher. Events are dropped when the
// buffer is full or the service is closed.
func (s *downloadService) enqueue(event repository.SessionEvent) {
	if s.events == nil {
		return
	}

	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.eventsClosed {
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), metrics.EventStatusDropped).Inc()
		return
	}
	select {
	case s.events <- event:
	default:
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), metrics.EventStatusDropped).Inc()
		s.logger.Warn("event buffer full, dropping session event",
			slog.String("session_id", event.SessionID.String()),
			slog.String("type", string(event.Type)),
		)
	}
}

// dispatchEvents publishes queued events in transition order.
func (s *downloadService) dispatchEvents() {
	defer close(s.eventsDone)
	for event := range s.events {
		s.publish(event)
	}
}

func (s *downloadService) publish(event repository.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.eventTimeout)
	defer cancel()

	if err := s.publisher.PublishSessionEvent(ctx, event); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), metrics.EventStatusError).Inc()
		s.logger.Warn("failed to publish session event",
			slog.String("session_id", event.SessionID.String()),
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), metrics.EventStatusSuccess).Inc()
}

// closeEvents stops the dispatcher after it drains the buffer, or when ctx
// ends.
func (s *downloadService) closeEvents(ctx context.Context) {
	if s.events == nil {
		return
	}

	s.eventsMu.Lock()
	if s.eventsClosed {
		s.eventsMu.Unlock()
		return
	}
	s.eventsClosed = true
	close(s.events)
	s.eventsMu.Unlock()

	select {
	case <-s.eventsDone:
	case <-ctx.Done():
		s.logger.Warn("shutdown before all session events were published",
			slog.Int("pending", len(s.events)),
		)
	}
}

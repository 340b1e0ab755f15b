// Package session owns the lifecycle of download sessions: creation,
// readiness, failure and timed expiry with artifact cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/metrics"
)

const (
	defaultMaxIDAttempts = 8
	cleanupTimeout       = 30 * time.Second
)

var (
	// ErrIDExhausted is returned when no unused identifier was found.
	ErrIDExhausted = errors.New("could not allocate a unique session ID")

	// ErrRegistryClosed is returned by Create after Close.
	ErrRegistryClosed = errors.New("session registry closed")
)

// ArtifactStore removes persisted artifacts. *tier.Tier satisfies it.
type ArtifactStore interface {
	Delete(ctx context.Context, loc model.StorageLocation)
	DeleteSessionDir(id uuid.UUID)
}

// Listener observes terminal transitions (READY, FAILED, EXPIRED). It is
// called synchronously, outside the registry lock.
type Listener func(s model.Session)

// Config holds registry settings.
type Config struct {
	// Timeout is the session lifetime used when CreateInput.Timeout is zero.
	Timeout time.Duration

	// RetainArtifacts leaves artifacts in place when sessions expire. The
	// record is still dropped, so retained files are no longer reachable.
	RetainArtifacts bool

	MaxIDAttempts int
}

// CreateInput describes a new session.
type CreateInput struct {
	Filename  string
	Timeout   time.Duration
	CacheKey  string
	SourceURL string
	Format    string
}

// Registry is the single source of truth for live sessions.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*model.Session
	closed    bool
	scheduler *Scheduler
	store     ArtifactStore
	listeners []Listener

	timeout       time.Duration
	retain        bool
	maxIDAttempts int
	newID         func() (uuid.UUID, error)
	now           func() time.Time
	logger        *slog.Logger
}

// NewRegistry creates a Registry. store may be nil when artifacts are
// managed elsewhere.
func NewRegistry(cfg Config, store ArtifactStore, logger *slog.Logger) (*Registry, error) {
	if cfg.Timeout <= 0 {
		return nil, model.ErrInvalidTimeout
	}
	if cfg.MaxIDAttempts <= 0 {
		cfg.MaxIDAttempts = defaultMaxIDAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		sessions:      make(map[uuid.UUID]*model.Session),
		store:         store,
		timeout:       cfg.Timeout,
		retain:        cfg.RetainArtifacts,
		maxIDAttempts: cfg.MaxIDAttempts,
		newID:         uuid.NewRandom,
		now:           time.Now,
		logger:        logger,
	}
	r.scheduler = NewScheduler(r.expire)
	return r, nil
}

// OnTransition registers a listener. Register listeners before the registry
// is shared between goroutines.
func (r *Registry) OnTransition(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Create registers a PENDING session and arms its expiry timer.
func (r *Registry) Create(in CreateInput) (uuid.UUID, error) {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return uuid.Nil, ErrRegistryClosed
	}

	for attempt := 0; attempt < r.maxIDAttempts; attempt++ {
		id, err := r.newID()
		if err != nil {
			return uuid.Nil, fmt.Errorf("generate session ID: %w", err)
		}
		if _, taken := r.sessions[id]; taken || id == uuid.Nil {
			continue
		}

		s, err := model.NewSession(id, in.Filename, r.now(), timeout)
		if err != nil {
			return uuid.Nil, err
		}
		s.CacheKey = in.CacheKey
		s.SourceURL = in.SourceURL
		s.Format = in.Format

		r.sessions[id] = s
		r.scheduler.Schedule(id, timeout)
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
		metrics.SessionTransitionsTotal.WithLabelValues(model.StatusPending.String()).Inc()

		r.logger.Debug("session created",
			slog.String("session_id", id.String()),
			slog.Time("expires_at", s.ExpiresAt),
		)
		return id, nil
	}

	return uuid.Nil, ErrIDExhausted
}

// MarkReady records the persisted artifact and moves the session to READY.
// A session that expired while its artifact was being produced is not
// brought back: ErrSessionNotFound tells the caller to discard the artifact.
func (r *Registry) MarkReady(id uuid.UUID, loc model.StorageLocation, filename string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("artifact finished after session was gone",
			slog.String("session_id", id.String()),
		)
		return model.ErrSessionNotFound
	}
	if err := s.TransitionTo(model.StatusReady); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("mark ready %s: %w", id, err)
	}
	s.Location = loc
	if filename != "" {
		s.Filename = filename
	}
	snapshot := *s
	r.mu.Unlock()

	metrics.SessionTransitionsTotal.WithLabelValues(model.StatusReady.String()).Inc()
	r.logger.Info("session ready",
		slog.String("session_id", id.String()),
		slog.String("filename", snapshot.Filename),
		slog.String("storage", string(loc.Kind)),
	)
	r.notify(snapshot)
	return nil
}

// MarkFailed moves the session to FAILED and drops it immediately.
func (r *Registry) MarkFailed(id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return model.ErrSessionNotFound
	}
	if err := s.TransitionTo(model.StatusFailed); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	delete(r.sessions, id)
	r.scheduler.Cancel(id)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	snapshot := *s
	r.mu.Unlock()

	metrics.SessionTransitionsTotal.WithLabelValues(model.StatusFailed.String()).Inc()
	r.logger.Info("session failed", slog.String("session_id", id.String()))
	r.notify(snapshot)
	return nil
}

// Lookup validates raw as a canonical UUIDv4 before looking it up.
func (r *Registry) Lookup(raw string) (model.Session, error) {
	id, err := model.ParseSessionID(raw)
	if err != nil {
		return model.Session{}, err
	}
	return r.Get(id)
}

// Get returns a copy of the session.
func (r *Registry) Get(id uuid.UUID) (model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return model.Session{}, model.ErrSessionNotFound
	}
	return *s, nil
}

// Purge expires the session now and deletes its artifact. It is a no-op for
// unknown sessions.
func (r *Registry) Purge(ctx context.Context, id uuid.UUID) {
	r.remove(ctx, id, true)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RetainsArtifacts reports whether expiry leaves artifacts in place.
func (r *Registry) RetainsArtifacts() bool {
	return r.retain
}

// PendingTimers returns the number of armed expiry timers.
func (r *Registry) PendingTimers() int {
	return r.scheduler.Pending()
}

// Close stops every timer, waits for running expiries and then drops all
// remaining sessions. Artifacts are kept when retention is on.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	// Must run without r.mu: running expiry callbacks need it.
	r.scheduler.Close()

	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.remove(ctx, id, !r.retain)
	}
	r.logger.Info("session registry closed", slog.Int("purged", len(ids)))
}

// expire is the scheduler callback.
func (r *Registry) expire(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	r.remove(ctx, id, !r.retain)
}

func (r *Registry) remove(ctx context.Context, id uuid.UUID, deleteArtifact bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	prev := s.Status
	delete(r.sessions, id)
	r.scheduler.Cancel(id)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	if err := s.TransitionTo(model.StatusExpired); err != nil {
		r.logger.Warn("unexpected status on expiry",
			slog.String("session_id", id.String()),
			slog.String("status", prev.String()),
		)
	}
	snapshot := *s
	r.mu.Unlock()

	metrics.SessionTransitionsTotal.WithLabelValues(model.StatusExpired.String()).Inc()

	if deleteArtifact && r.store != nil && prev == model.StatusReady {
		if !snapshot.Location.IsZero() {
			r.store.Delete(ctx, snapshot.Location)
		}
		r.store.DeleteSessionDir(id)
	}

	r.logger.Info("session expired",
		slog.String("session_id", id.String()),
		slog.String("previous_status", prev.String()),
		slog.Bool("artifact_deleted", deleteArtifact && prev == model.StatusReady),
	)
	r.notify(snapshot)
}

func (r *Registry) notify(s model.Session) {
	for _, l := range r.listeners {
		l(s)
	}
}

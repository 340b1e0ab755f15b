package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a session lifecycle transition.
type EventType string

const (
	EventSessionReady   EventType = "session.ready"
	EventSessionFailed  EventType = "session.failed"
	EventSessionExpired EventType = "session.expired"
)

// SessionEvent is the message emitted on every terminal session transition.
type SessionEvent struct {
	Type       EventType `json:"type"`
	SessionID  uuid.UUID `json:"session_id"`
	SourceURL  string    `json:"source_url,omitempty"`
	Format     string    `json:"format,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Storage    string    `json:"storage,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	RetryCount int       `json:"retry_count"`
}

// EventPublisher sends session lifecycle events to interested consumers.
type EventPublisher interface {
	// PublishSessionEvent sends one event. Used by the API server.
	PublishSessionEvent(ctx context.Context, event SessionEvent) error

	// Close gracefully closes the underlying connection.
	Close() error
}

// EventConsumer delivers session events to a handler until ctx is cancelled.
// Used by the worker service.
type EventConsumer interface {
	ConsumeSessionEvents(ctx context.Context, handler func(event SessionEvent) error) error
	Close() error
}

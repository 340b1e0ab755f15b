package model

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a download session.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusReady   Status = "READY"
	StatusFailed  Status = "FAILED"
	StatusExpired Status = "EXPIRED"
)

// Valid status transitions:
//
//	PENDING -> READY  -> EXPIRED
//	       \-> FAILED -> EXPIRED
//	       \-> EXPIRED
var validTransitions = map[Status][]Status{
	StatusPending: {StatusReady, StatusFailed, StatusExpired},
	StatusReady:   {StatusExpired},
	StatusFailed:  {StatusExpired},
	StatusExpired: {},
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusReady, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

func (s Status) CanTransitionTo(next Status) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == next {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Session is the lifecycle record of one downloaded artifact.
type Session struct {
	ID        uuid.UUID
	Filename  string
	SourceURL string
	Format    string
	CacheKey  string
	Status    Status
	Location  StorageLocation
	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// NewSession creates a PENDING session expiring timeout after now.
func NewSession(id uuid.UUID, filename string, now time.Time, timeout time.Duration) (*Session, error) {
	if id == uuid.Nil {
		return nil, ErrNilSessionID
	}
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	return &Session{
		ID:        id,
		Filename:  filename,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(timeout),
		UpdatedAt: now,
	}, nil
}

// TransitionTo attempts to change the session status.
func (s *Session) TransitionTo(next Status) error {
	if !next.IsValid() || !s.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	s.Status = next
	s.UpdatedAt = time.Now()
	return nil
}

func (s *Session) IsReady() bool {
	return s.Status == StatusReady
}

// ExpiresIn returns the remaining lifetime at now, never negative.
func (s *Session) ExpiresIn(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ParseSessionID accepts only the canonical lowercase form of a version 4
// UUID. Braced, URN and uppercase spellings are rejected so that the value
// can be used verbatim as a path segment.
func ParseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidIdentifier
	}
	if id.Version() != 4 || id.Variant() != uuid.RFC4122 || id.String() != raw {
		return uuid.Nil, ErrInvalidIdentifier
	}
	return id, nil
}

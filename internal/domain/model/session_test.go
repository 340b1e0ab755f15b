package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStatus_IsValid(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, true},
		{StatusReady, true},
		{StatusFailed, true},
		{StatusExpired, true},
		{Status("UNKNOWN"), false},
		{Status(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.want {
				t.Errorf("Status(%q).IsValid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusReady, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusPending, false},

		{StatusReady, StatusExpired, true},
		{StatusReady, StatusPending, false},
		{StatusReady, StatusFailed, false},

		{StatusFailed, StatusExpired, true},
		{StatusFailed, StatusReady, false},

		{StatusExpired, StatusPending, false},
		{StatusExpired, StatusReady, false},
		{StatusExpired, StatusExpired, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestNewSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("valid", func(t *testing.T) {
		id := uuid.New()
		s, err := NewSession(id, "clip.mp4", now, 5*time.Minute)
		if err != nil {
			t.Fatalf("NewSession() error = %v", err)
		}
		if s.Status != StatusPending {
			t.Errorf("Status = %s, want %s", s.Status, StatusPending)
		}
		if !s.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
			t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, now.Add(5*time.Minute))
		}
		if !s.Location.IsZero() {
			t.Errorf("Location = %+v, want zero", s.Location)
		}
	})

	t.Run("nil id", func(t *testing.T) {
		_, err := NewSession(uuid.Nil, "clip.mp4", now, time.Minute)
		if !errors.Is(err, ErrNilSessionID) {
			t.Errorf("error = %v, want %v", err, ErrNilSessionID)
		}
	})

	t.Run("non-positive timeout", func(t *testing.T) {
		_, err := NewSession(uuid.New(), "clip.mp4", now, 0)
		if !errors.Is(err, ErrInvalidTimeout) {
			t.Errorf("error = %v, want %v", err, ErrInvalidTimeout)
		}
	})
}

func TestSession_TransitionTo(t *testing.T) {
	s, err := NewSession(uuid.New(), "clip.mp4", time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	if err := s.TransitionTo(StatusReady); err != nil {
		t.Fatalf("TransitionTo(READY) error = %v", err)
	}
	if !s.IsReady() {
		t.Error("IsReady() = false after transition to READY")
	}

	if err := s.TransitionTo(StatusFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("TransitionTo(FAILED) error = %v, want %v", err, ErrInvalidTransition)
	}
	if s.Status != StatusReady {
		t.Errorf("Status = %s after rejected transition, want READY", s.Status)
	}

	if err := s.TransitionTo(StatusExpired); err != nil {
		t.Fatalf("TransitionTo(EXPIRED) error = %v", err)
	}
	if err := s.TransitionTo(StatusExpired); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second TransitionTo(EXPIRED) error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestSession_ExpiresIn(t *testing.T) {
	now := time.Now()
	s, _ := NewSession(uuid.New(), "clip.mp4", now, time.Minute)

	if got := s.ExpiresIn(now.Add(20 * time.Second)); got != 40*time.Second {
		t.Errorf("ExpiresIn() = %v, want 40s", got)
	}
	if got := s.ExpiresIn(now.Add(2 * time.Minute)); got != 0 {
		t.Errorf("ExpiresIn() after expiry = %v, want 0", got)
	}
}

func TestParseSessionID(t *testing.T) {
	valid := uuid.New().String()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"canonical v4", valid, false},
		{"empty", "", true},
		{"garbage", "not-a-uuid", true},
		{"traversal", "../../etc/passwd", true},
		{"uppercase", "6BA7B810-9DAD-41D1-80B4-00C04FD430C8", true},
		{"braced", "{" + valid + "}", true},
		{"urn", "urn:uuid:" + valid, true},
		{"version 1", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{"nil uuid", uuid.Nil.String(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseSessionID(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidIdentifier) {
					t.Errorf("ParseSessionID(%q) error = %v, want %v", tt.raw, err, ErrInvalidIdentifier)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSessionID(%q) unexpected error = %v", tt.raw, err)
			}
			if id.String() != tt.raw {
				t.Errorf("ParseSessionID(%q) = %s", tt.raw, id)
			}
		})
	}
}

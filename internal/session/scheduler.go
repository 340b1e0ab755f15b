package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler runs one expiry timer per session. A timer that was cancelled or
// replaced never reaches the fire callback, even if it had already started.
type Scheduler struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	fire   func(id uuid.UUID)
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler that calls fire when a timer elapses.
// fire runs on its own goroutine without any scheduler lock held.
func NewScheduler(fire func(id uuid.UUID)) *Scheduler {
	return &Scheduler{
		timers: make(map[uuid.UUID]*time.Timer),
		fire:   fire,
	}
}

// Schedule arms the timer for id, replacing any existing one. It returns
// false once the scheduler is closed.
func (s *Scheduler) Schedule(id uuid.UUID, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}

	// The callback takes s.mu before reading t, so the assignment below is
	// always visible to it.
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.closed || s.timers[id] != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		s.fire(id)
	})
	s.timers[id] = t
	return true
}

// Cancel stops the timer for id. It reports whether a timer was pending.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every timer and waits for callbacks already running.
// It is safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

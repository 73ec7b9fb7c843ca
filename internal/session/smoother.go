package session

import (
	"sync"
	"time"

	"palchat/internal/models"
)

const DefaultStatusMinDisplay = 400 * time.Millisecond

// NoStatusSmoothing shows every status as soon as it arrives.
const NoStatusSmoothing time.Duration = -1

// Timer is the part of *time.Timer the smoother needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so the smoothing policy can be driven by hand in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Smoother paces status display: statuses are shown in arrival order, each one
// for at least minDisplay before the next replaces it. Nothing is dropped or
// merged. Clear is immediate.
type Smoother struct {
	mu         sync.Mutex
	minDisplay time.Duration
	clock      Clock
	display    func(*models.StatusEvent)

	queue   []models.StatusEvent
	showing bool
	shownAt time.Time
	timer   Timer
	epoch   uint64
}

// NewSmoother calls display with each status to show and with nil on clear.
// display runs with the smoother's lock held and must not call back into it.
func NewSmoother(minDisplay time.Duration, clock Clock, display func(*models.StatusEvent)) *Smoother {
	if clock == nil {
		clock = realClock{}
	}
	if display == nil {
		display = func(*models.StatusEvent) {}
	}
	return &Smoother{minDisplay: minDisplay, clock: clock, display: display}
}

// Push queues ev in the current epoch.
func (s *Smoother) Push(ev models.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLocked(ev)
}

// PushEpoch queues ev only if no Clear happened since the one that returned
// epoch. It reports whether ev was accepted.
func (s *Smoother) PushEpoch(epoch uint64, ev models.StatusEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	s.pushLocked(ev)
	return true
}

func (s *Smoother) pushLocked(ev models.StatusEvent) {
	if len(s.queue) == 0 && s.timer == nil {
		elapsed := s.clock.Now().Sub(s.shownAt)
		if !s.showing || elapsed >= s.minDisplay {
			s.showLocked(ev)
			return
		}
		s.queue = append(s.queue, ev)
		s.scheduleLocked(s.minDisplay - elapsed)
		return
	}
	s.queue = append(s.queue, ev)
}

// Clear drops queued statuses, blanks the display and starts a new epoch,
// which it returns.
func (s *Smoother) Clear() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.queue = nil
	if s.showing {
		s.showing = false
		s.display(nil)
	}
	return s.epoch
}

// Pending returns the number of statuses waiting for display.
func (s *Smoother) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Smoother) showLocked(ev models.StatusEvent) {
	s.showing = true
	s.shownAt = s.clock.Now()
	s.display(&ev)
}

func (s *Smoother) scheduleLocked(d time.Duration) {
	epoch := s.epoch
	s.timer = s.clock.AfterFunc(d, func() { s.advance(epoch) })
}

func (s *Smoother) advance(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.timer = nil
	if len(s.queue) == 0 {
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.showLocked(next)
	if len(s.queue) > 0 {
		s.scheduleLocked(s.minDisplay)
	}
}

package chrono

import (
	"context"
	"sync"
	"time"
)

// Simulated is a clock where sleeping advances time instantly. Every
// sleep duration is recorded so tests can assert on scheduling decisions
// without waiting in real time.
type Simulated struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	onTick func(now time.Time)
}

func NewSimulated(start time.Time) *Simulated {
	return &Simulated{now: start}
}

func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Simulated) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if d > 0 {
		s.now = s.now.Add(d)
		s.slept = append(s.slept, d)
	}
	tick := s.onTick
	now := s.now
	s.mu.Unlock()
	if tick != nil {
		tick(now)
	}
	return nil
}

// Advance moves the clock forward without recording a sleep.
func (s *Simulated) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}

// Slept returns every duration passed to Sleep, in order.
func (s *Simulated) Slept() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.slept))
	copy(out, s.slept)
	return out
}

// OnTick registers a callback invoked after each sleep with the new
// current time.
func (s *Simulated) OnTick(fn func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = fn
}

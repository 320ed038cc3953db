package logsampler

import (
	"sync/atomic"
	"time"
)

// RateSampler allows at most burst lines per window, whatever their key.
// The first line let through after a quiet period carries the number of
// lines dropped in between.
type RateSampler struct {
	burst      int64
	window     int64
	clock      clock
	start      atomic.Int64 // current window start, unix nanoseconds
	used       atomic.Int64
	suppressed atomic.Int64
}

// NewRateSampler returns a sampler passing burst lines every window. A burst
// below 1 is treated as 1.
func NewRateSampler(burst int, window time.Duration) *RateSampler {
	s := &RateSampler{
		burst:  int64(max(burst, 1)),
		window: int64(window),
		clock:  systemClock{},
	}
	s.start.Store(s.clock.Now().UnixNano())
	return s
}

// ShouldLog implements [Sampler]. Only the goroutine that wins the window
// rollover resets the budget.
func (s *RateSampler) ShouldLog(_ string, _ error) (bool, int64) {
	now := s.clock.Now().UnixNano()
	if start := s.start.Load(); now-start >= s.window && s.start.CompareAndSwap(start, now) {
		s.used.Store(0)
	}
	if s.used.Add(1) > s.burst {
		s.suppressed.Add(1)
		return false, 0
	}
	return true, s.suppressed.Swap(0)
}

// Flush forgets the suppressed count; there is no reporter to send it to.
func (s *RateSampler) Flush() { s.suppressed.Store(0) }

// Close implements [Sampler].
func (s *RateSampler) Close() { s.Flush() }

// SetClock replaces the time source and restarts the window, for tests.
func (s *RateSampler) SetClock(c clock) {
	s.clock = c
	s.start.Store(c.Now().UnixNano())
	s.used.Store(0)
}

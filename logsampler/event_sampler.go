package logsampler

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// keyState is the backoff state of one key. It lives in an LRU list so stale
// keys can be evicted from the back without scanning the map.
type keyState struct {
	key         string
	suppressed  atomic.Int64
	lastLogTime int64
	window      int64
	elem        *list.Element
}

// EventDrivenSampler applies exponential backoff per key without any
// background goroutine. Stale keys are evicted while handling new calls.
type EventDrivenSampler struct {
	config   BackoffConfig
	reporter SummaryReporter
	clock    clock

	mu    sync.Mutex
	keys  map[string]*keyState
	order *list.List // front is most recently used
}

// NewEventDrivenSampler creates a sampler reporting summaries of evicted keys
// to reporter. It returns nil if reporter is nil.
func NewEventDrivenSampler(config BackoffConfig, reporter SummaryReporter) *EventDrivenSampler {
	if reporter == nil {
		return nil
	}
	return &EventDrivenSampler{
		config:   config,
		reporter: reporter,
		clock:    systemClock{},
		keys:     make(map[string]*keyState, 16),
		order:    list.New(),
	}
}

// ShouldLog implements [Sampler].
func (s *EventDrivenSampler) ShouldLog(key string, err error) (bool, int64) {
	now := s.clock.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictStale(now)

	st, ok := s.keys[key]
	if !ok {
		st = &keyState{key: key, lastLogTime: now, window: int64(s.config.InitialInterval)}
		st.elem = s.order.PushFront(st)
		s.keys[key] = st
		return true, 0
	}
	s.order.MoveToFront(st.elem)

	// Keys idle past ResetInterval were evicted above and start over as new.
	if now-st.lastLogTime > st.window {
		st.lastLogTime = now
		next := int64(float64(st.window) * s.config.Factor)
		if limit := int64(s.config.MaxInterval); limit > 0 && next > limit {
			next = limit
		}
		st.window = next
		return true, st.suppressed.Swap(0)
	}

	st.suppressed.Add(1)
	return false, 0
}

// evictStale drops keys idle for longer than ResetInterval, oldest first.
// Must be called with mu held.
func (s *EventDrivenSampler) evictStale(now int64) {
	if s.config.ResetInterval <= 0 {
		return
	}
	threshold := now - int64(s.config.ResetInterval)
	for e := s.order.Back(); e != nil; e = s.order.Back() {
		st := e.Value.(*keyState)
		if st.lastLogTime >= threshold {
			return
		}
		if n := st.suppressed.Swap(0); n > 0 {
			s.reporter.LogSummary(st.key, n)
		}
		s.order.Remove(e)
		delete(s.keys, st.key)
	}
}

// Flush reports every key with suppressed lines and clears all state.
func (s *EventDrivenSampler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, st := range s.keys {
		if n := st.suppressed.Swap(0); n > 0 {
			s.reporter.LogSummary(key, n)
		}
	}
	s.keys = make(map[string]*keyState, 16)
	s.order.Init()
}

// Close is equivalent to Flush.
func (s *EventDrivenSampler) Close() {
	s.Flush()
}

// SetClock replaces the time source, for tests.
func (s *EventDrivenSampler) SetClock(c clock) {
	s.clock = c
}

package mtrace

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Flags configure a trace session.
type Flags uint32

const (
	// FlagCountAllocs enables the host allocation counters for the
	// duration of the session and reports them in the footer.
	FlagCountAllocs Flags = 0x01
)

// traceSession is the state of one Start/Stop pair. It is the listener
// registered with the host, so every callback receives it as receiver.
type traceSession struct {
	id         uuid.UUID
	sink       sink
	flags      Flags
	source     ClockSource
	clock      Clock
	recordSize int
	start      time.Time
	buf        *eventBuffer

	// threadCPUBase holds the thread cpu time of each thread's first event,
	// keyed by host thread id.
	threadCPUBase sync.Map // uint32 -> time.Duration
}

func newTraceSession(sk sink, bufferSize int, flags Flags, source ClockSource, clock Clock) (*traceSession, error) {
	s := &traceSession{
		id:         uuid.New(),
		sink:       sk,
		flags:      flags,
		source:     source,
		clock:      clock,
		recordSize: source.RecordSize(),
		start:      clock.Now(),
		buf:        newEventBuffer(bufferSize),
	}
	if err := newHeader(source, s.start).put(s.buf.data); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *traceSession) countAllocs() bool {
	return s.flags&FlagCountAllocs != 0
}

// logEvent appends one record. It is called concurrently from every host
// thread and never blocks; a full buffer drops the event.
func (s *traceSession) logEvent(thread Thread, method MethodID, action Action) {
	word, err := EncodeMethodAndAction(method, action)
	if err != nil {
		lislog.SampledErrorWithErrSig("listener.misaligned", err).
			Uint32("tid", thread.ThreadID()).
			Msg("Dropping event for misaligned method identity")
		return
	}

	off, ok := s.buf.reserve(s.recordSize)
	if !ok {
		metricEventsDropped.Inc()
		ovflog.SampledWarn("listener.overflow").
			Str("session", s.id.String()).
			Int("capacity", len(s.buf.data)).
			Msg("Trace buffer full, dropping events")
		return
	}

	w := recordWriter{b: s.buf.data[off : off+s.recordSize]}
	w.putUint16(uint16(thread.ThreadID()))
	w.putUint32(word)
	if s.source.UsesThreadCPU() {
		w.putUint32(s.threadCPUDelta(thread.ThreadID()))
	}
	if s.source.UsesWall() {
		w.putUint32(durationMicros(s.clock.Now().Sub(s.start)))
	}
	if w.err != nil {
		lislog.SampledErrorWithErrSig("listener.encode", w.err).Msg("Record encoding failed")
	}
}

// threadCPUDelta returns the thread cpu time since the thread's first event.
// The first event of a thread seeds its base and records zero.
func (s *traceSession) threadCPUDelta(tid uint32) uint32 {
	now := s.clock.ThreadCPUTime()
	base, loaded := s.threadCPUBase.LoadOrStore(tid, now)
	if !loaded {
		return 0
	}
	return durationMicros(now - base.(time.Duration))
}

// MethodEntered implements [Listener].
func (s *traceSession) MethodEntered(thread Thread, method MethodID) {
	s.logEvent(thread, method, ActionEnter)
}

// MethodExited implements [Listener]. The return value is not traced.
func (s *traceSession) MethodExited(thread Thread, method MethodID, _ any) {
	s.logEvent(thread, method, ActionExit)
}

// MethodUnwind implements [Listener].
func (s *traceSession) MethodUnwind(thread Thread, method MethodID) {
	s.logEvent(thread, method, ActionUnwind)
}

// Unexpected implements [Listener]. The session never subscribes to
// stepping or exception-caught notifications; receiving one is logged and
// otherwise ignored.
func (s *traceSession) Unexpected(thread Thread, event InstrumentationEvent, method MethodID) {
	metricUnexpectedEvents.WithLabelValues(event.String()).Inc()
	var tid uint32
	if thread != nil {
		tid = thread.ThreadID()
	}
	lislog.SampledError("listener.unexpected."+event.String()).
		Str("event", event.String()).
		Uint32("tid", tid).
		Uint32("method", uint32(method)).
		Msg("Unexpected event in tracing")
}

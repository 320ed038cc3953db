package mtrace

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// State of a Tracer.
type State int32

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// StartOptions configure one session.
type StartOptions struct {
	// TraceFile is created or truncated at Start. Ignored if Writer is set
	// or DirectToChannel is true.
	TraceFile string
	// Writer is an already open output. The tracer never closes it.
	Writer io.Writer
	// BufferSize is the capacity in bytes, header included.
	BufferSize int
	Flags      Flags
	// DirectToChannel streams the artifact through the ChunkSender instead
	// of writing a file.
	DirectToChannel bool
}

// Tracer controls method tracing for one host runtime. At most one session
// is active at a time. The zero value is not usable; use NewTracer.
type Tracer struct {
	host Host

	// lifecycle serializes Start and Stop, which suspend the host threads.
	lifecycle sync.Mutex

	mu            sync.Mutex // guards the fields below
	state         State
	session       *traceSession
	defaultSource ClockSource
	clock         Clock
	chunks        ChunkSender
	chunkType     ChunkType
	vmName        string
}

// NewTracer creates an idle tracer for host using the system clock.
func NewTracer(host Host) *Tracer {
	var c Clock = SystemClock{}
	return &Tracer{
		host:          host,
		defaultSource: defaultClockSource(c),
		clock:         c,
		chunkType:     ChunkTypeMPSE,
		vmName:        "go",
	}
}

// SetClock replaces the clock used by sessions started afterwards and
// resets the default clock source for it.
func (t *Tracer) SetClock(c Clock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clock = c
	t.defaultSource = defaultClockSource(c)
}

// SetChunkSender sets the external channel used when DirectToChannel is
// requested.
func (t *Tracer) SetChunkSender(s ChunkSender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = s
}

// SetVMName sets the value of the footer "vm" key.
func (t *Tracer) SetVMName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vmName = name
}

// SetDefaultClockSource sets the clock source of sessions started
// afterwards. Without per-thread cpu timers the request is downgraded to
// the wall clock.
func (t *Tracer) SetDefaultClockSource(source ClockSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if source != ClockSourceWall && !t.clock.HasThreadCPU() {
		seslog.Warn().Str("requested", source.String()).
			Msg("Ignoring tracing request to use thread cpu clock, using wall clock")
		source = ClockSourceWall
	}
	t.defaultSource = source
}

// DefaultClockSource returns the source the next session will use.
func (t *Tracer) DefaultClockSource() ClockSource {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.defaultSource
}

// IsActive reports whether a session is running.
func (t *Tracer) IsActive() bool {
	return t.State() == StateActive
}

// State returns the current state.
func (t *Tracer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start begins a session writing to traceFile, or streaming to the chunk
// sender when directToChannel is set.
func (t *Tracer) Start(traceFile string, bufferSize int, flags Flags, directToChannel bool) error {
	return t.StartWithOptions(StartOptions{
		TraceFile:       traceFile,
		BufferSize:      bufferSize,
		Flags:           flags,
		DirectToChannel: directToChannel,
	})
}

// StartWithOptions begins a session. It returns ErrAlreadyActive if one is
// running and a *SinkOpenError if the output cannot be opened; in both cases
// no state changes.
func (t *Tracer) StartWithOptions(opts StartOptions) error {
	if opts.BufferSize < HeaderLength {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidBufferSize, opts.BufferSize, HeaderLength)
	}

	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	active := t.state == StateActive
	source, clock := t.defaultSource, t.clock
	chunks, chunkType := t.chunks, t.chunkType
	t.mu.Unlock()

	if active {
		seslog.Error().Msg("Trace already in progress, ignoring this request")
		return ErrAlreadyActive
	}
	if source.UsesThreadCPU() && !clock.HasThreadCPU() {
		source = ClockSourceWall
	}

	t.host.SuspendAll()
	defer t.host.ResumeAll()

	sk, err := openSink(opts, chunks, chunkType)
	if err != nil {
		seslog.Error().Err(err).Msg("Unable to open trace output")
		return err
	}

	s, err := newTraceSession(sk, opts.BufferSize, opts.Flags, source, clock)
	if err != nil {
		_ = sk.close()
		return err
	}

	t.host.AddListener(s, traceEvents)
	if s.countAllocs() {
		t.host.SetStatsEnabled(true)
	}

	t.mu.Lock()
	t.session = s
	t.state = StateActive
	t.mu.Unlock()

	metricSessionsStarted.Inc()
	seslog.Info().Str("session", s.id.String()).
		Str("output", sk.String()).
		Int("bufferSize", opts.BufferSize).
		Str("clock", source.String()).
		Uint32("flags", uint32(opts.Flags)).
		Msg("Method tracing started")
	return nil
}

func openSink(opts StartOptions, chunks ChunkSender, typ ChunkType) (sink, error) {
	switch {
	case opts.DirectToChannel:
		if chunks == nil {
			return nil, &SinkOpenError{Path: typ.String(), Err: ErrNoChunkSender}
		}
		return &chunkSink{sender: chunks, typ: typ}, nil
	case opts.Writer != nil:
		return newWriterSink(opts.Writer), nil
	default:
		return openFileSink(opts.TraceFile)
	}
}

// Stop ends the running session and writes its artifact. Without a
// running session it logs and returns ErrNotActive without any I/O. A
// *SinkWriteError is returned if the artifact could not be written; the
// session is torn down either way.
func (t *Tracer) Stop() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.host.SuspendAll()
	defer t.host.ResumeAll()

	t.mu.Lock()
	s := t.session
	vm := t.vmName
	t.session = nil
	t.state = StateIdle
	t.mu.Unlock()

	if s == nil {
		seslog.Error().Msg("Trace stop requested, but no trace currently running")
		return ErrNotActive
	}

	t.host.RemoveListener(s, traceEvents)
	return t.finish(s, vm)
}

// Shutdown stops the running session, if any. Used at host teardown.
func (t *Tracer) Shutdown() error {
	if !t.IsActive() {
		return nil
	}
	if err := t.Stop(); !errors.Is(err, ErrNotActive) {
		return err
	}
	return nil
}

// finish serializes the session and releases its output.
func (t *Tracer) finish(s *traceSession, vm string) error {
	elapsed := s.clock.Now().Sub(s.start)
	overhead := measureClockOverhead(s.clock, s.source)

	footer := buildFooter(s, t.host, vm, uint64(max(elapsed.Microseconds(), 0)), overhead)
	if s.countAllocs() {
		t.host.SetStatsEnabled(false)
	}
	text := footer.AppendText(make([]byte, 0, 4096))
	body := s.buf.contents()

	err := s.sink.write(text, body)
	if cerr := s.sink.close(); err == nil && cerr != nil {
		err = &SinkWriteError{Err: cerr}
	}

	metricRecordsWritten.Add(float64(footer.MethodCalls))
	metricSessionDurationSeconds.Observe(elapsed.Seconds())

	if err != nil {
		metricSinkErrors.Inc()
		seslog.Error().Err(err).Str("session", s.id.String()).
			Str("output", s.sink.String()).Msg("Trace data write failed")
		return err
	}

	seslog.Info().Str("session", s.id.String()).
		Str("output", s.sink.String()).
		Int("records", footer.MethodCalls).
		Int("methods", len(footer.Methods)).
		Bool("overflow", footer.Overflow).
		Int64("elapsedUsec", elapsed.Microseconds()).
		Msg("Method tracing stopped")
	return nil
}

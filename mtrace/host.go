package mtrace

// This file declares what the tracer needs from the runtime that embeds it.
// None of it is implemented here.

// MethodID is the identity of a method as the host sees it. It must be
// 4-byte aligned: the two low bits carry the [Action] in a record.
type MethodID uint32

// Aligned reports whether the identity leaves the action bits free.
func (m MethodID) Aligned() bool { return uint32(m)&actionMask == 0 }

// Thread is a host thread delivering events.
type Thread interface {
	// ThreadID is the host thread id. Only the low 16 bits are recorded.
	ThreadID() uint32
	ThreadName() string
}

// MethodInfo describes a method in the footer.
type MethodInfo struct {
	DeclaringClass string // pretty form, e.g. "java.lang.String"
	Name           string
	Signature      string
	SourceFile     string
}

// MethodResolver maps a recorded identity back to its description.
type MethodResolver interface {
	ResolveMethod(id MethodID) (MethodInfo, bool)
}

// ThreadList is the host thread registry and its suspend/resume primitives.
type ThreadList interface {
	// SuspendAll pauses every host thread except the caller.
	SuspendAll()
	ResumeAll()
	// ForEachThread calls fn for every live thread.
	ForEachThread(fn func(Thread))
}

// InstrumentationEvent is a bitmask of the notifications a listener
// subscribes to.
type InstrumentationEvent uint32

const (
	EventMethodEntered InstrumentationEvent = 1 << iota
	EventMethodExited
	EventMethodUnwind
	EventInstructionStep // per-instruction stepping, never subscribed by the tracer
	EventExceptionCaught
)

// traceEvents is the subscription of a trace session.
const traceEvents = EventMethodEntered | EventMethodExited | EventMethodUnwind

func (e InstrumentationEvent) String() string {
	switch e {
	case EventMethodEntered:
		return "method-entered"
	case EventMethodExited:
		return "method-exited"
	case EventMethodUnwind:
		return "method-unwind"
	case EventInstructionStep:
		return "instruction-step"
	case EventExceptionCaught:
		return "exception-caught"
	}
	return "mixed-events"
}

// Listener receives instrumentation notifications.
type Listener interface {
	MethodEntered(thread Thread, method MethodID)
	// MethodExited carries the return value, which tracing ignores.
	MethodExited(thread Thread, method MethodID, returnValue any)
	// MethodUnwind is an exit caused by an exception propagating.
	MethodUnwind(thread Thread, method MethodID)
	// Unexpected receives any notification the listener did not subscribe to.
	Unexpected(thread Thread, event InstrumentationEvent, method MethodID)
}

// Instrumentation dispatches method notifications to listeners.
type Instrumentation interface {
	AddListener(l Listener, events InstrumentationEvent)
	RemoveListener(l Listener, events InstrumentationEvent)
}

// StatKind selects a host allocation counter.
type StatKind int

const (
	StatAllocatedObjects StatKind = iota
	StatAllocatedBytes
	StatGCInvocations
)

// Stats gives access to the host allocation counters.
type Stats interface {
	SetStatsEnabled(enabled bool)
	Stat(kind StatKind) uint64
}

// Host is everything the tracer uses from the embedding runtime.
type Host interface {
	ThreadList
	Instrumentation
	MethodResolver
	Stats
}

// ChunkType tags a message on the external diagnostic channel. It is four
// ASCII characters packed big-endian.
type ChunkType uint32

// ChunkTypeMPSE tags a method profiling stream end message.
const ChunkTypeMPSE ChunkType = 'M'<<24 | 'P'<<16 | 'S'<<8 | 'E'

// MakeChunkType packs the first four bytes of s.
func MakeChunkType(s string) ChunkType {
	var b [4]byte
	copy(b[:], s)
	return ChunkType(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

func (c ChunkType) String() string {
	return string([]byte{byte(c >> 24), byte(c >> 16), byte(c >> 8), byte(c)})
}

// ChunkSender sends one message made of several parts to the external
// diagnostic channel.
type ChunkSender interface {
	SendChunk(typ ChunkType, parts ...[]byte) error
}

package mtrace

import (
	"strconv"

	"github.com/tekert/gomtrace/internal/hexf"
)

const tokenChar = '*'

// Footer section markers.
const (
	sectionVersion = "version"
	sectionThreads = "threads"
	sectionMethods = "methods"
	sectionEnd     = "end"
)

// Footer keys.
const (
	keyOverflow      = "data-file-overflow"
	keyClock         = "clock"
	keyElapsed       = "elapsed-time-usec"
	keyMethodCalls   = "num-method-calls"
	keyClockOverhead = "clock-call-overhead-nsec"
	keyVM            = "vm"
	keyAllocCount    = "alloc-count"
	keyAllocSize     = "alloc-size"
	keyGCCount       = "gc-count"
)

// ThreadEntry is one line of the threads section.
type ThreadEntry struct {
	ID   uint32
	Name string
}

// MethodEntry is one line of the methods section.
type MethodEntry struct {
	ID MethodID
	MethodInfo
}

// AllocStats are the host counters reported with FlagCountAllocs.
type AllocStats struct {
	Count     uint64
	Size      uint64
	GCInvokes uint64
}

// Footer is the text metadata block of an artifact.
type Footer struct {
	Version           uint16
	Overflow          bool
	Clock             ClockSource
	ElapsedMicros     uint64
	MethodCalls       int
	ClockOverheadNsec uint32
	VM                string
	Allocs            *AllocStats // nil unless allocation counting was on
	Threads           []ThreadEntry
	Methods           []MethodEntry

	// Extra keeps key/value lines the reader does not know about.
	Extra map[string]string
}

func appendSection(b []byte, name string) []byte {
	b = append(b, tokenChar)
	b = append(b, name...)
	return append(b, '\n')
}

func appendKey(b []byte, key string) []byte {
	b = append(b, key...)
	return append(b, '=')
}

func appendUintKV(b []byte, key string, v uint64) []byte {
	b = appendKey(b, key)
	b = strconv.AppendUint(b, v, 10)
	return append(b, '\n')
}

// AppendText appends the footer in its line format, ending with "*end\n".
func (f *Footer) AppendText(b []byte) []byte {
	b = appendSection(b, sectionVersion)
	b = strconv.AppendUint(b, uint64(f.Version), 10)
	b = append(b, '\n')

	b = appendKey(b, keyOverflow)
	b = strconv.AppendBool(b, f.Overflow)
	b = append(b, '\n')
	b = appendKey(b, keyClock)
	b = append(b, f.Clock.String()...)
	b = append(b, '\n')
	b = appendUintKV(b, keyElapsed, f.ElapsedMicros)
	b = appendUintKV(b, keyMethodCalls, uint64(f.MethodCalls))
	b = appendUintKV(b, keyClockOverhead, uint64(f.ClockOverheadNsec))
	b = appendKey(b, keyVM)
	b = append(b, f.VM...)
	b = append(b, '\n')
	if f.Allocs != nil {
		b = appendUintKV(b, keyAllocCount, f.Allocs.Count)
		b = appendUintKV(b, keyAllocSize, f.Allocs.Size)
		b = appendUintKV(b, keyGCCount, f.Allocs.GCInvokes)
	}

	b = appendSection(b, sectionThreads)
	for _, t := range f.Threads {
		b = strconv.AppendUint(b, uint64(t.ID), 10)
		b = append(b, '\t')
		b = append(b, t.Name...)
		b = append(b, '\n')
	}

	b = appendSection(b, sectionMethods)
	for _, m := range f.Methods {
		b = hexf.AppendNum32p(b, m.ID, true)
		for _, field := range [...]string{m.DeclaringClass, m.Name, m.Signature, m.SourceFile} {
			b = append(b, '\t')
			b = append(b, field...)
		}
		b = append(b, '\n')
	}

	return appendSection(b, sectionEnd)
}

// unknownMethod is listed for identities the host cannot resolve.
var unknownMethod = MethodInfo{DeclaringClass: "?", Name: "?", Signature: "?", SourceFile: "?"}

// buildFooter collects the footer of a stopped session from the host.
func buildFooter(s *traceSession, host Host, vm string, elapsedMicros uint64, overhead uint32) *Footer {
	f := &Footer{
		Version:           s.source.Version(),
		Overflow:          s.buf.overflow.Load(),
		Clock:             s.source,
		ElapsedMicros:     elapsedMicros,
		MethodCalls:       s.buf.recordCount(s.recordSize),
		ClockOverheadNsec: overhead,
		VM:                vm,
	}
	if s.countAllocs() {
		f.Allocs = &AllocStats{
			Count:     host.Stat(StatAllocatedObjects),
			Size:      host.Stat(StatAllocatedBytes),
			GCInvokes: host.Stat(StatGCInvocations),
		}
	}

	host.ForEachThread(func(t Thread) {
		f.Threads = append(f.Threads, ThreadEntry{ID: t.ThreadID(), Name: t.ThreadName()})
	})

	for _, id := range s.buf.visitedMethods(s.recordSize) {
		info, ok := host.ResolveMethod(id)
		if !ok {
			info = unknownMethod
		}
		f.Methods = append(f.Methods, MethodEntry{ID: id, MethodInfo: info})
	}
	return f
}

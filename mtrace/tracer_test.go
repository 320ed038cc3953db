package mtrace

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tekert/gomtrace/internal/test"
)

var (
	mainThread   = &fakeThread{id: 1, name: "main"}
	workerThread = &fakeThread{id: 7, name: "worker-1"}
)

const (
	methodA MethodID = 0x1000
	methodB MethodID = 0x1008
)

func TestEndToEndFile(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceDual, mainThread)
	host.defineMethod(methodA, "LFoo;", "a", "()V", "Foo.java")
	host.defineMethod(methodB, "LFoo;", "b", "(I)I", "Foo.java")

	path := filepath.Join(t.TempDir(), "t.trace")
	tt.CheckErr(tr.Start(path, 1024, 0, false))
	tt.Assert(tr.IsActive(), "tracer not active after Start")

	host.enter(mainThread, methodA)
	host.enter(mainThread, methodB)
	host.exit(mainThread, methodB)
	host.exit(mainThread, methodA)

	tt.CheckErr(tr.Stop())
	tt.Assert(!tr.IsActive(), "tracer still active after Stop")
	test.Equal(tt, host.listenerCount(), 0, "listener left registered")
	test.Equal(tt, host.suspended.Load(), int32(0), "threads left suspended")

	raw, err := os.ReadFile(path)
	tt.CheckErr(err)
	_, body, found := bytes.Cut(raw, []byte("\n*end\n"))
	tt.Assert(found, "no footer end marker")
	test.Equal(tt, binary.LittleEndian.Uint32(body), uint32(Magic))
	test.Equal(tt, binary.LittleEndian.Uint16(body[4:]), uint16(VersionDualClock))

	tf, err := ReadTraceFile(path)
	tt.CheckErr(err)
	test.Equal(tt, len(tf.Records), 4)
	test.Equal(tt, tf.Footer.MethodCalls, 4)
	test.Equal(tt, tf.Footer.Overflow, false)
	test.Equal(tt, tf.Footer.VM, "go")

	var actions []Action
	var methods []MethodID
	for _, r := range tf.Records {
		actions = append(actions, r.Action)
		methods = append(methods, r.Method)
		test.Equal(tt, r.ThreadID, uint16(mainThread.id))
	}
	if diff := cmp.Diff([]Action{ActionEnter, ActionEnter, ActionExit, ActionExit}, actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]MethodID{methodA, methodB, methodB, methodA}, methods); diff != "" {
		t.Errorf("methods mismatch (-want +got):\n%s", diff)
	}

	wantMethods := []MethodEntry{
		{ID: methodA, MethodInfo: MethodInfo{"LFoo;", "a", "()V", "Foo.java"}},
		{ID: methodB, MethodInfo: MethodInfo{"LFoo;", "b", "(I)I", "Foo.java"}},
	}
	if diff := cmp.Diff(wantMethods, tf.Footer.Methods); diff != "" {
		t.Errorf("footer methods mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ThreadEntry{{ID: 1, Name: "main"}}, tf.Footer.Threads); diff != "" {
		t.Errorf("footer threads mismatch (-want +got):\n%s", diff)
	}
}

func TestClockModes(t *testing.T) {
	tests := []struct {
		source     ClockSource
		version    uint16
		recordSize int
	}{
		{ClockSourceWall, VersionSingleClock, RecordSizeSingleClock},
		{ClockSourceThreadCPU, VersionSingleClock, RecordSizeSingleClock},
		{ClockSourceDual, VersionDualClock, RecordSizeDualClock},
	}
	for _, tc := range tests {
		t.Run(tc.source.String(), func(t *testing.T) {
			tt := test.FromT(t)
			tr, host, _ := newTestTracer(tc.source, mainThread)

			var out countingWriter
			tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 4096}))
			host.enter(mainThread, methodA)
			host.enter(mainThread, methodB)
			host.unwind(mainThread, methodB)
			host.exit(mainThread, methodA)
			tt.CheckErr(tr.Stop())

			_, body, _ := bytes.Cut(out.Bytes(), []byte("\n*end\n"))
			test.Equal(tt, binary.LittleEndian.Uint16(body[4:]), tc.version)
			test.Equal(tt, len(body), HeaderLength+4*tc.recordSize)
			if tc.version == VersionSingleClock {
				test.Equal(tt, binary.LittleEndian.Uint16(body[16:]), uint16(0), "v2 header padding")
			} else {
				test.Equal(tt, binary.LittleEndian.Uint16(body[16:]), uint16(tc.recordSize))
			}

			tf, err := ReadTrace(bytes.NewReader(out.Bytes()))
			tt.CheckErr(err)
			test.Equal(tt, tf.Footer.Clock, tc.source)
			test.Equal(tt, tf.Records[2].Action, ActionUnwind)

			var lastWall uint32
			for i, r := range tf.Records {
				if tc.source.UsesWall() {
					tt.Assert(r.WallDelta >= lastWall, "record %d wall delta went backwards", i)
					lastWall = r.WallDelta
				} else {
					test.Equal(tt, r.WallDelta, uint32(0))
				}
				if !tc.source.UsesThreadCPU() {
					test.Equal(tt, r.ThreadCPUDelta, uint32(0))
				}
			}
		})
	}
}

func TestThreadCPUDeltas(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceThreadCPU, mainThread, workerThread)

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 1024}))
	host.enter(mainThread, methodA)
	host.enter(workerThread, methodA)
	host.exit(mainThread, methodA)
	host.exit(workerThread, methodA)
	tt.CheckErr(tr.Stop())

	tf, err := ReadTrace(bytes.NewReader(out.Bytes()))
	tt.CheckErr(err)

	// Each thread's first event seeds its base.
	test.Equal(tt, tf.Records[0].ThreadCPUDelta, uint32(0))
	test.Equal(tt, tf.Records[1].ThreadCPUDelta, uint32(0))
	tt.Assert(tf.Records[2].ThreadCPUDelta > 0, "main thread delta not advancing")
	tt.Assert(tf.Records[3].ThreadCPUDelta > 0, "worker thread delta not advancing")
}

func TestOverflow(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	const k = 5
	droppedBefore := testutil.ToFloat64(metricEventsDropped)

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{
		Writer:     &out,
		BufferSize: HeaderLength + k*RecordSizeSingleClock,
	}))
	for i := 0; i < k+1; i++ {
		host.enter(mainThread, methodA)
	}
	tt.CheckErr(tr.Stop())

	tf, err := ReadTrace(bytes.NewReader(out.Bytes()))
	tt.CheckErr(err)
	test.Equal(tt, len(tf.Records), k)
	test.Equal(tt, tf.Footer.MethodCalls, k)
	test.Equal(tt, tf.Footer.Overflow, true)
	test.Equal(tt, testutil.ToFloat64(metricEventsDropped)-droppedBefore, float64(1))
}

func TestConcurrentEvents(t *testing.T) {
	tt := test.FromT(t)

	const m, r = 8, 500
	threads := make([]*fakeThread, m)
	for i := range threads {
		threads[i] = &fakeThread{id: uint32(100 + i), name: "t"}
	}
	tr, host, _ := newTestTracer(ClockSourceDual, threads...)

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{
		Writer:     &out,
		BufferSize: HeaderLength + m*r*RecordSizeDualClock,
	}))

	var wg sync.WaitGroup
	for _, th := range threads {
		wg.Add(1)
		go func(th *fakeThread) {
			defer wg.Done()
			for i := 0; i < r; i++ {
				host.enter(th, MethodID(uint32(i)<<2))
			}
		}(th)
	}
	wg.Wait()
	tt.CheckErr(tr.Stop())

	tf, err := ReadTrace(bytes.NewReader(out.Bytes()))
	tt.CheckErr(err)
	test.Equal(tt, len(tf.Records), m*r)
	test.Equal(tt, tf.Footer.Overflow, false)

	// Records of one thread keep their emission order.
	next := make(map[uint16]uint32)
	for _, rec := range tf.Records {
		want := next[rec.ThreadID]
		test.Equal(tt, uint32(rec.Method), want<<2, "thread %d out of order", rec.ThreadID)
		next[rec.ThreadID] = want + 1
	}
	for _, th := range threads {
		test.Equal(tt, next[uint16(th.id)], uint32(r))
	}
	test.Equal(tt, len(tf.Footer.Methods), r)
}

func TestStopWhenIdle(t *testing.T) {
	tt := test.FromT(t)
	logs := captureLogs(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 256}))
	tt.CheckErr(tr.Stop())
	writes := out.writes

	tt.ExpectErr(tr.Stop(), ErrNotActive)
	test.Equal(tt, out.writes, writes, "second stop wrote output")
	test.Equal(tt, strings.Count(logs.String(), "no trace currently running"), 1)
	test.Equal(tt, host.suspended.Load(), int32(0))
}

func TestStartWhileActive(t *testing.T) {
	tt := test.FromT(t)
	logs := captureLogs(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	var first, second countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &first, BufferSize: 256}))
	host.enter(mainThread, methodA)

	tt.ExpectErr(tr.StartWithOptions(StartOptions{Writer: &second, BufferSize: 256}), ErrAlreadyActive)
	tt.Assert(strings.Contains(logs.String(), "Trace already in progress"), "missing log line")

	host.exit(mainThread, methodA)
	tt.CheckErr(tr.Stop())
	test.Equal(tt, second.writes, 0)

	tf, err := ReadTrace(bytes.NewReader(first.Bytes()))
	tt.CheckErr(err)
	test.Equal(tt, len(tf.Records), 2)
}

func TestSinkOpenFailure(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	path := filepath.Join(t.TempDir(), "missing", "t.trace")
	err := tr.Start(path, 1024, 0, false)

	var openErr *SinkOpenError
	tt.Assert(errors.As(err, &openErr), "got %v, want *SinkOpenError", err)
	test.Equal(tt, openErr.Path, path)
	tt.Assert(!tr.IsActive(), "tracer active after failed start")
	test.Equal(tt, host.listenerCount(), 0)
	test.Equal(tt, host.suspended.Load(), int32(0), "threads not resumed")
	test.Equal(tt, host.suspendCalls.Load(), int32(1))

	// The tracer is still usable.
	tt.CheckErr(tr.Start(filepath.Join(t.TempDir(), "ok.trace"), 1024, 0, false))
	tt.CheckErr(tr.Stop())
}

func TestSinkWriteFailure(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	out := countingWriter{err: errDiskFull}
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 256}))
	host.enter(mainThread, methodA)

	err := tr.Stop()
	var writeErr *SinkWriteError
	tt.Assert(errors.As(err, &writeErr), "got %v, want *SinkWriteError", err)
	tt.ExpectErr(err, errDiskFull)
	tt.Assert(!tr.IsActive(), "session not torn down")
	test.Equal(tt, host.listenerCount(), 0)
	test.Equal(tt, host.suspended.Load(), int32(0))
}

func TestDirectToChannel(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceDual, mainThread)
	host.defineMethod(methodA, "LMain;", "run", "()V", "Main.java")

	dir := t.TempDir()
	wd, err := os.Getwd()
	tt.CheckErr(err)
	tt.CheckErr(os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	sender := &fakeSender{}
	tr.SetChunkSender(sender)
	tt.CheckErr(tr.Start("", 512, 0, true))
	host.enter(mainThread, methodA)
	host.exit(mainThread, methodA)
	tt.CheckErr(tr.Stop())

	test.Equal(tt, sender.calls, 1)
	test.Equal(tt, sender.typ, ChunkTypeMPSE)
	test.Equal(tt, sender.typ.String(), "MPSE")

	tf, err := ReadTrace(bytes.NewReader(bytes.Join(sender.parts, nil)))
	tt.CheckErr(err)
	test.Equal(tt, len(tf.Records), 2)
	test.Equal(tt, tf.Footer.Methods[0].Name, "run")

	entries, err := os.ReadDir(dir)
	tt.CheckErr(err)
	test.Equal(tt, len(entries), 0, "channel session created files")
}

func TestDirectToChannelWithoutSender(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	err := tr.Start("", 512, 0, true)
	var openErr *SinkOpenError
	tt.Assert(errors.As(err, &openErr), "got %v, want *SinkOpenError", err)
	tt.ExpectErr(err, ErrNoChunkSender)
	tt.Assert(!tr.IsActive(), "tracer active without a sender")
	test.Equal(tt, host.suspended.Load(), int32(0))
}

func TestChannelSendFailure(t *testing.T) {
	tt := test.FromT(t)
	tr, _, _ := newTestTracer(ClockSourceWall, mainThread)
	tr.SetChunkSender(&fakeSender{failWith: errors.New("peer gone")})

	tt.CheckErr(tr.Start("", 512, 0, true))
	var writeErr *SinkWriteError
	err := tr.Stop()
	tt.Assert(errors.As(err, &writeErr), "got %v, want *SinkWriteError", err)
	tt.Assert(!tr.IsActive(), "session not torn down")
}

func TestCountAllocs(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 256, Flags: FlagCountAllocs}))
	tt.Assert(host.statsEnabled, "stats not enabled")
	tt.CheckErr(tr.Stop())
	tt.Assert(!host.statsEnabled, "stats left enabled")

	tf, err := ReadTrace(bytes.NewReader(out.Bytes()))
	tt.CheckErr(err)
	if diff := cmp.Diff(&AllocStats{Count: 12, Size: 4096, GCInvokes: 1}, tf.Footer.Allocs); diff != "" {
		t.Errorf("alloc stats mismatch (-want +got):\n%s", diff)
	}
	tt.Assert(bytes.Contains(out.Bytes(), []byte("\nalloc-size=4096\n")), "alloc-size key missing")
}

func TestNoAllocStatsWithoutFlag(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 256}))
	tt.Assert(!host.statsEnabled, "stats enabled without flag")
	tt.CheckErr(tr.Stop())
	tt.Assert(!bytes.Contains(out.Bytes(), []byte("alloc-count")), "alloc keys written without flag")
}

func TestUnexpectedEvents(t *testing.T) {
	tt := test.FromT(t)
	logs := captureLogs(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	before := testutil.ToFloat64(metricUnexpectedEvents.WithLabelValues(EventInstructionStep.String()))

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 256}))
	host.dispatch(EventInstructionStep, mainThread, methodA)
	host.dispatch(EventExceptionCaught, mainThread, methodA)
	host.enter(mainThread, methodA)
	tt.CheckErr(tr.Stop())

	tf, err := ReadTrace(bytes.NewReader(out.Bytes()))
	tt.CheckErr(err)
	test.Equal(tt, len(tf.Records), 1)
	test.Equal(tt, testutil.ToFloat64(metricUnexpectedEvents.WithLabelValues(EventInstructionStep.String()))-before, float64(1))
	tt.Assert(strings.Contains(logs.String(), "Unexpected event in tracing"), "unexpected event not logged")
}

func TestMisalignedMethodDropped(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 256}))
	host.enter(mainThread, methodA|1)
	host.enter(mainThread, methodA)
	tt.CheckErr(tr.Stop())

	tf, err := ReadTrace(bytes.NewReader(out.Bytes()))
	tt.CheckErr(err)
	test.Equal(tt, len(tf.Records), 1)
	test.Equal(tt, tf.Records[0].Method, methodA)
	test.Equal(tt, tf.Footer.Overflow, false)
}

func TestUnresolvedMethod(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 256}))
	host.enter(mainThread, methodB)
	tt.CheckErr(tr.Stop())

	tt.Assert(bytes.Contains(out.Bytes(), []byte("\n0x1008\t?\t?\t?\t?\n")), "unresolved method line missing")
}

func TestInvalidBufferSize(t *testing.T) {
	tt := test.FromT(t)
	tr, host, _ := newTestTracer(ClockSourceWall, mainThread)

	tt.ExpectErr(tr.Start(filepath.Join(t.TempDir(), "t.trace"), HeaderLength-1, 0, false), ErrInvalidBufferSize)
	tt.Assert(!tr.IsActive(), "tracer active after invalid start")
	test.Equal(tt, host.suspendCalls.Load(), int32(0))
}

func TestShutdown(t *testing.T) {
	tt := test.FromT(t)
	tr, _, _ := newTestTracer(ClockSourceWall, mainThread)

	tt.CheckErr(tr.Shutdown())

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 256}))
	tt.CheckErr(tr.Shutdown())
	tt.Assert(!tr.IsActive(), "shutdown left session running")
	tt.Assert(out.Len() > 0, "shutdown did not write the artifact")
}

func TestDefaultClockSource(t *testing.T) {
	tt := test.FromT(t)
	logs := captureLogs(t)

	host := newFakeHost(mainThread)
	tr := NewTracer(host)
	clock := newFakeClock()
	clock.noCPU = true
	tr.SetClock(clock)
	test.Equal(tt, tr.DefaultClockSource(), ClockSourceWall)

	tr.SetDefaultClockSource(ClockSourceDual)
	test.Equal(tt, tr.DefaultClockSource(), ClockSourceWall)
	tt.Assert(strings.Contains(logs.String(), "using wall clock"), "downgrade not logged")

	tr.SetClock(newFakeClock())
	test.Equal(tt, tr.DefaultClockSource(), ClockSourceDual)
	tr.SetDefaultClockSource(ClockSourceThreadCPU)
	test.Equal(tt, tr.DefaultClockSource(), ClockSourceThreadCPU)
}

func TestStateString(t *testing.T) {
	tt := test.FromT(t)
	test.Equal(tt, StateIdle.String(), "idle")
	test.Equal(tt, StateActive.String(), "active")
}

func TestVMName(t *testing.T) {
	tt := test.FromT(t)
	tr, _, _ := newTestTracer(ClockSourceWall, mainThread)
	tr.SetVMName("dalvik")

	var out countingWriter
	tt.CheckErr(tr.StartWithOptions(StartOptions{Writer: &out, BufferSize: 256}))
	tt.CheckErr(tr.Stop())

	tf, err := ReadTrace(bytes.NewReader(out.Bytes()))
	tt.CheckErr(err)
	test.Equal(tt, tf.Footer.VM, "dalvik")
}

// Package mtrace is a method-level execution tracer for embedding inside a
// managed-language runtime.
//
// The host runtime owns one [Tracer]. While a session is active, every host
// thread reports method entry, exit and unwind through the [Listener] the
// session registers with the host [Instrumentation]. Events are appended to
// a fixed size buffer without locks; on Stop the buffer and a text footer
// are written to a file, a writer, or sent as one chunk to an external
// diagnostic channel.
//
// Basic usage:
//
//	t := mtrace.NewTracer(host)
//	if err := t.Start("app.trace", 8<<20, 0, false); err != nil {
//	    return err
//	}
//	// ... run the workload ...
//	if err := t.Stop(); err != nil {
//	    return err
//	}
//
// Artifact layout:
//
//	footer text   ("*version" ... "*end\n")
//	header        32 bytes, magic "SLOW"
//	record 0
//	record 1
//	...
//
// Records are 10 bytes with a single clock (version 2) and 14 bytes with
// both clocks (version 3). All integers are little-endian.
package mtrace

package mtrace

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Start while a session is running.
	// The running session is left untouched.
	ErrAlreadyActive = errors.New("trace already in progress")

	// ErrNotActive is returned by Stop when no session is running.
	ErrNotActive = errors.New("no trace currently running")

	// ErrInvalidBufferSize is returned by Start when the buffer cannot even
	// hold the trace header.
	ErrInvalidBufferSize = errors.New("invalid trace buffer size")

	// ErrNoChunkSender is reported when streaming to the external channel
	// was requested but the tracer has no ChunkSender.
	ErrNoChunkSender = errors.New("no chunk sender configured")

	// ErrMisalignedMethod means a method identity has one of its two low
	// bits set and would collide with the action code.
	ErrMisalignedMethod = errors.New("method identity is not 4-byte aligned")

	// ErrShortRecord means an encode ran past the reserved byte range.
	ErrShortRecord = errors.New("record does not fit in reserved range")

	// Reader errors.
	ErrBadMagic  = errors.New("not a method trace: bad magic")
	ErrTruncated = errors.New("truncated trace data")
	ErrBadFooter = errors.New("malformed trace footer")
)

// SinkOpenError reports that the trace output could not be opened at Start.
type SinkOpenError struct {
	Path string
	Err  error
}

func (e *SinkOpenError) Error() string {
	return fmt.Sprintf("unable to open trace file %q: %v", e.Path, e.Err)
}

func (e *SinkOpenError) Unwrap() error { return e.Err }

// SinkWriteError reports that writing or sending the artifact at Stop failed.
// The session has been torn down regardless.
type SinkWriteError struct {
	Err error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("trace data write failed: %v", e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

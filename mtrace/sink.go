package mtrace

import (
	"io"
	"os"
)

// sink receives the finished artifact: the footer text followed by the
// binary body (header and records).
type sink interface {
	write(footer, body []byte) error
	close() error
	String() string
}

// fileSink writes to a file the tracer opened, or to a writer supplied by
// the caller, which is left open.
type fileSink struct {
	name   string
	w      io.Writer
	closer io.Closer // nil when the writer is not ours to close
}

func openFileSink(path string) (*fileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &SinkOpenError{Path: path, Err: err}
	}
	return &fileSink{name: path, w: f, closer: f}, nil
}

func newWriterSink(w io.Writer) *fileSink {
	return &fileSink{name: "tracefile", w: w}
}

func writeFully(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err == nil && n != len(b) {
		err = io.ErrShortWrite
	}
	return err
}

func (s *fileSink) write(footer, body []byte) error {
	if err := writeFully(s.w, footer); err != nil {
		return &SinkWriteError{Err: err}
	}
	if err := writeFully(s.w, body); err != nil {
		return &SinkWriteError{Err: err}
	}
	return nil
}

func (s *fileSink) close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *fileSink) String() string { return s.name }

// chunkSink streams the artifact to the external diagnostic channel as a
// single two part message. It does no file I/O.
type chunkSink struct {
	sender ChunkSender
	typ    ChunkType
}

func (s *chunkSink) write(footer, body []byte) error {
	if err := s.sender.SendChunk(s.typ, footer, body); err != nil {
		return &SinkWriteError{Err: err}
	}
	return nil
}

func (s *chunkSink) close() error { return nil }

func (s *chunkSink) String() string { return "chunk:" + s.typ.String() }

package mtrace

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Action is the 2-bit code stored in the low bits of a record's method word.
type Action uint8

const (
	ActionEnter  Action = 0x00 // method entry
	ActionExit   Action = 0x01 // normal return
	ActionUnwind Action = 0x02 // exited by exception unwinding
	// 0x03 unused

	actionMask = 0x03
)

func (a Action) String() string {
	switch a {
	case ActionEnter:
		return "enter"
	case ActionExit:
		return "exit"
	case ActionUnwind:
		return "unwind"
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Artifact constants.
const (
	Magic                 uint32 = 0x574f4c53 // "SLOW" when read little-endian
	HeaderLength                 = 32
	VersionSingleClock    uint16 = 2
	VersionDualClock      uint16 = 3
	RecordSizeSingleClock        = 10 // version 2
	RecordSizeDualClock          = 14 // version 3, two timestamps
)

// EncodeMethodAndAction packs action into the low bits of method.
func EncodeMethodAndAction(method MethodID, action Action) (uint32, error) {
	if !method.Aligned() {
		return 0, fmt.Errorf("%w: %#x", ErrMisalignedMethod, uint32(method))
	}
	return uint32(method) | uint32(action)&actionMask, nil
}

// DecodeMethodAndAction splits a method word.
func DecodeMethodAndAction(v uint32) (MethodID, Action) {
	return MethodID(v &^ actionMask), Action(v & actionMask)
}

// Header is the fixed 32 byte preamble of the binary body.
type Header struct {
	Magic        uint32
	Version      uint16
	HeaderLength uint16
	StartMicros  uint64 // wall time of session start, µs since the Unix epoch
	RecordSize   uint16 // explicit in version 3 only
}

func newHeader(source ClockSource, start time.Time) Header {
	return Header{
		Magic:        Magic,
		Version:      source.Version(),
		HeaderLength: HeaderLength,
		StartMicros:  uint64(start.UnixMicro()),
		RecordSize:   uint16(source.RecordSize()),
	}
}

// put writes h into the first HeaderLength bytes of dst, zeroing the padding.
func (h Header) put(dst []byte) error {
	if len(dst) < HeaderLength {
		return fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortRecord, HeaderLength, len(dst))
	}
	clear(dst[:HeaderLength])
	w := recordWriter{b: dst[:HeaderLength]}
	w.putUint32(h.Magic)
	w.putUint16(h.Version)
	w.putUint16(h.HeaderLength)
	w.putUint64(h.StartMicros)
	if h.Version >= VersionDualClock {
		w.putUint16(h.RecordSize)
	}
	return w.err
}

// parseHeader decodes a header. Version 2 headers get the implied record size.
func parseHeader(b []byte) (Header, error) {
	if len(b) < 16 {
		return Header{}, fmt.Errorf("%w: header is %d bytes", ErrTruncated, len(b))
	}
	h := Header{
		Magic:        binary.LittleEndian.Uint32(b[0:]),
		Version:      binary.LittleEndian.Uint16(b[4:]),
		HeaderLength: binary.LittleEndian.Uint16(b[6:]),
		StartMicros:  binary.LittleEndian.Uint64(b[8:]),
		RecordSize:   RecordSizeSingleClock,
	}
	if h.Magic != Magic {
		return h, fmt.Errorf("%w: %#x", ErrBadMagic, h.Magic)
	}
	if int(h.HeaderLength) > len(b) || h.HeaderLength < 16 {
		return h, fmt.Errorf("%w: header length %d", ErrTruncated, h.HeaderLength)
	}
	if h.Version >= VersionDualClock {
		if h.HeaderLength < 18 {
			return h, fmt.Errorf("%w: version %d header without record size", ErrTruncated, h.Version)
		}
		h.RecordSize = binary.LittleEndian.Uint16(b[16:])
		if h.RecordSize < RecordSizeDualClock {
			return h, fmt.Errorf("%w: version %d record size %d, need at least %d",
				ErrTruncated, h.Version, h.RecordSize, RecordSizeDualClock)
		}
	}
	return h, nil
}

// recordWriter is a little-endian writer over a fixed slice. Writes past
// the end are dropped and recorded in err.
type recordWriter struct {
	b   []byte
	off int
	err error
}

func (w *recordWriter) room(n int) bool {
	if w.err != nil {
		return false
	}
	if len(w.b)-w.off < n {
		w.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrShortRecord, n, w.off, len(w.b))
		return false
	}
	return true
}

func (w *recordWriter) putUint16(v uint16) {
	if w.room(2) {
		binary.LittleEndian.PutUint16(w.b[w.off:], v)
		w.off += 2
	}
}

func (w *recordWriter) putUint32(v uint32) {
	if w.room(4) {
		binary.LittleEndian.PutUint32(w.b[w.off:], v)
		w.off += 4
	}
}

func (w *recordWriter) putUint64(v uint64) {
	if w.room(8) {
		binary.LittleEndian.PutUint64(w.b[w.off:], v)
		w.off += 8
	}
}

// Record is one decoded event.
type Record struct {
	ThreadID       uint16
	Method         MethodID
	Action         Action
	ThreadCPUDelta uint32 // µs since the thread's first event, if recorded
	WallDelta      uint32 // µs since session start, if recorded
}

// recordLayoutSize is the number of bytes decodeRecord reads for source.
func recordLayoutSize(source ClockSource) int {
	n := 6
	if source.UsesThreadCPU() {
		n += 4
	}
	if source.UsesWall() {
		n += 4
	}
	return n
}

// decodeRecord reads one record of source's layout from b, which must hold
// at least recordLayoutSize(source) bytes.
func decodeRecord(b []byte, source ClockSource) Record {
	method, action := DecodeMethodAndAction(binary.LittleEndian.Uint32(b[2:]))
	r := Record{
		ThreadID: binary.LittleEndian.Uint16(b[0:]),
		Method:   method,
		Action:   action,
	}
	off := 6
	if source.UsesThreadCPU() {
		r.ThreadCPUDelta = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	if source.UsesWall() {
		r.WallDelta = binary.LittleEndian.Uint32(b[off:])
	}
	return r
}

// durationMicros truncates d to the u32 µs field of a record. 32 bits of
// microseconds is about 70 minutes; longer deltas wrap.
func durationMicros(d time.Duration) uint32 {
	if d < 0 {
		return 0
	}
	return uint32(d.Microseconds())
}

package mtrace

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TraceFile is a decoded artifact.
type TraceFile struct {
	Footer  Footer
	Header  Header
	Records []Record
	// Clock is the layout the records were decoded with: dual for version 3,
	// otherwise the footer's clock.
	Clock ClockSource
}

// ReadTraceFile decodes the artifact at path.
func ReadTraceFile(path string) (*TraceFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTrace(f)
}

// ReadTrace decodes an artifact: the footer text, then the header and the
// records.
func ReadTrace(r io.Reader) (*TraceFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// The end marker always follows at least the version section, so it is
	// matched with its leading newline to stay clear of names containing it.
	endMarker := []byte{'\n', tokenChar}
	endMarker = append(endMarker, sectionEnd+"\n"...)
	idx := bytes.Index(data, endMarker)
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing %q marker", ErrBadFooter, endMarker)
	}
	footerText, body := data[:idx+len(endMarker)], data[idx+len(endMarker):]

	tf := &TraceFile{}
	if err := parseFooter(string(footerText), &tf.Footer); err != nil {
		return nil, err
	}
	if tf.Header, err = parseHeader(body); err != nil {
		return nil, err
	}

	tf.Clock = tf.Footer.Clock
	if tf.Header.Version >= VersionDualClock {
		tf.Clock = ClockSourceDual
	} else if tf.Clock == ClockSourceDual {
		tf.Clock = ClockSourceWall
	}

	size := int(tf.Header.RecordSize)
	if need := recordLayoutSize(tf.Clock); size < need {
		return nil, fmt.Errorf("%w: %s records need %d bytes, header says %d",
			ErrTruncated, tf.Clock, need, size)
	}
	records := body[tf.Header.HeaderLength:]
	if len(records)%size != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d records",
			ErrTruncated, len(records)%size, len(records)/size)
	}
	tf.Records = make([]Record, 0, len(records)/size)
	for off := 0; off < len(records); off += size {
		tf.Records = append(tf.Records, decodeRecord(records[off:off+size], tf.Clock))
	}
	return tf, nil
}

func parseFooter(text string, f *Footer) error {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	section := ""
	for i, line := range lines {
		if len(line) > 0 && line[0] == tokenChar {
			section = line[1:]
			continue
		}
		bad := func(detail string) error {
			return fmt.Errorf("%w: line %d %q: %s", ErrBadFooter, i+1, line, detail)
		}

		switch section {
		case sectionVersion:
			if f.Version == 0 {
				v, err := strconv.ParseUint(line, 10, 16)
				if err != nil {
					return bad(err.Error())
				}
				f.Version = uint16(v)
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				return bad("expected key=value")
			}
			if err := f.setKey(key, value); err != nil {
				return bad(err.Error())
			}
		case sectionThreads:
			id, name, ok := strings.Cut(line, "\t")
			if !ok {
				return bad("expected id<TAB>name")
			}
			tid, err := strconv.ParseUint(id, 10, 32)
			if err != nil {
				return bad(err.Error())
			}
			f.Threads = append(f.Threads, ThreadEntry{ID: uint32(tid), Name: name})
		case sectionMethods:
			fields := strings.Split(line, "\t")
			if len(fields) != 5 {
				return bad("expected 5 tab separated fields")
			}
			id, err := strconv.ParseUint(fields[0], 0, 32)
			if err != nil {
				return bad(err.Error())
			}
			f.Methods = append(f.Methods, MethodEntry{
				ID: MethodID(id),
				MethodInfo: MethodInfo{
					DeclaringClass: fields[1],
					Name:           fields[2],
					Signature:      fields[3],
					SourceFile:     fields[4],
				},
			})
		default:
			return bad("outside of any section")
		}
	}
	if f.Version == 0 {
		return fmt.Errorf("%w: no version", ErrBadFooter)
	}
	return nil
}

func (f *Footer) setKey(key, value string) (err error) {
	parseUint := func(bits int) uint64 {
		var v uint64
		if err == nil {
			v, err = strconv.ParseUint(value, 10, bits)
		}
		return v
	}
	allocs := func() *AllocStats {
		if f.Allocs == nil {
			f.Allocs = &AllocStats{}
		}
		return f.Allocs
	}

	switch key {
	case keyOverflow:
		f.Overflow, err = strconv.ParseBool(value)
	case keyClock:
		f.Clock, err = ParseClockSource(value)
	case keyElapsed:
		f.ElapsedMicros = parseUint(64)
	case keyMethodCalls:
		f.MethodCalls = int(parseUint(63))
	case keyClockOverhead:
		f.ClockOverheadNsec = uint32(parseUint(32))
	case keyVM:
		f.VM = value
	case keyAllocCount:
		allocs().Count = parseUint(64)
	case keyAllocSize:
		allocs().Size = parseUint(64)
	case keyGCCount:
		allocs().GCInvokes = parseUint(64)
	default:
		log.Debug().Str("key", key).Str("value", value).Msg("Keeping unknown footer key")
		if f.Extra == nil {
			f.Extra = make(map[string]string)
		}
		f.Extra[key] = value
	}
	return err
}

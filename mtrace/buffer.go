package mtrace

import (
	"encoding/binary"
	"slices"
	"sync/atomic"
)

// eventBuffer is the fixed capacity byte region shared by all threads of a
// session. The header occupies the first HeaderLength bytes; reserve hands
// out disjoint ranges after it.
type eventBuffer struct {
	data     []byte
	cursor   atomic.Int64
	overflow atomic.Bool
}

func newEventBuffer(capacity int) *eventBuffer {
	b := &eventBuffer{data: make([]byte, capacity)}
	b.cursor.Store(HeaderLength)
	return b
}

// reserve claims size bytes and returns their offset. It never blocks. When
// the buffer is full it sets the overflow flag and returns false.
//
// Only a successful compare-and-swap grants a range; a loser reloads the
// cursor and redoes the capacity check against the fresh value.
func (b *eventBuffer) reserve(size int) (int, bool) {
	limit := int64(len(b.data))
	for {
		cur := b.cursor.Load()
		next := cur + int64(size)
		if next > limit {
			b.overflow.Store(true)
			return 0, false
		}
		if b.cursor.CompareAndSwap(cur, next) {
			return int(cur), true
		}
	}
}

// offset is the current end of written data.
func (b *eventBuffer) offset() int {
	return int(b.cursor.Load())
}

// contents returns the header and every reserved record.
func (b *eventBuffer) contents() []byte {
	return b.data[:b.offset()]
}

// recordCount is the number of records of recordSize in the buffer.
func (b *eventBuffer) recordCount(recordSize int) int {
	return (b.offset() - HeaderLength) / recordSize
}

// visitedMethods returns the distinct method identities referenced by the
// records, in ascending order.
func (b *eventBuffer) visitedMethods(recordSize int) []MethodID {
	data := b.contents()
	seen := make(map[MethodID]struct{})
	for off := HeaderLength; off+recordSize <= len(data); off += recordSize {
		method, _ := DecodeMethodAndAction(binary.LittleEndian.Uint32(data[off+2:]))
		seen[method] = struct{}{}
	}
	methods := make([]MethodID, 0, len(seen))
	for m := range seen {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// Package hexf formats integers as "0x" prefixed hex without going through
// fmt. The footer writer prints one identity per visited method, which can
// be hundreds of thousands of lines on a long trace.
package hexf

import "encoding/binary"

var hextable = [16]byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

func encode(dst, src []byte) int {
	j := 0
	for _, v := range src {
		dst[j] = hextable[v>>4]
		dst[j+1] = hextable[v&0x0f]
		j += 2
	}
	return j
}

// encodeTrim is encode without leading zero nibbles. An all zero src
// encodes as "0".
func encodeTrim(dst, src []byte) int {
	i := 0
	for i < len(src) && src[i] == 0 {
		i++
	}
	if i == len(src) {
		if len(src) == 0 {
			return 0
		}
		dst[0] = '0'
		return 1
	}

	j := 0
	if v := src[i]; v < 0x10 {
		dst[j] = hextable[v]
		j++
		i++
	}
	return j + encode(dst[j:], src[i:])
}

type Uint32Like interface{ ~uint32 | ~int32 }

// AppendNum32p appends n as lowercase hex with a "0x" prefix. With trim,
// leading zeroes are dropped, matching printf's %#x.
func AppendNum32p[T Uint32Like](dst []byte, n T, trim bool) []byte {
	var b, tmp [8]byte
	binary.BigEndian.PutUint32(b[:4], uint32(n))
	dst = append(dst, '0', 'x')
	if trim {
		return append(dst, tmp[:encodeTrim(tmp[:], b[:4])]...)
	}
	return append(dst, tmp[:encode(tmp[:], b[:4])]...)
}

// Num32p returns AppendNum32p as a string.
func Num32p[T Uint32Like](n T, trim bool) string {
	var buf [10]byte
	return string(AppendNum32p(buf[:0], n, trim))
}

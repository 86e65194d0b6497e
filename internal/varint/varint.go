// Package varint implements the extension-count encoding used by the Block
// codec's command tags: a byte-aligned variable-width integer that starts
// cheap for the common small case and grows to a 4-byte tail for the rare
// huge one.
package varint

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when the extension bytes run out mid-value.
var ErrTruncated = errors.New("varint: truncated")

// Encode appends the varint encoding of v to dst and returns the result.
func Encode(dst []byte, v uint32) []byte {
	switch {
	case v < 253:
		return append(dst, byte(v))
	case v < 253+256:
		return append(dst, 253, byte(v-253))
	case v < 253+65536:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(v-253-256))
		return append(append(dst, 254), buf[:]...)
	default:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], v-253-65536)
		return append(append(dst, 255), buf[:]...)
	}
}

// ReadSlice decodes a varint starting at buf[pos] and returns the value and
// the position just past it. Used by the Block codec, which always has the
// whole command stream in memory as a single buffer.
func ReadSlice(buf []byte, pos int) (uint32, int, error) {
	if pos >= len(buf) {
		return 0, pos, ErrTruncated
	}
	b := buf[pos]
	pos++
	switch {
	case b < 253:
		return uint32(b), pos, nil
	case b == 253:
		if pos+1 > len(buf) {
			return 0, pos, ErrTruncated
		}
		return 253 + uint32(buf[pos]), pos + 1, nil
	case b == 254:
		if pos+2 > len(buf) {
			return 0, pos, ErrTruncated
		}
		return 253 + 256 + uint32(binary.LittleEndian.Uint16(buf[pos:pos+2])), pos + 2, nil
	default: // 255
		if pos+4 > len(buf) {
			return 0, pos, ErrTruncated
		}
		return 253 + 65536 + binary.LittleEndian.Uint32(buf[pos:pos+4]), pos + 4, nil
	}
}


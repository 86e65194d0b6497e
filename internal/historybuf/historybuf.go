// Package historybuf implements a growing output window for the Block
// codec. Its dictionary stores plain byte positions, not offsets bounded
// to a fixed window, so back-references can legally reach any earlier
// point in the stream; the buffer here keeps the whole of a stream's
// decoded output addressable by absolute position and only drops it when
// the caller explicitly resets it between independent streams.
package historybuf

import "errors"

// ErrBadSource is returned when a copy instruction names a position that
// has never been written.
var ErrBadSource = errors.New("historybuf: back-reference source out of range")

// Buffer is an append-only byte buffer addressed by absolute position.
// Reset returns it to empty, matching the cleanup flag the framing layer
// passes into block decode/encode calls at stream boundaries.
type Buffer struct {
	data []byte
}

// New returns an empty Buffer with capacity pre-reserved for capHint bytes.
func New(capHint int) *Buffer {
	return &Buffer{data: make([]byte, 0, capHint)}
}

// Len returns the current absolute write position, i.e. idxOut.
func (b *Buffer) Len() int {
	return len(b.data)
}

// AppendByte writes one byte at the current position.
func (b *Buffer) AppendByte(c byte) {
	b.data = append(b.data, c)
}

// Append writes p at the current position.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// At returns the byte at absolute position pos.
func (b *Buffer) At(pos int) byte {
	return b.data[pos]
}

// Bytes returns the full contents written so far. The slice is only valid
// until the next Append/AppendByte/Reset call.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Since returns the bytes written at or after absolute position pos.
func (b *Buffer) Since(pos int) []byte {
	return b.data[pos:]
}

// Reset drops all buffered content. Called when the framing layer's cleanup
// flag is set, i.e. at the end of a stream or an explicit dictionary reset.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// CopyOverlapping copies n bytes from src to the current write position,
// one byte at a time, so that a source region overlapping the bytes being
// written produces the repeating pattern classic LZ back-references rely
// on (src < dst is the common case: run-length style repetition).
func (b *Buffer) CopyOverlapping(src, n int) error {
	if src < 0 {
		return ErrBadSource
	}
	for i := 0; i < n; i++ {
		if src+i >= len(b.data) {
			return ErrBadSource
		}
		b.data = append(b.data, b.data[src+i])
	}
	return nil
}

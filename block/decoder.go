package block

import (
	"encoding/binary"
	"errors"

	"github.com/killingspark/blazer/internal/historybuf"
	"github.com/killingspark/blazer/internal/varint"
)

// ErrCorruptStream covers every way a command stream can fail to parse:
// unknown tag, truncated command, oversized output, or an impossible
// backreference.
var ErrCorruptStream = errors.New("block: corrupt command stream")

// Decoder reconstructs plaintext blocks from compressed command streams,
// keeping the hash dictionary and emitted-byte history that later blocks
// in the same stream backreference into.
type Decoder struct {
	dict    *dictionary
	history *historybuf.Buffer
}

// NewDecoder returns a Decoder with an empty dictionary and history.
func NewDecoder() *Decoder {
	return &Decoder{dict: newDictionary(), history: historybuf.New(0)}
}

// DecodeStored copies a stored (uncompressed) block's payload verbatim
// into dst, and folds it into history/mulEl so later blocks can still
// backreference into it by position. No dictionary entries are recorded
// for these bytes: the format only updates the dictionary while
// executing literal/match commands, never for a passthrough block.
func (d *Decoder) DecodeStored(dst []byte, payload []byte, cleanup bool) (int, error) {
	if len(payload) > len(dst) {
		return 0, ErrCorruptStream
	}
	copy(dst, payload)
	for _, b := range payload {
		d.dict.mulEl = (d.dict.mulEl << 8) | uint32(b)
	}
	d.history.Append(payload)
	if cleanup {
		d.history.Reset()
		d.dict.reset()
	}
	return len(payload), nil
}

// Decode decodes a compressed command stream into dst and returns the
// number of bytes written. dst must be at least as large as the block's
// MaxBlockSize; decoding more than that is reported as ErrCorruptStream.
func (d *Decoder) Decode(dst []byte, payload []byte, cleanup bool) (int, error) {
	start := d.history.Len()
	maxLen := start + len(dst)

	pos := 0
	for pos < len(payload) {
		newPos, err := d.decodeCommand(payload, pos, maxLen)
		if err != nil {
			return 0, err
		}
		if newPos <= pos {
			return 0, ErrCorruptStream
		}
		pos = newPos
	}

	produced := d.history.Len() - start
	copy(dst[:produced], d.history.Since(start))

	if cleanup {
		d.history.Reset()
		d.dict.reset()
	}
	return produced, nil
}

func (d *Decoder) decodeCommand(payload []byte, pos int, maxHistoryLen int) (int, error) {
	if pos >= len(payload) {
		return pos, ErrCorruptStream
	}
	tag := payload[pos]
	pos++

	mode := tag >> 7

	var src int64
	if mode == 1 {
		if pos+2 > len(payload) {
			return pos, ErrCorruptStream
		}
		hashIdx := binary.LittleEndian.Uint16(payload[pos : pos+2])
		pos += 2

		if hashIdx == LiteralSentinel {
			litCount := int64(tag & 0x7F)
			if litCount == 127 {
				extra, newPos, err := varint.ReadSlice(payload, pos)
				if err != nil {
					return pos, ErrCorruptStream
				}
				pos = newPos
				litCount = 127 + int64(extra)
			}
			return d.execLiteral(payload, pos, litCount, maxHistoryLen)
		}

		slot := d.dict.slots[hashIdx]
		if slot < 3 {
			return pos, ErrCorruptStream
		}
		src = slot - 3
	} else {
		if pos >= len(payload) {
			return pos, ErrCorruptStream
		}
		off := payload[pos]
		pos++
		src = int64(d.history.Len()) - (int64(off) + 1)
	}

	seqFirst := tag & 0x0F
	litFirst := (tag >> 4) & 0x07

	litCount := int64(litFirst)
	if litFirst == 7 {
		extra, newPos, err := varint.ReadSlice(payload, pos)
		if err != nil {
			return pos, ErrCorruptStream
		}
		pos = newPos
		litCount = 7 + int64(extra)
	}

	seqLen := int64(seqFirst) + 4
	if seqFirst == 15 {
		extra, newPos, err := varint.ReadSlice(payload, pos)
		if err != nil {
			return pos, ErrCorruptStream
		}
		pos = newPos
		seqLen = 19 + int64(extra)
	}

	pos, err := d.execLiteral(payload, pos, litCount, maxHistoryLen)
	if err != nil {
		return pos, err
	}

	if src < 0 {
		return pos, ErrCorruptStream
	}
	if err := d.execMatch(src, seqLen, maxHistoryLen); err != nil {
		return pos, err
	}
	return pos, nil
}

func (d *Decoder) execLiteral(payload []byte, pos int, litCount int64, maxHistoryLen int) (int, error) {
	if litCount == 0 {
		return pos, nil
	}
	if pos+int(litCount) > len(payload) {
		return pos, ErrCorruptStream
	}
	if d.history.Len()+int(litCount) > maxHistoryLen {
		return pos, ErrCorruptStream
	}
	data := payload[pos : pos+int(litCount)]
	start := int64(d.history.Len())
	d.history.Append(data)
	d.dict.stepRun(data, start)
	return pos + int(litCount), nil
}

// execMatch copies seqLen bytes starting at absolute position src to the
// current write position. When src+k lands on a byte this copy just
// produced, CopyOverlapping keeps reading its own freshly written
// output, the run-length pattern the format relies on for repetitive
// data.
func (d *Decoder) execMatch(src int64, seqLen int64, maxHistoryLen int) error {
	if seqLen == 0 {
		return nil
	}
	if d.history.Len()+int(seqLen) > maxHistoryLen {
		return ErrCorruptStream
	}
	start := int64(d.history.Len())
	if err := d.history.CopyOverlapping(int(src), int(seqLen)); err != nil {
		return ErrCorruptStream
	}
	for k := int64(0); k < seqLen; k++ {
		d.dict.stepByte(d.history.At(int(start+k)), start+k+1)
	}
	return nil
}

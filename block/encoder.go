package block

import (
	"encoding/binary"

	"github.com/killingspark/blazer/internal/historybuf"
	"github.com/killingspark/blazer/internal/varint"
)

// Encoder compresses blocks into command streams, keeping the hash
// dictionary and byte history that later blocks backreference into.
type Encoder struct {
	dict    *dictionary
	history *historybuf.Buffer
}

// NewEncoder returns an Encoder with an empty dictionary and history.
func NewEncoder() *Encoder {
	return &Encoder{dict: newDictionary(), history: historybuf.New(0)}
}

// EncodeBlock compresses one block's worth of input. When the command
// stream it produces would not be smaller than the raw input, it instead
// returns the input unchanged with compressed=false, so the caller can
// store it verbatim. If cleanup is true, the dictionary and history are
// reset afterward, severing backreferences into this block from whatever
// comes next.
func (e *Encoder) EncodeBlock(input []byte, cleanup bool) (payload []byte, compressed bool) {
	// Matching within this block mutates the dictionary as it goes; that
	// forward-progressing update is what lets later positions in the same
	// block match earlier ones. But if the attempt doesn't pay off and the
	// block ends up stored verbatim, a real decoder's DecodeStored records
	// no dictionary entries at all for it (only mulEl keeps rolling). Snapshot
	// here so that case can be unwound to the same end state DecodeStored
	// would reach, keeping both sides of the dictionary in lockstep.
	savedSlots := e.dict.slots
	savedMulEl := e.dict.mulEl

	base := int64(e.history.Len())
	e.history.Append(input)
	n := int64(len(input))
	limit := base + n

	var out []byte
	litStart := int64(0)
	i := int64(0)

	// The decoder resolves a command's source (dictionary slot or short
	// offset) before it applies that command's literal run, so the pending
	// literal bytes are stepped into the dictionary only once their command
	// is emitted; until then lookups see what the decoder will see.
	for i < n {
		if i+4 <= n {
			p := base + i
			if src, ok := e.dict.findHashMatch(e.history, p); ok {
				key := hashKey(pack4(e.history.At(int(p)), e.history.At(int(p+1)), e.history.At(int(p+2)), e.history.At(int(p+3))))
				matchLen := e.extendMatch(src, p, limit)
				out = emitToken(out, input[litStart:i], true, 0, key, matchLen)
				e.dict.stepRun(input[litStart:i+matchLen], base+litStart)
				i += matchLen
				litStart = i
				continue
			}
			litPos := base + litStart
			if src, ok := findShortMatch(e.history, p, p); ok {
				if src >= litPos {
					// The source lies inside the pending literal run: emit the
					// run on its own first so the offset can reach it.
					out = emitLiteralOnly(out, input[litStart:i])
					e.dict.stepRun(input[litStart:i], base+litStart)
					litStart = i
					litPos = p
				}
				distance := litPos - src
				matchLen := e.extendMatch(src, p, limit)
				out = emitToken(out, input[litStart:i], false, uint16(distance-1), 0, matchLen)
				e.dict.stepRun(input[litStart:i+matchLen], base+litStart)
				i += matchLen
				litStart = i
				continue
			}
		}
		i++
	}

	if litStart < n {
		out = emitLiteralOnly(out, input[litStart:n])
		e.dict.stepRun(input[litStart:n], base+litStart)
	}

	if len(out) >= len(input) {
		e.dict.slots = savedSlots
		e.dict.mulEl = savedMulEl
		for _, b := range input {
			e.dict.mulEl = (e.dict.mulEl << 8) | uint32(b)
		}
		if cleanup {
			e.history.Reset()
			e.dict.reset()
		}
		return input, false
	}

	if cleanup {
		e.history.Reset()
		e.dict.reset()
	}
	return out, true
}

// extendMatch grows a verified 4-byte match as far as it keeps agreeing,
// without reading past the current block's boundary (limit). Reads on
// both sides come from history, which by now holds the full block, so a
// match that reaches into bytes ahead of p compares against the true
// input rather than a partially-built reconstruction.
func (e *Encoder) extendMatch(src, p, limit int64) int64 {
	l := int64(MinMatchLen)
	for p+l < limit && e.history.At(int(src+l)) == e.history.At(int(p+l)) {
		l++
	}
	return l
}

// emitToken writes one literal-run-plus-backreference command: a tag byte,
// the mode-specific source field, any length extensions, then the literal
// bytes themselves.
func emitToken(out []byte, literal []byte, hashMode bool, offset uint16, hashIdxKey uint16, matchLen int64) []byte {
	litCount := int64(len(literal))
	seqExtra := matchLen - MinMatchLen

	var seqFirst byte
	seqVarintExtra := int64(-1)
	if seqExtra >= 15 {
		seqFirst = 15
		seqVarintExtra = seqExtra - 15
	} else {
		seqFirst = byte(seqExtra)
	}

	var litFirst byte
	litVarintExtra := int64(-1)
	if litCount >= 7 {
		litFirst = 7
		litVarintExtra = litCount - 7
	} else {
		litFirst = byte(litCount)
	}

	var mode byte
	if hashMode {
		mode = 1
	}
	tag := (mode << 7) | (litFirst << 4) | seqFirst
	out = append(out, tag)

	if hashMode {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], hashIdxKey)
		out = append(out, b[:]...)
	} else {
		out = append(out, byte(offset))
	}

	if litVarintExtra >= 0 {
		out = varint.Encode(out, uint32(litVarintExtra))
	}
	if seqVarintExtra >= 0 {
		out = varint.Encode(out, uint32(seqVarintExtra))
	}

	return append(out, literal...)
}

// emitLiteralOnly writes a command with no backreference at all, using the
// 0xFFFF hash-index sentinel to tell the decoder to reinterpret the tag's
// low 7 bits as a direct literal count.
func emitLiteralOnly(out []byte, literal []byte) []byte {
	litCount := int64(len(literal))

	var low7 byte
	extra := int64(-1)
	if litCount >= 127 {
		low7 = 127
		extra = litCount - 127
	} else {
		low7 = byte(litCount)
	}

	out = append(out, 0x80|low7)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], LiteralSentinel)
	out = append(out, b[:]...)

	if extra >= 0 {
		out = varint.Encode(out, uint32(extra))
	}
	return append(out, literal...)
}

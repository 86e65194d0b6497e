// Package block implements the dictionary-based LZ-style codec described by
// the container format: a hash-indexed backreference scheme whose
// dictionary persists across blocks within one stream.
package block

import "github.com/killingspark/blazer/internal/historybuf"

// DictSize is the fixed number of slots in the backreference dictionary.
const DictSize = 1 << 16

// LiteralSentinel marks a hash-indexed command as a literal-only run: the
// tag byte is reinterpreted and carries the literal count directly.
const LiteralSentinel = 0xFFFF

// MinMatchLen is the shortest backreference the codec will ever emit;
// shorter candidate matches are always encoded as literals.
const MinMatchLen = 4

// MaxShortOffset is the farthest distance a short-offset backreference can
// reach (offset byte range 1..256).
const MaxShortOffset = 256

const hashMultiplier = 1527631329

// pack4 folds four consecutive bytes into the rolling 32-bit window
// mulEl. Because each byte shifts the window left by 8 and the top bits
// of a 32-bit left shift by 8, four times, always end up zero, four
// updates in a row erase all trace of whatever mulEl held beforehand:
// the window after emitting bytes[p-3..p] depends only on those four
// bytes, never on anything emitted earlier.
func pack4(b0, b1, b2, b3 byte) uint32 {
	return uint32(b0)<<24 | uint32(b1)<<16 | uint32(b2)<<8 | uint32(b3)
}

// hashKey derives the 16-bit dictionary key from a rolling window value.
func hashKey(mulEl uint32) uint16 {
	return uint16((mulEl * hashMultiplier) >> 16)
}

// dictionary is the 65536-slot position table shared by Encoder and
// Decoder. A slot value < 3 marks an empty slot (a window's last byte is
// always at position >= 3, since a window needs 4 emitted bytes to exist).
type dictionary struct {
	slots [DictSize]int64
	mulEl uint32
}

func newDictionary() *dictionary {
	d := &dictionary{}
	d.reset()
	return d
}

func (d *dictionary) reset() {
	for i := range d.slots {
		d.slots[i] = 0
	}
	d.mulEl = 0
}

// stepByte rolls the window forward by one emitted byte and records the
// dictionary entry for the window that just completed, at the position
// of the window's own last byte (postEmitPos - 1, since postEmitPos is
// the history length that will hold once this byte is emitted).
// findHashMatch subtracts 3 from the stored value to recover the
// window's first byte. This is the single place either Encoder or
// Decoder records a dictionary entry, so their bookkeeping can never
// drift apart.
func (d *dictionary) stepByte(b byte, postEmitPos int64) {
	d.mulEl = (d.mulEl << 8) | uint32(b)
	key := hashKey(d.mulEl)
	if key != LiteralSentinel {
		d.slots[key] = postEmitPos - 1
	}
}

// stepRun rolls the window forward over every byte in data, whose first
// byte lands at absolute position historyLenBefore (0-indexed, already
// present in hist by the time this is called).
func (d *dictionary) stepRun(data []byte, historyLenBefore int64) {
	for i, b := range data {
		d.stepByte(b, historyLenBefore+int64(i)+1)
	}
}

// findHashMatch looks for a verified hash-indexed match for the 4-byte
// window starting at absolute position p, where hist already holds every
// byte up to at least p+4. It returns the match source and true only when
// the dictionary entry's content genuinely matches: a 16-bit hash
// collision never produces a false match.
func (d *dictionary) findHashMatch(hist *historybuf.Buffer, p int64) (int64, bool) {
	w0, w1, w2, w3 := hist.At(int(p)), hist.At(int(p+1)), hist.At(int(p+2)), hist.At(int(p+3))
	key := hashKey(pack4(w0, w1, w2, w3))
	if key == LiteralSentinel {
		return 0, false
	}
	candidate := d.slots[key]
	if candidate < 3 {
		return 0, false
	}
	src := candidate - 3
	if hist.At(int(src)) != w0 || hist.At(int(src+1)) != w1 || hist.At(int(src+2)) != w2 || hist.At(int(src+3)) != w3 {
		return 0, false
	}
	return src, true
}

// findShortMatch scans the MaxShortOffset bytes before literalStart for a
// 4-byte window equal to the one starting at p, preferring the nearest
// candidate. A mode=0 command's offset byte is decoded before its pending
// literal run is applied, so the decoder can only resolve a source
// position that precedes that literal run. EncodeBlock passes p itself as
// literalStart and, when the source found lies inside its pending literal
// run, emits that run as a literal-only command before the match.
func findShortMatch(hist *historybuf.Buffer, p, literalStart int64) (int64, bool) {
	w0, w1, w2, w3 := hist.At(int(p)), hist.At(int(p+1)), hist.At(int(p+2)), hist.At(int(p+3))
	upper := literalStart - 1
	lower := literalStart - MaxShortOffset
	if lower < 0 {
		lower = 0
	}
	for src := upper; src >= lower; src-- {
		if hist.At(int(src)) == w0 && hist.At(int(src+1)) == w1 && hist.At(int(src+2)) == w2 && hist.At(int(src+3)) == w3 {
			return src, true
		}
	}
	return 0, false
}

package container

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/killingspark/blazer/crypt"
)

func collect(t *testing.T, r io.Reader) []byte {
	t.Helper()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %s", err.Error())
	}
	return got
}

// scenario 1: no header, no CRC, no trailer, no password.
func TestScenarioPlainBlobOnly(t *testing.T) {
	input := []byte("ABCDABCDABCDABCD")
	flags := NewFlags(0)

	var buf bytes.Buffer
	wr, err := NewWriter(&buf, WriterConfig{Flags: flags})
	if err != nil {
		t.Fatalf("NewWriter: %s", err.Error())
	}
	if _, err := wr.Write(input); err != nil {
		t.Fatalf("Write: %s", err.Error())
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close: %s", err.Error())
	}

	rd, err := NewReader(&buf, ReaderConfig{ExpectHeader: false, Flags: flags})
	if err != nil {
		t.Fatalf("NewReader: %s", err.Error())
	}
	got := collect(t, rd)
	if !bytes.Equal(got, input) {
		t.Errorf("round trip mismatch: got %q want %q", got, input)
	}
}

// scenario 2: 64 KiB of 0x41, header+CRC+trailer, container stays small.
// e=7 gives 64 KiB blocks, so the input is one frame; at 512-byte blocks
// the 8 bytes of prefix+CRC per frame alone would reach 1 KiB.
func TestScenarioHighlyRepetitiveCompresses(t *testing.T) {
	input := bytes.Repeat([]byte{0x41}, 64*1024)
	flags := NewFlags(7).WithHeader().WithCRC().WithTrailer()

	var buf bytes.Buffer
	wr, err := NewWriter(&buf, WriterConfig{Flags: flags})
	if err != nil {
		t.Fatalf("NewWriter: %s", err.Error())
	}
	if _, err := wr.Write(input); err != nil {
		t.Fatalf("Write: %s", err.Error())
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close: %s", err.Error())
	}
	if buf.Len() >= 1024 {
		t.Errorf("expected container under 1KiB, got %d bytes", buf.Len())
	}

	rd, err := NewReader(bytes.NewReader(buf.Bytes()), ReaderConfig{ExpectHeader: true})
	if err != nil {
		t.Fatalf("NewReader: %s", err.Error())
	}
	got := collect(t, rd)
	if !bytes.Equal(got, input) {
		t.Errorf("round trip mismatch: got %d bytes want %d", len(got), len(input))
	}
}

// scenario 3: empty input, header+CRC+trailer produces exactly header+trailer.
func TestScenarioEmptyInput(t *testing.T) {
	flags := NewFlags(0).WithHeader().WithCRC().WithTrailer()

	var buf bytes.Buffer
	wr, err := NewWriter(&buf, WriterConfig{Flags: flags})
	if err != nil {
		t.Fatalf("NewWriter: %s", err.Error())
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close: %s", err.Error())
	}
	if buf.Len() != 12 {
		t.Errorf("expected exactly an 8-byte header plus 4-byte trailer, got %d bytes", buf.Len())
	}

	rd, err := NewReader(bytes.NewReader(buf.Bytes()), ReaderConfig{ExpectHeader: true})
	if err != nil {
		t.Fatalf("NewReader: %s", err.Error())
	}
	got := collect(t, rd)
	if len(got) != 0 {
		t.Errorf("expected zero decoded bytes, got %d", len(got))
	}
}

// scenario 4: 1 MiB of random bytes; container shouldn't balloon in size,
// since incompressible blocks get stored rather than re-expanded.
func TestScenarioRandomInputStoredWithLowOverhead(t *testing.T) {
	input := make([]byte, 1024*1024)
	rand.New(rand.NewSource(42)).Read(input)
	flags := NewFlags(0).WithHeader().WithTrailer()
	maxBlockSize := flags.MaxBlockSize()

	var buf bytes.Buffer
	wr, err := NewWriter(&buf, WriterConfig{Flags: flags})
	if err != nil {
		t.Fatalf("NewWriter: %s", err.Error())
	}
	if _, err := wr.Write(input); err != nil {
		t.Fatalf("Write: %s", err.Error())
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close: %s", err.Error())
	}

	numBlocks := (len(input) + maxBlockSize - 1) / maxBlockSize
	overhead := 8 + 4 + numBlocks*4
	if buf.Len() > len(input)+overhead {
		t.Errorf("container grew by more than one prefix per block: got %d, input %d, overhead budget %d", buf.Len(), len(input), overhead)
	}

	rd, err := NewReader(bytes.NewReader(buf.Bytes()), ReaderConfig{ExpectHeader: true})
	if err != nil {
		t.Fatalf("NewReader: %s", err.Error())
	}
	got := collect(t, rd)
	if !bytes.Equal(got, input) {
		t.Errorf("round trip mismatch on random input")
	}
}

// scenario 5: encrypted round trip, plus wrong-password rejection before
// any payload block is read.
func TestScenarioEncryptedRoundTrip(t *testing.T) {
	input := []byte("hello world")
	flags := NewFlags(0).WithHeader().WithCRC().WithTrailer().WithEncryptInner()

	var buf bytes.Buffer
	wr, err := NewWriter(&buf, WriterConfig{Flags: flags, Password: "pw"})
	if err != nil {
		t.Fatalf("NewWriter: %s", err.Error())
	}
	if _, err := wr.Write(input); err != nil {
		t.Fatalf("Write: %s", err.Error())
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close: %s", err.Error())
	}

	rd, err := NewReader(bytes.NewReader(buf.Bytes()), ReaderConfig{ExpectHeader: true, Password: "pw"})
	if err != nil {
		t.Fatalf("NewReader: %s", err.Error())
	}
	got := collect(t, rd)
	if !bytes.Equal(got, input) {
		t.Errorf("round trip mismatch: got %q want %q", got, input)
	}

	if _, err := NewReader(bytes.NewReader(buf.Bytes()), ReaderConfig{ExpectHeader: true, Password: "wrong"}); err != crypt.ErrBadPassword {
		t.Errorf("expected ErrBadPassword before any payload block is read, got %v", err)
	}
}

// scenario 6: swapping two encrypted blocks out of order is caught by the
// per-block counter.
func TestScenarioCounterReplayDetected(t *testing.T) {
	flags := NewFlags(0).WithHeader().WithEncryptInner() // e=0 -> 512-byte blocks
	input := make([]byte, 1300)                          // 3 blocks: 512, 512, 276
	rand.New(rand.NewSource(7)).Read(input)

	var buf bytes.Buffer
	wr, err := NewWriter(&buf, WriterConfig{Flags: flags, Password: "pw"})
	if err != nil {
		t.Fatalf("NewWriter: %s", err.Error())
	}
	if _, err := wr.Write(input); err != nil {
		t.Fatalf("Write: %s", err.Error())
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close: %s", err.Error())
	}

	raw := buf.Bytes()
	pos := 8 + 24 // header + encryption header
	var frameStarts []int
	for pos < len(raw) {
		frameStarts = append(frameStarts, pos)
		var prefix [4]byte
		copy(prefix[:], raw[pos:pos+4])
		_, payloadLen := decodeFramePrefix(prefix)
		pos += 4 + crypt.AdjustedLen(payloadLen)
	}
	if len(frameStarts) != 3 {
		t.Fatalf("expected 3 block frames, found %d", len(frameStarts))
	}

	frame := func(i int) []byte {
		end := len(raw)
		if i+1 < len(frameStarts) {
			end = frameStarts[i+1]
		}
		return raw[frameStarts[i]:end]
	}
	swapped := append([]byte{}, raw[:frameStarts[1]]...)
	swapped = append(swapped, frame(2)...)
	swapped = append(swapped, frame(1)...)

	rd, err := NewReader(bytes.NewReader(swapped), ReaderConfig{ExpectHeader: true, Password: "pw"})
	if err != nil {
		t.Fatalf("NewReader: %s", err.Error())
	}
	_, err = io.ReadAll(rd)
	if err != crypt.ErrCounterMismatch {
		t.Errorf("expected ErrCounterMismatch, got %v", err)
	}
}

func TestHeaderBytesExact(t *testing.T) {
	flags := NewFlags(2).WithHeader().WithCRC()
	var buf bytes.Buffer
	wr, err := NewWriter(&buf, WriterConfig{Flags: flags})
	if err != nil {
		t.Fatalf("NewWriter: %s", err.Error())
	}
	if _, err := wr.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %s", err.Error())
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close: %s", err.Error())
	}
	got := buf.Bytes()
	if got[0] != 'b' || got[1] != 'L' || got[2] != 'z' {
		t.Errorf("bad magic: %v", got[0:3])
	}
	if got[3] != version {
		t.Errorf("header byte 3 = %#x, want %#x", got[3], version)
	}
}

func TestUnknownFlagsRejected(t *testing.T) {
	bad := Flags(1 << 20)
	if err := bad.Validate(); err != ErrUnknownFlags {
		t.Errorf("expected ErrUnknownFlags, got %v", err)
	}
}

func TestEncryptFullAndInnerMutuallyExclusive(t *testing.T) {
	bad := NewFlags(0).WithEncryptFull().WithEncryptInner()
	if err := bad.Validate(); err != ErrInvalidConfig {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestFlushMarkerInvokesControlCallback(t *testing.T) {
	flags := NewFlags(0).WithFlush()
	var buf bytes.Buffer
	wr, err := NewWriter(&buf, WriterConfig{Flags: flags})
	if err != nil {
		t.Fatalf("NewWriter: %s", err.Error())
	}
	if _, err := wr.Write([]byte("part one")); err != nil {
		t.Fatalf("Write: %s", err.Error())
	}
	if err := wr.Flush(); err != nil {
		t.Fatalf("Flush: %s", err.Error())
	}
	if _, err := wr.Write([]byte("part two")); err != nil {
		t.Fatalf("Write: %s", err.Error())
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("Close: %s", err.Error())
	}

	var flushCount int
	rd, err := NewReader(bytes.NewReader(buf.Bytes()), ReaderConfig{
		ExpectHeader: false,
		Flags:        flags,
		ControlFunc:  func(data []byte) { flushCount++ },
	})
	if err != nil {
		t.Fatalf("NewReader: %s", err.Error())
	}
	got := collect(t, rd)
	if string(got) != "part onepart two" {
		t.Errorf("got %q", got)
	}
	if flushCount != 1 {
		t.Errorf("expected exactly one flush callback, got %d", flushCount)
	}
}

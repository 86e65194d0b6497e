package container

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/rs/zerolog"

	"github.com/killingspark/blazer/block"
	"github.com/killingspark/blazer/checksum"
	"github.com/killingspark/blazer/crypt"
	"github.com/killingspark/blazer/fileinfo"
)

// ReaderConfig tells a Reader how to parse its input: whether to expect a
// container header at all (a headerless, "blobonly" stream has none, so
// the caller must supply Flags directly), the password if encryption is
// expected, and an optional callback for flush/control frames.
type ReaderConfig struct {
	ExpectHeader bool
	Flags        Flags
	Password     string
	ControlFunc  func(data []byte)
	Log          zerolog.Logger
}

// Reader parses a container and exposes its decoded content through a
// pull API (io.Reader), refilling from the next frame on exhaustion, per
// the framing layer's read-path contract.
type Reader struct {
	br   *bufio.Reader
	flags Flags
	dec  *block.Decoder
	cipher crypt.Cipher
	controlFn func([]byte)
	log  zerolog.Logger

	fileInfo *fileinfo.FileInfo

	pending  []byte
	finished bool
}

// NewReader parses the header (if expected) and any encryption header,
// verifies the password, and reads the file-info frame (if the flag is
// set) before returning, so setup errors surface before the first block
// is ever decoded.
func NewReader(r io.Reader, cfg ReaderConfig) (*Reader, error) {
	rd := &Reader{
		controlFn: cfg.ControlFunc,
		cipher:    crypt.None,
		dec:       block.NewDecoder(),
		log:       cfg.Log,
	}

	var src io.Reader = r
	var flags Flags

	if cfg.ExpectHeader {
		var hdr [8]byte
		if _, err := io.ReadFull(src, hdr[:]); err != nil {
			return nil, err
		}
		if hdr[0] != magic[0] || hdr[1] != magic[1] || hdr[2] != magic[2] {
			return nil, ErrCorruptStream
		}
		switch {
		case hdr[3] > version:
			return nil, ErrVersionNewer
		case hdr[3] < version:
			return nil, ErrVersionOlder
		}
		flags = Flags(binary.LittleEndian.Uint32(hdr[4:]))
		if err := flags.Validate(); err != nil {
			return nil, err
		}
	} else {
		flags = cfg.Flags
		if err := flags.Validate(); err != nil {
			return nil, err
		}
	}
	rd.flags = flags

	// The seek-ahead trailer check is an early-fail optimization only
	// available on a seekable, unencrypted-at-this-layer source; a
	// non-seekable source (or one wrapped by encrypt-full) just validates
	// the trailer in sequence, like any other frame, when it's reached.
	if flags.Trailer() && !flags.EncryptFull() {
		if seeker, ok := src.(io.ReadSeeker); ok {
			if err := checkTrailerAhead(seeker); err != nil {
				return nil, err
			}
		}
	}

	if flags.EncryptFull() {
		fr, err := crypt.NewFullDecryptReader(src, cfg.Password)
		if err != nil {
			return nil, err
		}
		src = fr
	}

	rd.br = bufio.NewReader(src)

	if flags.EncryptInner() {
		if cfg.Password == "" {
			return nil, ErrPasswordRequired
		}
		var encHdr [24]byte
		if _, err := io.ReadFull(rd.br, encHdr[:]); err != nil {
			return nil, err
		}
		c, err := crypt.NewDecryptHelper(cfg.Password, encHdr[:])
		if err != nil {
			return nil, err
		}
		rd.cipher = c
	} else if cfg.Password != "" && !flags.EncryptFull() {
		return nil, ErrPasswordUnexpected
	}

	if flags.FileInfo() {
		fi, err := rd.readFileInfoFrame()
		if err != nil {
			return nil, err
		}
		rd.fileInfo = fi
	}

	rd.log.Debug().Uint32("flags", uint32(flags)).Msg("container opened")
	return rd, nil
}

// FileInfo returns the file-info record read from the container, or nil
// if the file-info flag was not set.
func (rd *Reader) FileInfo() *fileinfo.FileInfo { return rd.fileInfo }

func checkTrailerAhead(s io.ReadSeeker) error {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := s.Seek(-4, io.SeekEnd); err != nil {
		return err
	}
	var tb [4]byte
	if _, err := io.ReadFull(s, tb[:]); err != nil {
		return err
	}
	if tb != trailerBytes {
		return ErrCorruptStream
	}
	_, err = s.Seek(cur, io.SeekStart)
	return err
}

// Read implements the pull API: it refills from successive frames,
// skipping control/flush frames transparently, until it has decoded
// bytes to hand back or the trailer/EOF ends the stream.
func (rd *Reader) Read(p []byte) (int, error) {
	for len(rd.pending) == 0 {
		if rd.finished {
			return 0, io.EOF
		}
		if err := rd.nextFrame(); err != nil {
			if err == io.EOF {
				continue
			}
			return 0, err
		}
	}
	n := copy(p, rd.pending)
	rd.pending = rd.pending[n:]
	return n, nil
}

func (rd *Reader) nextFrame() error {
	var prefix [4]byte
	n, err := io.ReadFull(rd.br, prefix[:])
	if err != nil {
		if (err == io.EOF || err == io.ErrUnexpectedEOF) && n == 0 {
			if rd.flags.Trailer() {
				return ErrCorruptStream
			}
			rd.finished = true
			return io.EOF
		}
		return err
	}

	switch prefix[0] {
	case tagTrailer:
		if prefix[1] != 'Z' || prefix[2] != 'l' || prefix[3] != 'B' {
			return ErrCorruptStream
		}
		rd.finished = true
		return io.EOF
	case tagFlush:
		if rd.controlFn != nil {
			rd.controlFn(nil)
		}
		return rd.nextFrame()
	case tagControl:
		_, payloadLen := decodeFramePrefix(prefix)
		if payloadLen > rd.flags.MaxBlockSize() {
			return ErrCorruptStream
		}
		payload, err := rd.readPayload(payloadLen, false)
		if err != nil {
			return err
		}
		if rd.controlFn != nil {
			rd.controlFn(payload)
		}
		return rd.nextFrame()
	case tagFileInfo:
		return ErrCorruptStream
	case tagStored:
		return rd.readDataFrame(prefix, false)
	default:
		if prefix[0] == rd.flags.AlgorithmID() && prefix[0] >= 1 && prefix[0] <= 15 {
			return rd.readDataFrame(prefix, true)
		}
		return ErrCorruptStream
	}
}

func (rd *Reader) readDataFrame(prefix [4]byte, compressed bool) error {
	_, payloadLen := decodeFramePrefix(prefix)
	if payloadLen > rd.flags.MaxBlockSize() {
		return ErrCorruptStream
	}
	plain, err := rd.readPayload(payloadLen, rd.flags.EncryptInner())
	if err != nil {
		return err
	}

	dst := make([]byte, rd.flags.MaxBlockSize())
	var produced int
	if compressed {
		produced, err = rd.dec.Decode(dst, plain, false)
	} else {
		produced, err = rd.dec.DecodeStored(dst, plain, false)
	}
	if err != nil {
		return err
	}
	rd.pending = append(rd.pending, dst[:produced]...)
	return nil
}

func (rd *Reader) readFileInfoFrame() (*fileinfo.FileInfo, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(rd.br, prefix[:]); err != nil {
		return nil, err
	}
	if prefix[0] != tagFileInfo {
		return nil, ErrCorruptStream
	}
	_, payloadLen := decodeFramePrefix(prefix)
	if payloadLen > rd.flags.MaxBlockSize() {
		return nil, ErrCorruptStream
	}
	raw, err := rd.readPayload(payloadLen, false)
	if err != nil {
		return nil, err
	}
	fi := &fileinfo.FileInfo{}
	if err := fi.Decode(raw); err != nil {
		return nil, err
	}
	return fi, nil
}

// readPayload reads one frame's on-wire payload (and its CRC, if
// enabled), verifies the CRC against the bytes as written, and decrypts
// when encrypted is true. plaintextLen is always the logical payload
// size recorded in the frame prefix; readPayload derives the on-wire
// size itself via crypt.AdjustedLen when encrypted.
func (rd *Reader) readPayload(plaintextLen int, encrypted bool) ([]byte, error) {
	wireLen := plaintextLen
	if encrypted {
		wireLen = crypt.AdjustedLen(plaintextLen)
	}

	var crc uint32
	if rd.flags.CRC() {
		var crcBuf [4]byte
		if _, err := io.ReadFull(rd.br, crcBuf[:]); err != nil {
			return nil, err
		}
		crc = binary.LittleEndian.Uint32(crcBuf[:])
	}

	wire := make([]byte, wireLen)
	if _, err := io.ReadFull(rd.br, wire); err != nil {
		return nil, err
	}
	if rd.flags.CRC() && checksum.Checksum(wire) != crc {
		return nil, ErrCRCMismatch
	}
	if !encrypted {
		return wire, nil
	}
	return rd.cipher.Decrypt(wire, plaintextLen)
}

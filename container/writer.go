package container

import (
	"encoding/binary"
	"io"

	"github.com/rs/zerolog"

	"github.com/killingspark/blazer/block"
	"github.com/killingspark/blazer/checksum"
	"github.com/killingspark/blazer/crypt"
	"github.com/killingspark/blazer/fileinfo"
)

// Writer assembles a container: header, per-block prefix, optional CRC,
// optional trailer, driving the Block encoder and the encryption helper.
// One struct holds everything the stream needs across calls, for the
// write path.
type Writer struct {
	w          io.Writer
	fullCloser io.Closer

	flags     Flags
	enc       *block.Encoder
	cipher    crypt.Cipher
	encHeader []byte
	fileInfo  *fileinfo.FileInfo

	buf           []byte
	headerWritten bool

	Log zerolog.Logger
}

// WriterConfig assembles the flags plus password/options for a Writer,
// checked by Validate when NewWriter is called.
type WriterConfig struct {
	Flags    Flags
	Password string
	FileInfo *fileinfo.FileInfo
	Log      zerolog.Logger
}

// Validate checks the flags and the password/flag combination eagerly,
// before anything is written.
func (c WriterConfig) Validate() error {
	if err := c.Flags.Validate(); err != nil {
		return err
	}
	if c.Flags.EncryptInner() && c.Password == "" {
		return ErrPasswordRequired
	}
	if !c.Flags.EncryptInner() && !c.Flags.EncryptFull() && c.Password != "" {
		return ErrPasswordUnexpected
	}
	if c.Flags.FileInfo() && c.FileInfo == nil {
		return ErrInvalidConfig
	}
	return nil
}

// NewWriter builds a Writer that writes a container to w per cfg.
func NewWriter(w io.Writer, cfg WriterConfig) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wr := &Writer{
		flags:    cfg.Flags,
		enc:      block.NewEncoder(),
		cipher:   crypt.None,
		fileInfo: cfg.FileInfo,
		buf:      make([]byte, 0, cfg.Flags.MaxBlockSize()),
		Log:      cfg.Log,
	}

	if cfg.Flags.EncryptFull() {
		fw, err := crypt.NewFullEncryptWriter(w, cfg.Password)
		if err != nil {
			return nil, err
		}
		wr.fullCloser = fw
		w = fw
	}
	wr.w = w

	if cfg.Flags.EncryptInner() {
		c, hdr, err := crypt.NewEncryptHelper(cfg.Password)
		if err != nil {
			return nil, err
		}
		wr.cipher = c
		wr.encHeader = hdr
	}

	return wr, nil
}

// Write buffers p into the current block, flushing full blocks as they
// fill. It never blocks on anything but the underlying writer.
func (wr *Writer) Write(p []byte) (int, error) {
	total := len(p)
	maxSize := wr.flags.MaxBlockSize()
	for len(p) > 0 {
		room := maxSize - len(wr.buf)
		n := room
		if n > len(p) {
			n = len(p)
		}
		wr.buf = append(wr.buf, p[:n]...)
		p = p[n:]
		if len(wr.buf) == maxSize {
			if err := wr.flushBlock(false); err != nil {
				return total - len(p), err
			}
		}
	}
	return total, nil
}

// Flush forces whatever is currently buffered out as a block. If the
// flush-boundary flag is set, it also emits a flush marker frame so a
// downstream reader can observe the boundary; otherwise the buffered
// bytes are written but no marker is emitted.
func (wr *Writer) Flush() error {
	if err := wr.flushBlock(false); err != nil {
		return err
	}
	if !wr.flags.Flush() {
		return nil
	}
	if err := wr.ensureOpened(); err != nil {
		return err
	}
	var prefix [4]byte
	prefix[0] = tagFlush
	_, err := wr.w.Write(prefix[:])
	return err
}

// WriteControl emits an out-of-band control frame (tag 0xF1), passed
// through to the reader's control callback untouched.
func (wr *Writer) WriteControl(data []byte) error {
	return wr.writeFrame(tagControl, data, false)
}

// Close flushes any remaining buffered bytes as the final block, emits
// the header if nothing has been written yet (a zero-block stream still
// needs one), writes the trailer if enabled, and closes the encrypt-full
// wrapper if one is in play.
func (wr *Writer) Close() error {
	if err := wr.flushBlock(true); err != nil {
		return err
	}
	if err := wr.ensureOpened(); err != nil {
		return err
	}
	if wr.flags.Trailer() {
		if _, err := wr.w.Write(trailerBytes[:]); err != nil {
			return err
		}
	}
	if wr.fullCloser != nil {
		return wr.fullCloser.Close()
	}
	return nil
}

func (wr *Writer) flushBlock(cleanup bool) error {
	if len(wr.buf) == 0 {
		return nil
	}
	payload, compressed := wr.enc.EncodeBlock(wr.buf, cleanup)
	tag := byte(tagStored)
	if compressed {
		tag = wr.flags.AlgorithmID()
	}
	if err := wr.writeFrame(tag, payload, true); err != nil {
		return err
	}
	wr.Log.Debug().Int("bytes", len(wr.buf)).Int("wire", len(payload)).Bool("compressed", compressed).Msg("block flushed")
	wr.buf = wr.buf[:0]
	return nil
}

// writeFrame writes one payload-bearing frame: prefix, optional CRC over
// the on-wire bytes, then the on-wire bytes themselves. encrypt is true
// only for stored/compressed block payloads; control and file-info
// frames are never considered part of the encrypted byte stream.
func (wr *Writer) writeFrame(tag byte, payload []byte, encrypt bool) error {
	if err := wr.ensureOpened(); err != nil {
		return err
	}
	wire := payload
	if encrypt {
		ct, err := wr.cipher.Encrypt(payload)
		if err != nil {
			return err
		}
		wire = ct
	}

	prefix := encodeFramePrefix(tag, len(payload))
	if _, err := wr.w.Write(prefix[:]); err != nil {
		return err
	}
	if wr.flags.CRC() {
		var crcBuf [4]byte
		binary.LittleEndian.PutUint32(crcBuf[:], checksum.Checksum(wire))
		if _, err := wr.w.Write(crcBuf[:]); err != nil {
			return err
		}
	}
	_, err := wr.w.Write(wire)
	return err
}

// ensureOpened writes the container header, encryption header, and
// file-info frame exactly once, on whichever comes first: the first real
// frame, or Close for a stream that never wrote one.
func (wr *Writer) ensureOpened() error {
	if wr.headerWritten {
		return nil
	}
	wr.headerWritten = true

	if wr.flags.Header() {
		var hdr [8]byte
		copy(hdr[0:3], magic[:])
		hdr[3] = version
		binary.LittleEndian.PutUint32(hdr[4:], uint32(wr.flags))
		if _, err := wr.w.Write(hdr[:]); err != nil {
			return err
		}
	}
	if wr.flags.EncryptInner() {
		if _, err := wr.w.Write(wr.encHeader); err != nil {
			return err
		}
	}
	if wr.flags.FileInfo() {
		enc := wr.fileInfo.Encode()
		if err := wr.writeFrame(tagFileInfo, enc, false); err != nil {
			return err
		}
	}
	wr.Log.Debug().Msg("container header written")
	return nil
}

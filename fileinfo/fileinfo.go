// Package fileinfo implements the small name/size/mode/mtime record
// carried in a container's 0xFD frame.
package fileinfo

import (
	"encoding/binary"
	"errors"
)

// ErrMalformed is returned by Decode when raw is too short or its
// embedded name length runs past the end of the buffer.
var ErrMalformed = errors.New("fileinfo: malformed record")

// FileInfo records an input file's metadata: its original name, size,
// permission bits, and modification time. The CLI writes it when
// compressing; decompression does not apply it to the output file.
type FileInfo struct {
	Name    string
	Size    int64
	Mode    uint32 // os.FileMode bits, stored raw
	ModTime int64  // unix seconds
}

const fixedFieldsLen = 4 + 8 + 4 + 8 // namelen + size + mode + mtime

// Encode returns the wire form: a 4-byte LE name length, the name bytes,
// then 8 bytes size, 4 bytes mode, 8 bytes mtime, all little-endian.
func (fi *FileInfo) Encode() []byte {
	name := []byte(fi.Name)
	buf := make([]byte, fixedFieldsLen+len(name))

	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(name)))
	copy(buf[4:4+len(name)], name)
	off := 4 + len(name)
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(fi.Size))
	binary.LittleEndian.PutUint32(buf[off+8:off+12], fi.Mode)
	binary.LittleEndian.PutUint64(buf[off+12:off+20], uint64(fi.ModTime))
	return buf
}

// Decode reverses Encode: a fixed-purpose method on a raw byte slice,
// returning a sentinel error on anything malformed.
func (fi *FileInfo) Decode(raw []byte) error {
	if len(raw) < 4 {
		return ErrMalformed
	}
	nameLen := int(binary.LittleEndian.Uint32(raw[0:4]))
	if nameLen < 0 || 4+nameLen+20 > len(raw) {
		return ErrMalformed
	}
	name := string(raw[4 : 4+nameLen])
	off := 4 + nameLen
	size := int64(binary.LittleEndian.Uint64(raw[off : off+8]))
	mode := binary.LittleEndian.Uint32(raw[off+8 : off+12])
	mtime := int64(binary.LittleEndian.Uint64(raw[off+12 : off+20]))

	fi.Name = name
	fi.Size = size
	fi.Mode = mode
	fi.ModTime = mtime
	return nil
}

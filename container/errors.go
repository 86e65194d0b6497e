package container

import "errors"

// Error taxonomy for the framing layer. block and crypt contribute their
// own sentinels (block.ErrCorruptStream, crypt.ErrBadPassword, ...) for
// failures at their layer; these cover what only the framing layer can
// detect.
var (
	ErrCorruptStream      = errors.New("container: corrupt stream")
	ErrUnknownFlags       = errors.New("container: unknown flags set")
	ErrVersionNewer       = errors.New("container: container version newer than supported")
	ErrVersionOlder       = errors.New("container: container version older than supported")
	ErrPasswordRequired   = errors.New("container: password required")
	ErrPasswordUnexpected = errors.New("container: password given for unencrypted stream")
	ErrCRCMismatch        = errors.New("container: crc mismatch")
	ErrBufferTooSmall     = errors.New("container: output buffer too small")
	ErrInvalidConfig      = errors.New("container: invalid configuration")
)

// Package checksum computes the CRC32C (Castagnoli) checksum used to
// protect each block's on-wire payload.
package checksum

import "hash/crc32"

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of data. Computed over whatever bytes are
// actually written to the wire, so callers must checksum ciphertext when a
// block is encrypted, not the plaintext that produced it.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// Package crypt implements Blazer's encryption sub-layer: password-derived
// AES-CBC block encryption with an anti-replay counter and a
// password-verification handshake, plus the encrypt-full outer stream
// cipher. Each cipher is a small struct that owns its own mutable state
// (counter, cipher block) and exposes narrow Encrypt/Decrypt entry points.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	innerKeyLen        = 32
	innerIterations    = 20000
	saltLen            = 8
	seedLen            = 8
	encryptionHeaderLen = saltLen + seedLen + 8

	challengeSuffixCounter = "Blazer!?"
	challengeSuffixLegacy  = "Blazer!!"
)

var (
	// ErrBadPassword is returned when neither challenge variant verifies.
	ErrBadPassword = errors.New("crypt: invalid password")
	// ErrCounterMismatch means a block's expected-value counter didn't
	// match: the stream was reordered, truncated, or tampered with.
	ErrCounterMismatch = errors.New("crypt: duplicated or damaged block")
	// ErrCorruptBlock covers malformed ciphertext: wrong length, bad
	// padding, anything that can't possibly be this cipher's output.
	ErrCorruptBlock = errors.New("crypt: corrupt encrypted block")
)

// Cipher is the per-block encryption seam. Two implementations exist:
// None (passthrough, used when the stream isn't encrypted) and the AES
// counter cipher below, dispatched once at stream setup rather than per
// call.
type Cipher interface {
	// Encrypt returns the on-wire ciphertext for one block's plaintext.
	Encrypt(plaintext []byte) ([]byte, error)
	// Decrypt reverses Encrypt. plaintextLen is the exact size recorded in
	// the frame prefix: zero-padding alone can't mark a boundary that a
	// legitimately zero-ending plaintext wouldn't also produce.
	Decrypt(ciphertext []byte, plaintextLen int) ([]byte, error)
}

// None is the passthrough cipher used when a stream carries no encryption.
var None Cipher = noneCipher{}

type noneCipher struct{}

func (noneCipher) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (noneCipher) Decrypt(c []byte, n int) ([]byte, error) {
	if len(c) != n {
		return nil, ErrCorruptBlock
	}
	return c, nil
}

// AdjustedLen rounds n+8 up to the next multiple of 16: the on-wire size
// of an encrypted block whose plaintext is n bytes, after an 8-byte
// counter is prepended and the result is zero-padded to the cipher's
// block size.
func AdjustedLen(n int) int {
	return ((n - 1 + 8) | 15) + 1
}

func deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, innerKeyLen, sha1.New)
}

func cbcCryptZeroIV(block cipher.Block, dst, src []byte, encrypt bool) {
	iv := make([]byte, aes.BlockSize)
	var mode cipher.BlockMode
	if encrypt {
		mode = cipher.NewCBCEncrypter(block, iv)
	} else {
		mode = cipher.NewCBCDecrypter(block, iv)
	}
	mode.CryptBlocks(dst, src)
}

func challenge(block cipher.Block, seed []byte, suffix string) []byte {
	input := make([]byte, 0, len(seed)+len(suffix))
	input = append(input, seed...)
	input = append(input, suffix...)
	out := make([]byte, len(input))
	cbcCryptZeroIV(block, out, input, true)
	return out[:8]
}

// NewEncryptHelper derives a fresh key from password and a random salt,
// and builds the 24-byte encryption header a decoder uses to verify the
// password before trusting any block payload. The returned Cipher always
// uses the per-block counter variant.
func NewEncryptHelper(password string) (Cipher, []byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	seed := make([]byte, seedLen)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, err
	}

	key := deriveKey(password, salt, innerIterations)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	header := make([]byte, encryptionHeaderLen)
	copy(header[0:saltLen], salt)
	copy(header[saltLen:saltLen+seedLen], seed)
	copy(header[saltLen+seedLen:], challenge(block, seed, challengeSuffixCounter))

	return &aesCounterCipher{block: block, useCounter: true}, header, nil
}

// NewDecryptHelper parses a 24-byte encryption header, derives the key
// from its salt, and verifies password against both challenge variants.
// The accepted variant selects whether per-block counters are enforced.
func NewDecryptHelper(password string, header []byte) (Cipher, error) {
	if len(header) != encryptionHeaderLen {
		return nil, ErrCorruptBlock
	}
	salt := header[0:saltLen]
	seed := header[saltLen : saltLen+seedLen]
	want := header[saltLen+seedLen:]

	key := deriveKey(password, salt, innerIterations)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	variants := []struct {
		suffix     string
		useCounter bool
	}{
		{challengeSuffixCounter, true},
		{challengeSuffixLegacy, false},
	}
	for _, v := range variants {
		if bytes.Equal(challenge(block, seed, v.suffix), want) {
			return &aesCounterCipher{block: block, useCounter: v.useCounter}, nil
		}
	}
	return nil, ErrBadPassword
}

// aesCounterCipher encrypts each block's plaintext behind an 8-byte
// little-endian counter, AES-256-CBC, zero IV, zero padding. The zero IV
// is safe here because the salt randomizes the key per container and the
// counter guarantees no two blocks ever encrypt the same plaintext.
type aesCounterCipher struct {
	block      cipher.Block
	counter    uint64
	useCounter bool
}

func (c *aesCounterCipher) Encrypt(plaintext []byte) ([]byte, error) {
	buf := make([]byte, AdjustedLen(len(plaintext)))
	binary.LittleEndian.PutUint64(buf[0:8], c.counter)
	copy(buf[8:8+len(plaintext)], plaintext)
	cbcCryptZeroIV(c.block, buf, buf, true)
	c.counter++
	return buf, nil
}

func (c *aesCounterCipher) Decrypt(ciphertext []byte, plaintextLen int) ([]byte, error) {
	want := AdjustedLen(plaintextLen)
	if len(ciphertext) != want || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrCorruptBlock
	}
	buf := make([]byte, len(ciphertext))
	cbcCryptZeroIV(c.block, buf, ciphertext, false)

	counter := binary.LittleEndian.Uint64(buf[0:8])
	if c.useCounter && counter != c.counter {
		return nil, ErrCounterMismatch
	}
	c.counter++
	return buf[8 : 8+plaintextLen], nil
}

package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const encryptFullIterations = 4096

// ErrShortCiphertext is returned when an encrypt-full stream ends before a
// complete, padded final block could be read.
var ErrShortCiphertext = errors.New("crypt: truncated encrypt-full stream")

// NewFullEncryptWriter wraps w so that everything written through the
// returned WriteCloser is AES-256-CBC encrypted under a key derived from
// password, PKCS7-padded at Close. The random salt is written to w first,
// plain, so a matching reader can rederive the key.
func NewFullEncryptWriter(w io.Writer, password string) (io.WriteCloser, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := w.Write(salt); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, encryptFullIterations, innerKeyLen, sha1.New))
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	return &fullEncryptWriter{w: w, mode: cipher.NewCBCEncrypter(block, iv)}, nil
}

type fullEncryptWriter struct {
	w       io.Writer
	mode    cipher.BlockMode
	pending []byte
}

func (f *fullEncryptWriter) Write(p []byte) (int, error) {
	f.pending = append(f.pending, p...)
	n := len(f.pending) - len(f.pending)%aes.BlockSize
	if n > 0 {
		out := make([]byte, n)
		f.mode.CryptBlocks(out, f.pending[:n])
		if _, err := f.w.Write(out); err != nil {
			return 0, err
		}
		f.pending = f.pending[n:]
	}
	return len(p), nil
}

// Close pads the final partial block with PKCS7 and flushes it. Always
// writes at least one block, even for an empty stream, so the reader has
// an unambiguous padding byte to strip.
func (f *fullEncryptWriter) Close() error {
	padLen := aes.BlockSize - len(f.pending)%aes.BlockSize
	padded := make([]byte, len(f.pending)+padLen)
	copy(padded, f.pending)
	for i := len(f.pending); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	out := make([]byte, len(padded))
	f.mode.CryptBlocks(out, padded)
	_, err := f.w.Write(out)
	return err
}

// NewFullDecryptReader reverses NewFullEncryptWriter. It reads the salt
// prefix from r, then decrypts and un-pads the remainder, holding back
// one decrypted block at a time so it can recognize and strip the final
// PKCS7 padding only once EOF confirms which block is last.
func NewFullDecryptReader(r io.Reader, password string) (io.Reader, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, encryptFullIterations, innerKeyLen, sha1.New))
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	return &fullDecryptReader{r: r, mode: cipher.NewCBCDecrypter(block, iv)}, nil
}

type fullDecryptReader struct {
	r    io.Reader
	mode cipher.BlockMode
	held []byte
	out  []byte
	done bool
}

func (f *fullDecryptReader) fill() error {
	for len(f.out) == 0 && !f.done {
		buf := make([]byte, aes.BlockSize)
		_, err := io.ReadFull(f.r, buf)
		if err == io.ErrUnexpectedEOF {
			f.done = true
			return ErrShortCiphertext
		}
		if err == io.EOF {
			f.done = true
			if f.held == nil {
				return ErrShortCiphertext
			}
			padLen := int(f.held[len(f.held)-1])
			if padLen == 0 || padLen > aes.BlockSize || padLen > len(f.held) {
				return ErrCorruptBlock
			}
			f.out = f.held[:len(f.held)-padLen]
			f.held = nil
			return nil
		}
		if err != nil {
			return err
		}
		dec := make([]byte, aes.BlockSize)
		f.mode.CryptBlocks(dec, buf)
		if f.held != nil {
			f.out = append(f.out, f.held...)
		}
		f.held = dec
	}
	return nil
}

func (f *fullDecryptReader) Read(p []byte) (int, error) {
	if len(f.out) == 0 {
		if err := f.fill(); err != nil {
			return 0, err
		}
		if len(f.out) == 0 {
			return 0, io.EOF
		}
	}
	n := copy(p, f.out)
	f.out = f.out[n:]
	return n, nil
}

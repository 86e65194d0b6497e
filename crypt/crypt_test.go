package crypt

import (
	"bytes"
	"crypto/aes"
	"strings"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	enc, header, err := NewEncryptHelper("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewEncryptHelper: %s", err.Error())
	}
	dec, err := NewDecryptHelper("correct horse battery staple", header)
	if err != nil {
		t.Fatalf("NewDecryptHelper: %s", err.Error())
	}

	plain := []byte("some block payload")
	ct, err := enc.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %s", err.Error())
	}
	got, err := dec.Decrypt(ct, len(plain))
	if err != nil {
		t.Fatalf("Decrypt: %s", err.Error())
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round trip mismatch: got %q want %q", got, plain)
	}
}

func TestHandshakeWrongPasswordRejected(t *testing.T) {
	_, header, err := NewEncryptHelper("hunter2")
	if err != nil {
		t.Fatalf("NewEncryptHelper: %s", err.Error())
	}
	if _, err := NewDecryptHelper("wrong password", header); err != ErrBadPassword {
		t.Errorf("expected ErrBadPassword, got %v", err)
	}
}

func TestHandshakeLegacyVariant(t *testing.T) {
	// Build a header the way an older encoder without the counter variant
	// would have: same salt/seed layout, challenge suffix "Blazer!!".
	salt := bytes.Repeat([]byte{0x07}, saltLen)
	seed := bytes.Repeat([]byte{0x09}, seedLen)
	key := deriveKey("legacy", salt, innerIterations)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher init: %s", err.Error())
	}
	header := make([]byte, encryptionHeaderLen)
	copy(header[0:saltLen], salt)
	copy(header[saltLen:saltLen+seedLen], seed)
	copy(header[saltLen+seedLen:], challenge(block, seed, challengeSuffixLegacy))

	c, err := NewDecryptHelper("legacy", header)
	if err != nil {
		t.Fatalf("NewDecryptHelper: %s", err.Error())
	}
	aesC, ok := c.(*aesCounterCipher)
	if !ok || aesC.useCounter {
		t.Errorf("legacy variant should not enforce the per-block counter")
	}
}

func TestCounterMismatchDetectsReorder(t *testing.T) {
	enc, header, err := NewEncryptHelper("pw")
	if err != nil {
		t.Fatalf("NewEncryptHelper: %s", err.Error())
	}
	dec, err := NewDecryptHelper("pw", header)
	if err != nil {
		t.Fatalf("NewDecryptHelper: %s", err.Error())
	}

	first, _ := enc.Encrypt([]byte("block one"))
	second, _ := enc.Encrypt([]byte("block two"))

	// Decrypt out of order: the helper expects counter 0 first.
	if _, err := dec.Decrypt(second, len("block two")); err != ErrCounterMismatch {
		t.Errorf("expected ErrCounterMismatch, got %v", err)
	}
	_ = first
}

func TestAdjustedLen(t *testing.T) {
	cases := map[int]int{1: 16, 8: 16, 9: 32, 16: 32, 23: 32, 24: 32}
	for n, want := range cases {
		if got := AdjustedLen(n); got != want {
			t.Errorf("AdjustedLen(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestNoneCipherPassesThrough(t *testing.T) {
	plain := []byte("unencrypted payload")
	ct, err := None.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %s", err.Error())
	}
	if !bytes.Equal(ct, plain) {
		t.Fatalf("None.Encrypt should be identity")
	}
	got, err := None.Decrypt(ct, len(plain))
	if err != nil {
		t.Fatalf("Decrypt: %s", err.Error())
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round trip mismatch")
	}
}

func TestFullCipherRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewFullEncryptWriter(&buf, "full-stream-password")
	if err != nil {
		t.Fatalf("NewFullEncryptWriter: %s", err.Error())
	}
	payload := []byte(strings.Repeat("the container wraps this whole stream. ", 50))
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write: %s", err.Error())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %s", err.Error())
	}

	r, err := NewFullDecryptReader(&buf, "full-stream-password")
	if err != nil {
		t.Fatalf("NewFullDecryptReader: %s", err.Error())
	}
	got := make([]byte, 0, len(payload))
	tmp := make([]byte, 37) // odd-sized reads to exercise partial buffering
	for {
		n, err := r.Read(tmp)
		got = append(got, tmp[:n]...)
		if err != nil {
			break
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("encrypt-full round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestFullCipherEmptyStream(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewFullEncryptWriter(&buf, "pw")
	if err != nil {
		t.Fatalf("NewFullEncryptWriter: %s", err.Error())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %s", err.Error())
	}

	r, err := NewFullDecryptReader(&buf, "pw")
	if err != nil {
		t.Fatalf("NewFullDecryptReader: %s", err.Error())
	}
	tmp := make([]byte, 16)
	n, err := r.Read(tmp)
	if n != 0 {
		t.Errorf("expected 0 bytes from an empty encrypted stream, got %d", n)
	}
	if err == nil {
		t.Errorf("expected EOF from an empty encrypted stream")
	}
}

package keywrap

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"

	"arcbank/device-core/internal/encoding"
	"arcbank/device-core/pkg/models"
)

func randomKey(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand failed: %v", err)
	}
	return b
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	private := randomKey(t, PlaintextSize)
	symmetric := randomKey(t, SymmetricKeySize)

	wrapped, err := Wrap(private, symmetric)
	if err != nil {
		t.Fatalf("wrap failed: %v", err)
	}
	if len(wrapped.InitializationVector) != NonceSize {
		t.Fatalf("nonce is %d bytes", len(wrapped.InitializationVector))
	}
	if len(wrapped.Ciphertext) != WrappedSize {
		t.Fatalf("ciphertext is %d bytes, want %d", len(wrapped.Ciphertext), WrappedSize)
	}

	recovered, err := Unwrap(wrapped, symmetric)
	if err != nil {
		t.Fatalf("unwrap failed: %v", err)
	}
	if !bytes.Equal(recovered, private) {
		t.Fatal("round trip mismatch")
	}
}

func TestWrapRejectsBadLengths(t *testing.T) {
	if _, err := Wrap(randomKey(t, 31), randomKey(t, SymmetricKeySize)); !errors.Is(err, ErrBadPlaintext) {
		t.Fatalf("expected ErrBadPlaintext, got %v", err)
	}
	if _, err := Wrap(randomKey(t, PlaintextSize), randomKey(t, 16)); !errors.Is(err, ErrBadSymmetricKey) {
		t.Fatalf("expected ErrBadSymmetricKey, got %v", err)
	}
}

func TestUnwrapRejectsWrongKey(t *testing.T) {
	wrapped, err := Wrap(randomKey(t, PlaintextSize), randomKey(t, SymmetricKeySize))
	if err != nil {
		t.Fatalf("wrap failed: %v", err)
	}
	if _, err := Unwrap(wrapped, randomKey(t, SymmetricKeySize)); !errors.Is(err, ErrUnwrapFailed) {
		t.Fatalf("expected ErrUnwrapFailed, got %v", err)
	}
}

func TestUnwrapRejectsCorruptBlob(t *testing.T) {
	symmetric := randomKey(t, SymmetricKeySize)
	wrapped, err := Wrap(randomKey(t, PlaintextSize), symmetric)
	if err != nil {
		t.Fatalf("wrap failed: %v", err)
	}

	truncated := models.WrappedKey{
		InitializationVector: wrapped.InitializationVector,
		Ciphertext:           wrapped.Ciphertext[:WrappedSize-1],
	}
	if _, err := Unwrap(truncated, symmetric); !errors.Is(err, ErrBadWrappedKey) {
		t.Fatalf("expected ErrBadWrappedKey, got %v", err)
	}

	shortNonce := models.WrappedKey{
		InitializationVector: wrapped.InitializationVector[:8],
		Ciphertext:           wrapped.Ciphertext,
	}
	if _, err := Unwrap(shortNonce, symmetric); !errors.Is(err, ErrBadWrappedKey) {
		t.Fatalf("expected ErrBadWrappedKey, got %v", err)
	}

	flipped := models.WrappedKey{
		InitializationVector: wrapped.InitializationVector,
		Ciphertext:           append([]byte(nil), wrapped.Ciphertext...),
	}
	flipped.Ciphertext[0] ^= 0x01
	if _, err := Unwrap(flipped, symmetric); !errors.Is(err, ErrUnwrapFailed) {
		t.Fatalf("expected ErrUnwrapFailed, got %v", err)
	}
}

func TestUnwrapHexEncodedLegacyPlaintext(t *testing.T) {
	private := randomKey(t, PlaintextSize)
	symmetric := randomKey(t, SymmetricKeySize)

	aead, err := newGCM(symmetric)
	if err != nil {
		t.Fatalf("gcm failed: %v", err)
	}
	nonce := randomKey(t, NonceSize)
	legacy := models.WrappedKey{
		InitializationVector: nonce,
		Ciphertext:           aead.Seal(nil, nonce, []byte(hex.EncodeToString(private)), nil),
	}

	recovered, err := Unwrap(legacy, symmetric)
	if err != nil {
		t.Fatalf("legacy unwrap failed: %v", err)
	}
	if !bytes.Equal(recovered, private) {
		t.Fatal("legacy hex plaintext should decode to the original key")
	}
}

func TestUnwrapRejectsNonHex64BytePlaintext(t *testing.T) {
	symmetric := randomKey(t, SymmetricKeySize)
	aead, err := newGCM(symmetric)
	if err != nil {
		t.Fatalf("gcm failed: %v", err)
	}
	nonce := randomKey(t, NonceSize)
	junk := bytes.Repeat([]byte{'z'}, 64)
	wrapped := models.WrappedKey{
		InitializationVector: nonce,
		Ciphertext:           aead.Seal(nil, nonce, junk, nil),
	}
	if _, err := Unwrap(wrapped, symmetric); !errors.Is(err, encoding.ErrWrongLength) {
		t.Fatalf("expected encoding.ErrWrongLength, got %v", err)
	}
}

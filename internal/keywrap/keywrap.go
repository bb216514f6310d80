// Package keywrap encrypts the 32-byte seed private key under the session
// symmetric key. AES-256-GCM with a fresh 12-byte nonce per wrap; the
// ciphertext carries the 16-byte tag, so a valid wrap is always exactly
// 48 bytes. Any other length at either boundary is treated as corruption.
package keywrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"arcbank/device-core/internal/encoding"
	"arcbank/device-core/pkg/models"
)

const (
	SymmetricKeySize = 32
	NonceSize        = 12
	PlaintextSize    = 32
	WrappedSize      = PlaintextSize + 16
)

var (
	ErrBadSymmetricKey = errors.New("symmetric key must be 32 bytes")
	ErrBadPlaintext    = errors.New("private key must be 32 bytes")
	ErrBadWrappedKey   = errors.New("wrapped key blob is malformed")
	ErrUnwrapFailed    = errors.New("wrapped key authentication failed")
)

// NewSymmetricKey generates the fresh 256-bit key minted during registration.
func NewSymmetricKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Wrap encrypts privateKey under symmetricKey with a fresh random nonce.
func Wrap(privateKey, symmetricKey []byte) (models.WrappedKey, error) {
	if len(symmetricKey) != SymmetricKeySize {
		return models.WrappedKey{}, ErrBadSymmetricKey
	}
	if len(privateKey) != PlaintextSize {
		return models.WrappedKey{}, ErrBadPlaintext
	}
	aead, err := newGCM(symmetricKey)
	if err != nil {
		return models.WrappedKey{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return models.WrappedKey{}, err
	}
	ciphertext := aead.Seal(nil, nonce, privateKey, nil)
	if len(ciphertext) != WrappedSize {
		// Would indicate a broken AEAD, not bad input. Fatal either way.
		return models.WrappedKey{}, fmt.Errorf("%w: sealed %d bytes, want %d", ErrBadWrappedKey, len(ciphertext), WrappedSize)
	}
	return models.WrappedKey{
		InitializationVector: nonce,
		Ciphertext:           ciphertext,
	}, nil
}

// Unwrap decrypts a stored blob and returns the 32-byte private key.
//
// Legacy clients wrapped the hex encoding of the key instead of the raw
// bytes, which decrypts to exactly 64 bytes; that case is decoded in place.
// Every other plaintext length is fatal.
func Unwrap(wrapped models.WrappedKey, symmetricKey []byte) ([]byte, error) {
	if len(symmetricKey) != SymmetricKeySize {
		return nil, ErrBadSymmetricKey
	}
	if len(wrapped.InitializationVector) != NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes, want %d", ErrBadWrappedKey, len(wrapped.InitializationVector), NonceSize)
	}
	if len(wrapped.Ciphertext) != WrappedSize && len(wrapped.Ciphertext) != WrappedSize+PlaintextSize {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrBadWrappedKey, len(wrapped.Ciphertext))
	}
	aead, err := newGCM(symmetricKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, wrapped.InitializationVector, wrapped.Ciphertext, nil)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	switch len(plaintext) {
	case PlaintextSize:
		return plaintext, nil
	case 2 * PlaintextSize:
		decoded, err := hex.DecodeString(string(plaintext))
		if err != nil || len(decoded) != PlaintextSize {
			return nil, fmt.Errorf("%w: 64-byte plaintext is not hex", encoding.ErrWrongLength)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: decrypted key is %d bytes", encoding.ErrWrongLength, len(plaintext))
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

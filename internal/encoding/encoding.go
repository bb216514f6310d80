// Package encoding holds the byte/hex/base64url conversion helpers used at
// every cryptographic boundary. All functions fail closed: malformed input or
// an unexpected length returns a typed error, never partial data.
package encoding

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidHex    = errors.New("invalid hex string")
	ErrInvalidBase64 = errors.New("invalid base64url string")
	ErrWrongLength   = errors.New("unexpected buffer length")
)

func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

func HexToBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}

// HexToFixedBytes decodes s and enforces an exact decoded length.
func HexToFixedBytes(s string, length int) ([]byte, error) {
	b, err := HexToBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) != length {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongLength, len(b), length)
	}
	return b, nil
}

func BytesToBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func Base64URLToBytes(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		// Accept padded input from backends that emit standard padding.
		if padded, perr := base64.URLEncoding.DecodeString(s); perr == nil {
			return padded, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return b, nil
}

// CheckLength guards fixed-size key material. name is included in the error
// so ceremony logs identify which boundary failed.
func CheckLength(name string, b []byte, length int) error {
	if len(b) != length {
		return fmt.Errorf("%w: %s is %d bytes, want %d", ErrWrongLength, name, len(b), length)
	}
	return nil
}

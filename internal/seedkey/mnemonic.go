// Package seedkey implements the recovery credential: bip39 mnemonic
// generation and validation, deterministic key derivation, and the
// confirmation word selection used during registration.
//
// The phrase only ever lives in memory. Callers wrap the derived private key
// immediately and drop the mnemonic after the confirmation step.
package seedkey

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sort"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
	ErrWordMismatch     = errors.New("confirmation word mismatch")
	ErrBadIndices       = errors.New("confirmation indices are invalid")
)

// NewMnemonic generates a fresh 12-word phrase (128 bits of entropy plus the
// wordlist checksum).
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic checks wordlist membership and the embedded checksum.
func ValidateMnemonic(mnemonic string) bool {
	mnemonic = normalizeMnemonic(mnemonic)
	if mnemonic == "" {
		return false
	}
	if len(strings.Fields(mnemonic)) != MnemonicWordCount {
		return false
	}
	return bip39.IsMnemonicValid(mnemonic)
}

// RandomWordIndices picks the positions the user must re-enter: exactly three
// distinct indices in [0, 12), sorted ascending, from crypto/rand.
func RandomWordIndices() ([]int, error) {
	picked := make(map[int]struct{}, ConfirmWordCount)
	for len(picked) < ConfirmWordCount {
		n, err := rand.Int(rand.Reader, big.NewInt(MnemonicWordCount))
		if err != nil {
			return nil, err
		}
		picked[int(n.Int64())] = struct{}{}
	}
	out := make([]int, 0, ConfirmWordCount)
	for i := range picked {
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

// ConfirmWords verifies the user-entered words against the mnemonic at the
// given positions, case-insensitive. The mnemonic itself is never mutated:
// a failed confirmation returns the user to the display step with the same
// phrase.
func ConfirmWords(mnemonic string, indices []int, entered []string) error {
	mnemonic = normalizeMnemonic(mnemonic)
	words := strings.Fields(mnemonic)
	if len(words) != MnemonicWordCount {
		return ErrInvalidMnemonic
	}
	if len(indices) != ConfirmWordCount || len(entered) != ConfirmWordCount {
		return ErrBadIndices
	}
	seen := make(map[int]struct{}, ConfirmWordCount)
	for i, idx := range indices {
		if idx < 0 || idx >= MnemonicWordCount {
			return ErrBadIndices
		}
		if _, dup := seen[idx]; dup {
			return ErrBadIndices
		}
		seen[idx] = struct{}{}
		if !strings.EqualFold(words[idx], strings.TrimSpace(entered[i])) {
			return ErrWordMismatch
		}
	}
	return nil
}

func normalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(mnemonic))), " ")
}

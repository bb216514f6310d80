package seedkey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoAccount = "arcbank/seedkey/account/v1"

var ErrDeriveFailed = errors.New("seed key derivation failed")

// DeriveKeys maps a validated mnemonic to its {userId, privateKey, publicKey}
// triple. Pure function of the phrase: no randomness, no state.
func DeriveKeys(mnemonic string) (*DerivedKeys, error) {
	mnemonic = normalizeMnemonic(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	userDigest := sha256.Sum256(seed)

	scalar, err := hkdfExpand(seed, hkdfInfoAccount, PrivateKeySize)
	if err != nil {
		return nil, err
	}
	priv := secp256k1.PrivKeyFromBytes(scalar)
	if priv.Key.IsZero() {
		return nil, ErrDeriveFailed
	}
	pub := priv.PubKey().SerializeCompressed()
	if len(pub) != PublicKeySize {
		return nil, fmt.Errorf("%w: compressed point is %d bytes", ErrDeriveFailed, len(pub))
	}

	return &DerivedKeys{
		UserID:     hex.EncodeToString(userDigest[:]),
		PrivateKey: priv.Serialize(),
		PublicKey:  pub,
	}, nil
}

// PublicKeyFromPrivate re-derives the compressed public point from a recovered
// 32-byte private key, used for the proof-of-possession step after unwrap.
func PublicKeyFromPrivate(privateKey []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes", ErrDeriveFailed, len(privateKey))
	}
	priv := secp256k1.PrivKeyFromBytes(privateKey)
	if priv.Key.IsZero() {
		return nil, ErrDeriveFailed
	}
	return priv.PubKey().SerializeCompressed(), nil
}

// BuildAccountAddress formats a short, human-shareable handle for the seed
// public key: blake2b digest, base58, fixed prefix.
func BuildAccountAddress(publicKey []byte) (string, error) {
	if len(publicKey) != PublicKeySize {
		return "", fmt.Errorf("%w: public key is %d bytes", ErrDeriveFailed, len(publicKey))
	}
	h := blake2b.Sum256(publicKey)
	return "arc1" + base58.Encode(h[:]), nil
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

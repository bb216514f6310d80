package seedkey

// DerivedKeys is the deterministic triple recovered from a mnemonic. Re-derive
// from the same phrase and you get byte-identical values.
type DerivedKeys struct {
	UserID     string // hex sha256 digest of the bip39 seed
	PrivateKey []byte // secp256k1 private scalar (32)
	PublicKey  []byte // compressed secp256k1 point (33)
}

const (
	MnemonicWordCount = 12
	ConfirmWordCount  = 3

	PrivateKeySize = 32
	PublicKeySize  = 33
)

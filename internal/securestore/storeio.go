package securestore

import (
	"os"
	"path/filepath"
)

// WriteEncryptedFile encrypts and writes payload atomically: the bytes land in
// a temp file in the same directory and are renamed over the target, so a
// crash mid-write never leaves a half-written store visible to the next open.
func WriteEncryptedFile(path, secret string, payload []byte) error {
	encrypted, err := Encrypt(secret, payload)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadEncryptedFile reads and decrypts the store file with the device secret.
func ReadEncryptedFile(path, secret string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decrypt(secret, raw)
}

package cryptox

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands a master secret into an independent subkey for the given
// label using HKDF-SHA256. Deployments that configure a single master secret
// get one derived signing key per token purpose; compromising a subkey does
// not reveal the master or any sibling.
func DeriveKey(master []byte, label string, size int) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("cryptox: empty master secret")
	}
	if size <= 0 {
		return nil, fmt.Errorf("cryptox: derived key size must be positive, got %d", size)
	}

	r := hkdf.New(sha256.New, master, nil, []byte(label))

	key := make([]byte, size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive key for %q: %w", label, err)
	}
	return key, nil
}

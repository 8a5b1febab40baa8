package cryptox

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// GenerateEd25519Key generates a new Ed25519 private key.
// Ed25519 keys are always 256 bits (32 bytes) and don't require a size parameter.
// Returns the private key in PEM format (PKCS8).
func GenerateEd25519Key() ([]byte, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate Ed25519 key: %w", err)
	}

	// Ed25519 keys are always marshaled as PKCS8
	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to marshal PKCS8 key: %w", err)
	}

	privateKeyPEM := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privateKeyBytes,
	}

	return pem.EncodeToMemory(privateKeyPEM), nil
}

// ParseEd25519PrivateKey loads an Ed25519 private key from PEM bytes.
// Ed25519 keys must be in PKCS8 format.
func ParseEd25519PrivateKey(pemKey []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("cryptox: invalid PEM for Ed25519 key")
	}

	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("cryptox: expected PRIVATE KEY, got %q (Ed25519 requires PKCS8)", block.Type)
	}

	// Parse PKCS8 private key
	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptox: parse PKCS8: %w", err)
	}

	// Make sure it's actually an Ed25519 key
	key, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("cryptox: not Ed25519 private key")
	}

	return key, nil
}

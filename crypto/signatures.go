package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// SigningKey derives the Ed25519 signing key from a wallet private key.
func SigningKey(privateKey string) (ed25519.PrivateKey, error) {
	seed, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid private key length: got %d want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Sign signs data using an Ed25519 private key.
func Sign(privateKey ed25519.PrivateKey, data []byte) ([]byte, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 private key length: got %d want %d", len(privateKey), ed25519.PrivateKeySize)
	}
	if len(data) == 0 {
		return nil, errors.New("data is required")
	}

	return ed25519.Sign(privateKey, data), nil
}

// Verify verifies an Ed25519 signature.
func Verify(publicKey ed25519.PublicKey, data, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(data) == 0 {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(publicKey, data, signature)
}

// HashAndSign returns the hex SHA-256 of data and its hex Ed25519 signature
// made with the wallet private key.
func HashAndSign(privateKey string, data []byte) (hash, sig string, err error) {
	key, err := SigningKey(privateKey)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(data)
	signature, err := Sign(key, sum[:])
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(sum[:]), hex.EncodeToString(signature), nil
}

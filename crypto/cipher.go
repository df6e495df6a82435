package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const messageKeySize = chacha20poly1305.KeySize

// ErrNoPeerKey indicates a private room without a usable counterpart key.
var ErrNoPeerKey = errors.New("crypto: no peer public key in room")

func deriveKey(secret []byte, salt, info string) ([]byte, error) {
	key := make([]byte, messageKeySize)
	reader := hkdf.New(sha256.New, secret, []byte(salt), []byte(info))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive message key: %w", err)
	}
	return key, nil
}

func sharedSecret(privateKey, peerPublicKey string) ([]byte, error) {
	seed, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(seed) != curve25519.ScalarSize {
		return nil, fmt.Errorf("invalid private key length: got %d want %d", len(seed), curve25519.ScalarSize)
	}
	peer, err := base64.StdEncoding.DecodeString(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode peer public key: %w", err)
	}
	if len(peer) != curve25519.PointSize {
		return nil, fmt.Errorf("invalid peer public key length: got %d want %d", len(peer), curve25519.PointSize)
	}

	secret, err := curve25519.X25519(seed, peer)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	return secret, nil
}

// seal encrypts plaintext and returns base64(nonce || ciphertext || tag).
func seal(key []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func unseal(key []byte, body string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", errors.New("ciphertext is too short")
	}

	plaintext, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt ciphertext: %w", err)
	}
	return string(plaintext), nil
}

func randomBase64(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decodeBase64(value string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(value)
}

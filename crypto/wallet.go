package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/curve25519"

	"roomsync/models"
)

const (
	walletSeedPEMType = "ROOMSYNC WALLET SEED"
	walletSeedSize    = curve25519.ScalarSize
)

// Wallet is the local identity used to scope every remote query.
//
// PublicKey and PrivateKey are base64 encodings of the X25519 public key and
// the 32-byte seed. The same seed also derives the Ed25519 signing key.
type Wallet struct {
	Address    string
	PublicKey  string
	PrivateKey string
}

// EnsureWallet loads the wallet seed from disk, generating it on first run.
func EnsureWallet(path string) (Wallet, error) {
	wallet, err := LoadWallet(path)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return Wallet{}, err
	}

	seed := make([]byte, walletSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return Wallet{}, fmt.Errorf("generate wallet seed: %w", err)
	}
	if err := SaveWalletSeed(path, seed); err != nil {
		return Wallet{}, err
	}

	return WalletFromSeed(seed)
}

// LoadWallet reads a wallet seed PEM file.
func LoadWallet(path string) (Wallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Wallet{}, fmt.Errorf("read wallet seed: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return Wallet{}, fmt.Errorf("decode wallet PEM: no PEM block")
	}
	if block.Type != walletSeedPEMType {
		return Wallet{}, fmt.Errorf("decode wallet PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != walletSeedSize {
		return Wallet{}, fmt.Errorf("decode wallet PEM: invalid seed size %d", len(block.Bytes))
	}

	return WalletFromSeed(block.Bytes)
}

// SaveWalletSeed writes the wallet seed PEM file with 0600 permissions.
func SaveWalletSeed(path string, seed []byte) error {
	if len(seed) != walletSeedSize {
		return fmt.Errorf("save wallet seed: invalid seed size %d", len(seed))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create wallet directory: %w", err)
	}

	block := &pem.Block{
		Type:  walletSeedPEMType,
		Bytes: seed,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write wallet seed: %w", err)
	}

	return nil
}

// WalletFromSeed derives the public key and address for a seed.
func WalletFromSeed(seed []byte) (Wallet, error) {
	if len(seed) != walletSeedSize {
		return Wallet{}, fmt.Errorf("invalid wallet seed length: got %d want %d", len(seed), walletSeedSize)
	}

	publicKey, err := curve25519.X25519(seed, curve25519.Basepoint)
	if err != nil {
		return Wallet{}, fmt.Errorf("derive wallet public key: %w", err)
	}

	return Wallet{
		Address:    AddressFromPublicKey(publicKey),
		PublicKey:  base64.StdEncoding.EncodeToString(publicKey),
		PrivateKey: base64.StdEncoding.EncodeToString(seed),
	}, nil
}

// AddressFromPublicKey returns the lower-case 0x-prefixed address of a key.
func AddressFromPublicKey(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

// Holder keeps the currently bound wallet. The zero value holds no wallet.
type Holder struct {
	mu     sync.RWMutex
	wallet *Wallet
}

// NewHolder returns a holder bound to wallet.
func NewHolder(wallet Wallet) *Holder {
	h := &Holder{}
	h.Set(wallet)
	return h
}

// Set binds wallet as the current identity.
func (h *Holder) Set(wallet Wallet) {
	wallet.Address = models.NormalizeAddress(wallet.Address)

	h.mu.Lock()
	h.wallet = &wallet
	h.mu.Unlock()
}

// Clear unbinds the current identity.
func (h *Holder) Clear() {
	h.mu.Lock()
	h.wallet = nil
	h.mu.Unlock()
}

// Current returns the bound wallet, if any.
func (h *Holder) Current() (Wallet, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.wallet == nil {
		return Wallet{}, false
	}
	return *h.wallet, true
}

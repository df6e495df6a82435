package crypto

import (
	"path/filepath"
	"regexp"
	"testing"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

func TestEnsureWalletIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "wallet.pem")

	first, err := EnsureWallet(path)
	if err != nil {
		t.Fatalf("first EnsureWallet failed: %v", err)
	}
	second, err := EnsureWallet(path)
	if err != nil {
		t.Fatalf("second EnsureWallet failed: %v", err)
	}

	if first != second {
		t.Fatalf("expected stable wallet across runs, got %+v then %+v", first, second)
	}
	if !addressPattern.MatchString(first.Address) {
		t.Fatalf("unexpected address format %q", first.Address)
	}
}

func TestHolderCurrent(t *testing.T) {
	var holder Holder
	if _, ok := holder.Current(); ok {
		t.Fatalf("expected empty holder")
	}

	holder.Set(Wallet{Address: "  0xABCDEF0000000000000000000000000000000000 "})
	wallet, ok := holder.Current()
	if !ok {
		t.Fatalf("expected bound wallet")
	}
	if wallet.Address != "0xabcdef0000000000000000000000000000000000" {
		t.Fatalf("expected normalized address, got %q", wallet.Address)
	}

	holder.Clear()
	if _, ok := holder.Current(); ok {
		t.Fatalf("expected cleared holder")
	}
}

package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func testSeedKey(fill byte) string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{fill}, ed25519.SeedSize))
}

func TestHashAndSignVerifiesWithWalletSigningKey(t *testing.T) {
	privateKey := testSeedKey(0x07)
	data := []byte(`{"roomId":"0x1111111111111111111111111111111111111111","body":"hi"}`)

	hash, sig, err := HashAndSign(privateKey, data)
	if err != nil {
		t.Fatalf("HashAndSign failed: %v", err)
	}

	sum := sha256.Sum256(data)
	if hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("expected hash to be hex sha256 of data, got %q", hash)
	}

	signingKey, err := SigningKey(privateKey)
	if err != nil {
		t.Fatalf("SigningKey failed: %v", err)
	}
	signature, err := hex.DecodeString(sig)
	if err != nil {
		t.Fatalf("decode sig: %v", err)
	}
	publicKey := signingKey.Public().(ed25519.PublicKey)
	if !Verify(publicKey, sum[:], signature) {
		t.Fatalf("expected signature over the hash to verify")
	}

	again, _, err := HashAndSign(privateKey, data)
	if err != nil {
		t.Fatalf("second HashAndSign failed: %v", err)
	}
	if again != hash {
		t.Fatalf("expected stable hash, got %q then %q", hash, again)
	}
}

func TestSignatureRejectedForOtherDataOrKey(t *testing.T) {
	privateKey := testSeedKey(0x07)
	_, sig, err := HashAndSign(privateKey, []byte("message to protect"))
	if err != nil {
		t.Fatalf("HashAndSign failed: %v", err)
	}
	signature, err := hex.DecodeString(sig)
	if err != nil {
		t.Fatalf("decode sig: %v", err)
	}

	signingKey, err := SigningKey(privateKey)
	if err != nil {
		t.Fatalf("SigningKey failed: %v", err)
	}
	tampered := sha256.Sum256([]byte("message to protect!"))
	if Verify(signingKey.Public().(ed25519.PublicKey), tampered[:], signature) {
		t.Fatalf("expected verification to fail for tampered data")
	}

	otherKey, err := SigningKey(testSeedKey(0x08))
	if err != nil {
		t.Fatalf("SigningKey failed: %v", err)
	}
	original := sha256.Sum256([]byte("message to protect"))
	if Verify(otherKey.Public().(ed25519.PublicKey), original[:], signature) {
		t.Fatalf("expected verification to fail for another wallet")
	}
}

func TestSigningKeyRejectsMalformedKeys(t *testing.T) {
	if _, err := SigningKey("not base64!"); err == nil {
		t.Fatalf("expected invalid base64 to fail")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := SigningKey(short); err == nil {
		t.Fatalf("expected short seed to fail")
	}
	if _, _, err := HashAndSign(short, []byte("data")); err == nil {
		t.Fatalf("expected HashAndSign with short seed to fail")
	}
	if _, err := Sign(ed25519.PrivateKey("short"), []byte("data")); err == nil {
		t.Fatalf("expected Sign with short key to fail")
	}
}

package hasher_test

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/mobibase/mobibase/adapters/hasher"
)

func TestBcrypt_NewBcrypt_InvalidCost(t *testing.T) {
	// Out-of-range costs fall back to the default; the hasher must still work.
	for _, cost := range []int{-1, 1, 100} {
		h := hasher.NewBcrypt(cost)
		hash, err := h.Hash("pw")
		if err != nil {
			t.Fatalf("cost %d: Hash failed: %v", cost, err)
		}
		if !h.Compare(hash, "pw") {
			t.Errorf("cost %d: round trip failed", cost)
		}
	}
}

func TestBcrypt_Hash(t *testing.T) {
	h := hasher.NewBcrypt(bcrypt.MinCost)

	hash, err := h.Hash("password123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if len(hash) == 0 || hash[0] != '$' {
		t.Errorf("expected bcrypt format, got %q", hash)
	}
}

func TestBcrypt_Hash_SaltVaries(t *testing.T) {
	h := hasher.NewBcrypt(bcrypt.MinCost)

	hash1, _ := h.Hash("password")
	hash2, _ := h.Hash("password")

	if string(hash1) == string(hash2) {
		t.Error("same password should produce different hashes due to salt")
	}
}

func TestBcrypt_Compare(t *testing.T) {
	h := hasher.NewBcrypt(bcrypt.MinCost)
	hash, _ := h.Hash("mySecretPassword")

	if !h.Compare(hash, "mySecretPassword") {
		t.Error("Compare should accept the matching password")
	}
	if h.Compare(hash, "wrongPassword") {
		t.Error("Compare should reject a wrong password")
	}
	if h.Compare([]byte("not-a-hash"), "mySecretPassword") {
		t.Error("Compare should reject an invalid hash")
	}
	if h.Compare([]byte{}, "mySecretPassword") {
		t.Error("Compare should reject an empty hash")
	}
}

func TestFake_RoundTrip(t *testing.T) {
	h := hasher.Fake{}

	hash, err := h.Hash("plaintext")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if string(hash) != "hashed:plaintext" {
		t.Errorf("Fake hash = %q, want marked plaintext", hash)
	}
	if !h.Compare(hash, "plaintext") {
		t.Error("Fake Compare should accept the original value")
	}
	if h.Compare(hash, "other") {
		t.Error("Fake Compare should reject a different value")
	}
}

package crypto

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCompare(t *testing.T) {
	hash, err := HashPassword("secret1", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(hash) == "secret1" {
		t.Fatalf("hash must not equal plaintext")
	}
	ok, err := ComparePassword(hash, "secret1")
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = ComparePassword(hash, "secret2")
	if err != nil || ok {
		t.Fatalf("expected mismatch without error, got ok=%v err=%v", ok, err)
	}
}

func TestHashIsSalted(t *testing.T) {
	a, _ := HashPassword("same", bcrypt.MinCost)
	b, _ := HashPassword("same", bcrypt.MinCost)
	if string(a) == string(b) {
		t.Fatalf("expected distinct salts")
	}
}

func TestCompareMalformedHash(t *testing.T) {
	_, err := ComparePassword([]byte("not-a-bcrypt-hash"), "secret1")
	if !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
}

func TestHashPasswordClampsCost(t *testing.T) {
	hash, err := HashPassword("x", 99)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cost, err := bcrypt.Cost(hash)
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if cost != DefaultCost {
		t.Fatalf("expected default cost %d, got %d", DefaultCost, cost)
	}
}

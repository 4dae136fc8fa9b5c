package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 12

// ErrMalformedHash reports a stored hash bcrypt cannot interpret.
var ErrMalformedHash = errors.New("crypto: malformed password hash")

// HashPassword hashes plaintext using bcrypt at the given cost.
// Costs outside bcrypt's accepted range fall back to DefaultCost.
func HashPassword(plain string, cost int) ([]byte, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// ComparePassword reports whether plain matches hash. A mismatch is not an
// error; a hash that cannot be parsed is.
func ComparePassword(hash []byte, plain string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

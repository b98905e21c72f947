// Package hasher provides password hashing implementations.
package hasher

import (
	"github.com/mobibase/mobibase/ports"
	"golang.org/x/crypto/bcrypt"
)

// Bcrypt hashes passwords with bcrypt. Password-history entries are
// compared with the same hasher.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher with the given cost. Out-of-range
// costs fall back to bcrypt.DefaultCost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// Hash generates a bcrypt hash from plaintext.
func (h *Bcrypt) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Compare checks if plaintext matches hash.
func (h *Bcrypt) Compare(hash []byte, plaintext string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// Ensure interface compliance.
var _ ports.Hasher = (*Bcrypt)(nil)

// Fake provides a no-op hasher for testing (NOT FOR PRODUCTION). Hashes
// are the plaintext prefixed with "hashed:" so tests can assert on them.
type Fake struct{}

// Hash returns a marked copy of the plaintext (no actual hashing).
func (Fake) Hash(plaintext string) ([]byte, error) {
	return []byte("hashed:" + plaintext), nil
}

// Compare does simple equality against the marked form.
func (Fake) Compare(hash []byte, plaintext string) bool {
	return string(hash) == "hashed:"+plaintext
}

// Ensure interface compliance.
var _ ports.Hasher = Fake{}

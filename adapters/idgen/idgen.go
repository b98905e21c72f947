// Package idgen provides ID generation implementations.
package idgen

import (
	"crypto/rand"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mobibase/mobibase/ports"
)

const objectIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ObjectID generates the 10-character alphanumeric identifiers assigned
// to persisted objects.
type ObjectID struct{}

// New generates a new object id.
func (ObjectID) New() string {
	return randomString(10)
}

// Ensure interface compliance.
var _ ports.IDGenerator = ObjectID{}

// UUID generates UUIDs, used for installation ids and request tracing.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.New().String()
}

// Ensure interface compliance.
var _ ports.IDGenerator = UUID{}

// RandomString generates n characters from the object-id alphabet. Also
// used for generated usernames.
func RandomString(n int) string {
	return randomString(n)
}

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed")
	}
	for i, c := range b {
		b[i] = objectIDAlphabet[int(c)%len(objectIDAlphabet)]
	}
	return string(b)
}

// Sequential generates sequential IDs (for testing).
type Sequential struct {
	prefix  string
	counter uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	n := atomic.AddUint64(&s.counter, 1)
	return s.prefix + uitoa(n)
}

// Reset resets the counter (for testing).
func (s *Sequential) Reset() {
	atomic.StoreUint64(&s.counter, 0)
}

func uitoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Ensure interface compliance.
var _ ports.IDGenerator = (*Sequential)(nil)

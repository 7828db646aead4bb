// Package sha256 provides SHA-256 hashing for artifact keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher satisfies artifacts.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Package sha256 derives stable hex digests used as storage keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher produces SHA-256 hex digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key digests parts joined by NUL, so ("ab", "c") and ("a", "bc") differ.
func (h Hasher) Key(parts ...string) string {
	return h.Hash([]byte(strings.Join(parts, "\x00")))
}

// Package sha256 names archived widget documents by content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Hasher implements widget.Hasher. Digests are hex encoded and cut to the
// configured length.
type Hasher struct {
	length int
}

// New returns a Hasher keeping length hex digits. Zero or anything above 64
// keeps the full digest.
func New(length int) *Hasher {
	if length <= 0 || length > hex.EncodedLen(sha256.Size) {
		length = hex.EncodedLen(sha256.Size)
	}
	return &Hasher{length: length}
}

// Hash digests data. Empty documents are rejected since they never get archived.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("hash empty document")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:h.length], nil
}

package service

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash is the dedup fingerprint of a blob: lowercase hex SHA-256.
// A nil or empty blob hashes like any other zero-length input.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

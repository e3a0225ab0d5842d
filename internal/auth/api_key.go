package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// APIKeyHeader carries the shared gateway key
const APIKeyHeader = "X-API-Key"

// HashAPIKey returns the hex SHA-256 of a key. Keys are compared by hash so
// the comparison runs over equal-length inputs.
func HashAPIKey(plainKey string) string {
	sum := sha256.Sum256([]byte(plainKey))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeHashCompare compares two hashes in constant time to prevent
// timing attacks
func ConstantTimeHashCompare(hash1, hash2 string) bool {
	return subtle.ConstantTimeCompare([]byte(hash1), []byte(hash2)) == 1
}

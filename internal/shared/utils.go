// Package shared holds small helpers used by both binaries.
package shared

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomHex returns 2*size hex characters drawn from crypto/rand.
func RandomHex(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

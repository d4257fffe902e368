package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// TokenBytes is the amount of randomness behind a token (128 bits).
	TokenBytes = 16

	// TokenLength is the length of the hex-encoded token.
	TokenLength = TokenBytes * 2
)

// NewToken returns a fresh lowercase hex token from crypto/rand.
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidToken reports whether s has the exact shape of an issued token.
// It touches neither the token store nor the filesystem.
func ValidToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

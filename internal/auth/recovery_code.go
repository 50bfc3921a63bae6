package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateRecoveryCode returns a random URL-safe one-time code for password
// reset links.
func GenerateRecoveryCode() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate recovery code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRecoveryCode returns the SHA-256 hex digest stored in place of the code.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

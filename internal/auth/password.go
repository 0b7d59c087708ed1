// Package auth hashes user passwords with PBKDF2-SHA256.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor
	Iterations = 100000
	saltLength = 16
	keyLength  = 64
	// MinPasswordLength is the shortest accepted password
	MinPasswordLength = 8
)

// HashPassword derives a hash from password with a fresh random salt.
// Both are returned hex encoded.
func HashPassword(password string) (hash, salt string, err error) {
	raw := make([]byte, saltLength)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return derive(password, raw), hex.EncodeToString(raw), nil
}

// VerifyPassword compares password with a stored hash and salt
func VerifyPassword(password, hash, salt string) bool {
	raw, err := hex.DecodeString(salt)
	if err != nil || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derive(password, raw)), []byte(hash)) == 1
}

// ValidatePassword checks if password meets requirements
func ValidatePassword(password string) bool {
	return len(password) >= MinPasswordLength
}

func derive(password string, salt []byte) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(password), salt, Iterations, keyLength, sha256.New))
}

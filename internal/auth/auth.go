// Package auth handles the operator API key.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const keyCost = 12

// ErrInvalidKey is returned when a key does not match the stored hash.
var ErrInvalidKey = errors.New("invalid api key")

// HashKey hashes a plaintext operator key using bcrypt.
func HashKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("hash key: empty key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), keyCost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(hash), nil
}

// CheckKey compares a plaintext key against a bcrypt hash.
func CheckKey(key, hash string) error {
	if key == "" || hash == "" {
		return ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// GenerateKey produces a random operator key (32 bytes, base64url-encoded,
// 43 characters) prefixed so it is recognizable in config and logs.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return "nr_" + base64.RawURLEncoding.EncodeToString(b), nil
}

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ParseKey decodes a base64 32-byte key.
func ParseKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// DeriveKey stretches a host-bound secret (such as the machine id) into an
// AES-256 key. It only protects against casual reads of the credentials file
// copied to another host.
func DeriveKey(secret, salt string) []byte {
	sum := sha256.Sum256([]byte(salt + ":" + secret))
	return sum[:]
}

// GenerateKey generates a new random 32-byte key, base64-encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

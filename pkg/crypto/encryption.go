// Package crypto seals exchange secrets at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required size for AES-256 keys (32 bytes)
	KeySize = 32
	// NonceSize is the size of GCM nonce (12 bytes)
	NonceSize = 12
	// VersionPrefix is the prefix for encrypted data
	VersionPrefix = "ENC[v%d]:"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor handles AES-256-GCM encryption and decryption.
type Encryptor struct {
	aead    cipher.AEAD
	version int
}

// NewEncryptor creates a new Encryptor with the given 32-byte key.
func NewEncryptor(key []byte, version int) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Encryptor{aead: aead, version: version}, nil
}

// Encrypt returns ENC[vN]:base64(nonce+ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf(VersionPrefix, e.version) + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if !IsEncrypted(ciphertext) {
		return "", ErrInvalidCiphertext
	}
	idx := strings.Index(ciphertext, "]:")
	if idx == -1 {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext[idx+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := e.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Version returns the key version stamped on ciphertexts.
func (e *Encryptor) Version() int {
	return e.version
}

// IsEncrypted reports whether s carries the ENC[v prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, "ENC[v")
}

// ParseVersion extracts the version number from an encrypted string.
// Returns 0 if the format is invalid.
func ParseVersion(ciphertext string) int {
	if !IsEncrypted(ciphertext) {
		return 0
	}
	var version int
	if _, err := fmt.Sscanf(ciphertext, "ENC[v%d]:", &version); err != nil {
		return 0
	}
	return version
}

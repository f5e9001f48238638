package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	encryptionKeyEnv = "ENCRYPTION_KEY"
	encryptionKeyLen = 32
)

var (
	// ErrEncryptionKeyMissing and ErrEncryptionKeyInvalid are configuration
	// errors. They surface on the first Encrypt/Decrypt call, never at import.
	ErrEncryptionKeyMissing = errors.New("ENCRYPTION_KEY environment variable is not set")
	ErrEncryptionKeyInvalid = errors.New("ENCRYPTION_KEY must be exactly 32 bytes (or 64 hex characters)")

	// ErrCiphertextIntegrity is returned for tampered, truncated or
	// malformed ciphertext.
	ErrCiphertextIntegrity = errors.New("ciphertext failed integrity check")
)

var (
	keyMu         sync.RWMutex
	encryptionKey []byte
)

// ParseEncryptionKey accepts either 32 raw bytes or their 64-char hex form.
func ParseEncryptionKey(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEncryptionKeyMissing
	}
	if len(key) == encryptionKeyLen*2 {
		if decoded, err := hex.DecodeString(key); err == nil {
			return decoded, nil
		}
	}
	if len(key) != encryptionKeyLen {
		return nil, ErrEncryptionKeyInvalid
	}
	return []byte(key), nil
}

// LoadEncryptionKey returns the active key, reading ENCRYPTION_KEY on first use.
func LoadEncryptionKey() ([]byte, error) {
	keyMu.RLock()
	key := encryptionKey
	keyMu.RUnlock()
	if key != nil {
		return key, nil
	}

	parsed, err := ParseEncryptionKey(os.Getenv(encryptionKeyEnv))
	if err != nil {
		return nil, err
	}
	keyMu.Lock()
	encryptionKey = parsed
	keyMu.Unlock()
	return parsed, nil
}

func newGCM() (cipher.AEAD, error) {
	key, err := LoadEncryptionKey()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM. The result is hex(nonce || ciphertext || tag).
func Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

func Decrypt(encryptedText string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	ciphertext, err := hex.DecodeString(encryptedText)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextIntegrity, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize+gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCiphertextIntegrity)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextIntegrity, err)
	}

	return string(plaintext), nil
}

// SetEncryptionKey overrides the key read from the environment.
func SetEncryptionKey(key string) error {
	parsed, err := ParseEncryptionKey(key)
	if err != nil {
		return err
	}
	keyMu.Lock()
	encryptionKey = parsed
	keyMu.Unlock()
	return nil
}

// ResetEncryptionKey forgets any cached key so the next call re-reads the environment.
func ResetEncryptionKey() {
	keyMu.Lock()
	encryptionKey = nil
	keyMu.Unlock()
}

// GenerateEncryptionKey returns a fresh random key in hex form.
func GenerateEncryptionKey() (string, error) {
	key := make([]byte, encryptionKeyLen)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

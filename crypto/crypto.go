// Package crypto seals OAuth tokens before they are written to the key-value store.
// Sealed values are AES-256-GCM ciphertext, base64 encoded, carrying a version prefix
// so plaintext records written by older deployments can still be told apart.
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

// sealedPrefix marks a value produced by AESSealer.
const sealedPrefix = "gcm1:"

// ErrNotSealed is returned by Open when the value carries no sealed prefix.
var ErrNotSealed = errors.New("crypto: value is not sealed")

// Sealer turns secrets into opaque strings safe to persist and back.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// AESSealer implements Sealer using AES-256-GCM.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer creates a sealer from a base64-encoded 32-byte key.
// Generate one with:
//
//	openssl rand -base64 32
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESSealer{aead: gcm}, nil
}

// Seal encrypts plaintext as prefix || base64(nonce || ciphertext || tag).
// The empty string seals to itself so optional fields stay empty.
func (s *AESSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered or truncated input fails authentication.
func (s *AESSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !IsSealed(sealed) {
		return "", ErrNotSealed
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", ns, len(raw))
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		// Don't expose internal error details that might leak information
		return "", fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}

// IsSealed reports whether v looks like output of Seal.
func IsSealed(v string) bool { return strings.HasPrefix(v, sealedPrefix) }

// Plaintext is a pass-through Sealer used when no key is configured.
type Plaintext struct{}

func (Plaintext) Seal(p string) (string, error) { return p, nil }

func (Plaintext) Open(s string) (string, error) {
	if IsSealed(s) {
		return "", fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
	}
	return s, nil
}

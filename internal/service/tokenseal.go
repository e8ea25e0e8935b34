package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const tokenSealContext = "geostory-credential-token"

var (
	ErrSealKeyTooShort = errors.New("token encryption key must be at least 16 bytes")
	ErrUnsealFailed    = errors.New("unseal token failed")
)

// TokenSealer encrypts bearer tokens at rest with AES-GCM under a key derived
// by HKDF-SHA256. A nil sealer passes tokens through unchanged.
type TokenSealer struct {
	aead cipher.AEAD
}

// NewTokenSealer builds a sealer from a base64 master key. An empty key
// disables sealing and returns a nil sealer.
func NewTokenSealer(masterKey string) (*TokenSealer, error) {
	if masterKey == "" {
		return nil, nil
	}
	secret, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("decode token encryption key: %w", err)
	}
	if len(secret) < 16 {
		return nil, ErrSealKeyTooShort
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(tokenSealContext)), key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &TokenSealer{aead: aead}, nil
}

// Enabled reports whether tokens are actually encrypted.
func (s *TokenSealer) Enabled() bool {
	return s != nil && s.aead != nil
}

// Seal encrypts token with a random nonce prepended and returns base64.
func (s *TokenSealer) Seal(token string) (string, error) {
	if !s.Enabled() || token == "" {
		return token, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(s.aead.Seal(nonce, nonce, []byte(token), nil)), nil
}

// Unseal reverses Seal.
func (s *TokenSealer) Unseal(sealed string) (string, error) {
	if !s.Enabled() || sealed == "" {
		return sealed, nil
	}
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrUnsealFailed)
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	return string(plain), nil
}

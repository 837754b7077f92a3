package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	sealedPrefix = "enc:"
	keySize      = 32
	maskPrefix   = "****"
)

var ErrUnsealFailed = errors.New("secret could not be decrypted")

// SecretKey seals provider secrets for storage with AES-256-GCM. Every value
// is bound to the settings field it belongs to, so a sealed value copied into
// another field fails to open.
type SecretKey struct {
	aead cipher.AEAD
}

// NewSecretKey derives the key from passphrase when one is given. Otherwise it
// loads the key file at keyPath, creating one with mode 0600 on first run.
func NewSecretKey(passphrase, keyPath string) (*SecretKey, error) {
	var key []byte
	if passphrase != "" {
		sum := sha256.Sum256([]byte(passphrase))
		key = sum[:]
	} else {
		var err error
		if key, err = loadOrCreateKey(keyPath); err != nil {
			return nil, err
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &SecretKey{aead: aead}, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("secret key path is required without a passphrase")
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(data) >= keySize:
		return data[:keySize], nil
	case err == nil:
		return nil, fmt.Errorf("secret key file %s is too short", path)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read secret key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write secret key: %w", err)
	}
	return key, nil
}

// Seal encrypts value for field as "enc:" + base64(nonce || ciphertext).
// An empty value stays empty.
func (s *SecretKey) Seal(field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(field))
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values stored before encryption was enabled have no
// "enc:" prefix and are returned as is.
func (s *SecretKey) Open(field, stored string) (string, error) {
	raw, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return stored, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("%w: ciphertext too short", ErrUnsealFailed)
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], []byte(field))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	return string(plain), nil
}

// MaskSecret hides all but the last four characters: "****abcd".
func MaskSecret(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 4:
		return maskPrefix
	default:
		return maskPrefix + secret[len(secret)-4:]
	}
}

func isMasked(s string) bool {
	return strings.HasPrefix(s, maskPrefix)
}

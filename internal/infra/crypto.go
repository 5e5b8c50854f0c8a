package infra

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

var ErrMissingEncryptionKey = errors.New("pii encryption key is not configured")

// CryptoManager encrypts member PII with AES-256-GCM. The key is derived from
// the process-wide secret with HKDF-SHA256; the field name is bound as
// additional data so a document ciphertext cannot be replayed as a phone.
type CryptoManager struct {
	aead cipher.AEAD
}

func NewCryptoManager(secret string) (*CryptoManager, error) {
	if secret == "" {
		return nil, ErrMissingEncryptionKey
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("clubpay/pii/v1")), key); err != nil {
		return nil, fmt.Errorf("derive pii key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &CryptoManager{aead: gcm}, nil
}

// EncryptField returns base64(nonce || ciphertext).
func (c *CryptoManager) EncryptField(field, plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(field))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField reverses EncryptField. An empty ciphertext decrypts to "".
func (c *CryptoManager) DecryptField(field, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", field, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("decrypt %s: ciphertext too short", field)
	}
	plain, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(field))
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", field, err)
	}
	return string(plain), nil
}

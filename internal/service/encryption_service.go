package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// payloadVersion prefixes every ciphertext so the key can be rotated later.
const payloadVersion = "v1:"

// PayloadCipher implements ports.EncryptionService for delivered fulfillment
// payloads (codes, credentials) using AES-256-GCM.
type PayloadCipher struct {
	aead cipher.AEAD
}

// NewPayloadCipher builds the cipher from a 64-character hex key (32 bytes).
func NewPayloadCipher(hexKey string) (*PayloadCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding payload key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("payload key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &PayloadCipher{aead: aead}, nil
}

// Encrypt returns "v1:" + base64(nonce || ciphertext).
func (c *PayloadCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return payloadVersion + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *PayloadCipher) Decrypt(ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(ciphertext, payloadVersion)
	if !ok {
		return "", errors.New("unknown payload version")
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding payload: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", errors.New("payload too short")
	}

	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypting payload: %w", err)
	}
	return string(plaintext), nil
}

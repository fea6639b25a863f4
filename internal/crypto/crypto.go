// internal/crypto/crypto.go

// Package crypto encrypts secrets at rest in the connection store.
// Passwords and key passphrases are sealed with AES-256-GCM under a key
// derived from the store passphrase; the nonce is prepended to the
// ciphertext and the whole blob is hex-encoded for JSON storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Cipher seals and opens secrets with a fixed 32-byte key.
type Cipher struct {
	key [32]byte
}

// NewCipher derives an AES-256 key from the store passphrase.
func NewCipher(passphrase string) *Cipher {
	return &Cipher{key: sha256.Sum256([]byte(passphrase))}
}

// Encrypt seals plaintext and returns hex(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	aesGCM, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %v", err)
	}

	sealed := aesGCM.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Cipher) Decrypt(encryptedHex string) (string, error) {
	blob, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %v", err)
	}

	aesGCM, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(blob) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := aesGCM.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %v", err)
	}
	return string(plaintext), nil
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}
	return aesGCM, nil
}

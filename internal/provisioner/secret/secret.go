// Package secret encrypts tenant database credentials at rest with
// AES-256-GCM.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const prefix = "enc:"

var (
	ErrBadKey        = errors.New("credential key must be 32 bytes of hex")
	ErrBadCiphertext = errors.New("malformed encrypted credential")
)

// Cipher seals and opens credential strings. A zero-value Cipher with
// no key passes values through unchanged, which keeps local
// development working without key material.
type Cipher struct {
	key []byte
}

// NewCipher parses a 64-character hex key. An empty key yields a
// passthrough cipher.
func NewCipher(hexKey string) (*Cipher, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return &Cipher{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 32 {
		return nil, ErrBadKey
	}
	return &Cipher{key: key}, nil
}

// Enabled reports whether values are actually encrypted.
func (c *Cipher) Enabled() bool { return len(c.key) == 32 }

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return value, nil
	}
	if !c.Enabled() {
		return "", ErrBadKey
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", ErrBadCiphertext
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", ErrBadCiphertext
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrBadCiphertext
	}
	return string(plaintext), nil
}

package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Cipher encrypts the persisted session payload with AES-256-GCM.
// Fallback keys let operators rotate the active key without losing
// sessions written under an old one.
type Cipher struct {
	active    cipher.AEAD
	fallbacks []cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte active key plus optional
// fallback keys used only for decryption.
func NewCipher(activeKey []byte, fallbackKeys ...[]byte) (*Cipher, error) {
	active, err := newAEAD(activeKey)
	if err != nil {
		return nil, fmt.Errorf("active key: %w", err)
	}
	c := &Cipher{active: active}
	for i, key := range fallbackKeys {
		aead, err := newAEAD(key)
		if err != nil {
			return nil, fmt.Errorf("fallback key %d: %w", i, err)
		}
		c.fallbacks = append(c.fallbacks, aead)
	}
	return c, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (AES-256), got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under the active key. The random nonce is
// prepended to the ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.active.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.active.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data with the active key, then with each fallback key
// in order. It fails only when no configured key matches.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	keys := append([]cipher.AEAD{c.active}, c.fallbacks...)
	for _, aead := range keys {
		if len(data) < aead.NonceSize() {
			continue
		}
		nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
		plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, errors.New("payload does not decrypt with any configured key")
}

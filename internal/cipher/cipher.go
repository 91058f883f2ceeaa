// Package cipher provides the authenticated self-encryption used for note
// content: every note body is encrypted to the local identity before it is
// stored or published, so relays only ever see ciphertext.
//
// The scheme derives a conversation key from the identity seed with
// HKDF-SHA256 and seals plaintext with XChaCha20-Poly1305. A random nonce is
// prepended to the ciphertext and the whole payload is base64-encoded for
// the event content field.
package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo domain-separates the conversation key derivation.
const hkdfInfo = "dialog-self-v1"

// ErrDecrypt indicates content that cannot be decrypted with the local
// identity. Such events are not notes authored by this identity's
// self-encryption scheme and are silently skipped by callers.
var ErrDecrypt = errors.New("content not decryptable with local identity")

// Cipher encrypts and decrypts note content for a single identity.
type Cipher struct {
	key []byte
}

// New derives the conversation key from the identity seed.
func New(seed []byte) (*Cipher, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("seed is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, seed, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive conversation key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64(nonce || ciphertext) produced by Encrypt.
//
// Any malformed or foreign payload returns ErrDecrypt; callers treat this as
// "not one of ours", never as a user-facing failure.
func (c *Cipher) Decrypt(content string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", ErrDecrypt
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrDecrypt
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

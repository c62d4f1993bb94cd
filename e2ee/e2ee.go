// Package e2ee implements the end-to-end encryption envelope: a symmetric
// AES-256-GCM key generated per room, exported into the invite link's URL
// fragment, and used to seal every message before it reaches the server. The
// server only ever sees the output of Encrypt.
package e2ee

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
)

const (
	// KeySize is the raw key length in bytes (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
)

var (
	// ErrInvalidKey is returned when imported key material is malformed or
	// has the wrong length.
	ErrInvalidKey = errors.New("invalid key material")
	// ErrDecryptionFailed is returned when an envelope cannot be
	// authenticated, typically because it was encrypted under a different
	// key or tampered with in transit.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// encoding is URL-safe and unpadded so envelopes and exported keys can be
// embedded in a URL fragment verbatim.
var encoding = base64.RawURLEncoding

// Key is a symmetric authenticated-encryption key, usable for both
// directions of a room.
type Key struct {
	raw  []byte
	aead cipher.AEAD
}

func newKey(raw []byte) (*Key, error) {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, ErrInvalidKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &Key{raw: raw, aead: aead}, nil
}

// GenerateKey produces a fresh 256-bit key.
func GenerateKey() (*Key, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return newKey(raw)
}

// ImportKey is the inverse of Export. It returns ErrInvalidKey if the
// encoding is malformed or the decoded material is not KeySize bytes.
func ImportKey(encoded string) (*Key, error) {
	raw, err := encoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(raw) != KeySize {
		return nil, ErrInvalidKey
	}
	return newKey(raw)
}

// Export serializes the raw key material for embedding in a URL fragment.
func (k *Key) Export() string {
	return encoding.EncodeToString(k.raw)
}

// Encrypt seals the plaintext under a fresh random nonce and returns
// nonce ‖ ciphertext in the envelope encoding. The nonce is not secret, but
// it must never repeat under the same key, so every call draws a new one.
func (k *Key) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encoding.EncodeToString(sealed), nil
}

// Decrypt splits the nonce prefix from the envelope, authenticates and
// decrypts. It returns ErrDecryptionFailed rather than an internal error so
// callers can render a per-message sentinel instead of crashing the view.
func (k *Key) Decrypt(envelope string) (string, error) {
	sealed, err := encoding.DecodeString(envelope)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(sealed) < NonceSize {
		return "", ErrDecryptionFailed
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Package keycrypt seals and opens upstream provider keys so they are only
// ever stored encrypted at rest. Plaintext keys live for the duration of a
// single request and are never written back.
package keycrypt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrDecrypt = errors.New("keycrypt: decryption failed")

// Box wraps a 32-byte secretbox key derived from the configured master secret.
type Box struct {
	key [32]byte
}

// New derives a Box from an arbitrary master secret string.
func New(masterSecret string) (*Box, error) {
	if masterSecret == "" {
		return nil, errors.New("keycrypt: master secret is empty")
	}
	b := &Box{key: sha256.Sum256([]byte(masterSecret))}
	return b, nil
}

// Seal encrypts a plaintext upstream key and returns base64(nonce || ciphertext).
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("keycrypt: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("keycrypt: decode: %w", err)
	}
	if len(raw) < nonceSize {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// Package aead wraps the AEAD primitive signsky seals and opens ESP
// payloads with: AES-256-GCM, 16-byte tag, 12-byte nonce, 12-byte AAD.
//
// crypto/cipher.AEAD already exposes exactly the four operations the
// design calls for — setup, overhead, encrypt (Seal), decrypt (Open) —
// so this package is a thin constructor rather than a reimplementation.
// No third-party package in the reference corpus supplies an AES-GCM
// AEAD (the pack's AEAD usage is chacha20poly1305, a different cipher
// family that cannot stand in for AES-256-GCM here); crypto/aes +
// crypto/cipher is the correct, idiomatic choice and gets AES-NI
// acceleration for free on amd64/arm64.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Overhead is the AEAD authentication tag size signsky always uses.
const Overhead = 16

// KeySize is the length of an AES-256 key.
const KeySize = 32

// New builds an AES-256-GCM AEAD from a 32-byte key. The caller should
// zero the key bytes once New returns — the returned cipher.AEAD has
// already expanded what it needs.
func New(key [KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aead: aes.NewCipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: cipher.NewGCM: %w", err)
	}

	if gcm.Overhead() != Overhead {
		return nil, fmt.Errorf("aead: unexpected tag size %d", gcm.Overhead())
	}

	return gcm, nil
}

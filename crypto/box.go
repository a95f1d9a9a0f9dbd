package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned whenever Box.Open fails authentication. A
// decryption failure is always a validation error, never a silent
// mis-decode (§9 "Crypto discipline").
var ErrDecrypt = errors.New("crypto: decryption failed")

// SharedKeySize is the size, in bytes, of a Box's derived symmetric key.
const SharedKeySize = chacha20poly1305.KeySize

// boxInfo is the HKDF "info" label binding derived keys to this protocol,
// so the same raw ECDH output can never be reused as a key for another
// purpose.
const boxInfo = "sage-rtc/shared-symmetric-key/v1"

// Box is the "symmetric AEAD-like box" of §2.1: an authenticated-encryption
// wrapper around a SharedSymmetricKey (§3), used to encrypt SDP bodies, ICE
// candidates, and chat messages alike.
type Box struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

// DeriveSharedKey runs a raw X25519 ECDH output through HKDF-SHA256 to
// produce a SharedSymmetricKey (§3 invariant: derived once per saga, from
// remote_ephemeral_public ⊗ local_ephemeral_secret).
func DeriveSharedKey(rawECDH []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, rawECDH, nil, []byte(boxInfo))
	key := make([]byte, SharedKeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	return key, nil
}

// NewBox builds a Box from an already-derived SharedSymmetricKey.
func NewBox(key []byte) (*Box, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal authenticates and encrypts plaintext, returning nonce||ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

// Open reverses Seal. A tampered or truncated input returns ErrDecrypt.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	ns := b.aead.NonceSize()
	if len(sealed) < ns+b.aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := sealed[:ns], sealed[ns:]
	pt, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

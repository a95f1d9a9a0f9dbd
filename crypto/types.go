// Package crypto defines the key-pair abstractions shared by the signing
// (PeerIdentity) and key-agreement (EphemeralKeyPair) concerns. Concrete
// implementations live in the keys subpackage.
package crypto

import (
	"crypto"
	"errors"
)

// KeyType identifies the algorithm family a KeyPair implements.
type KeyType string

const (
	KeyTypeEd25519   KeyType = "Ed25519"
	KeyTypeSecp256k1 KeyType = "Secp256k1"
	KeyTypeX25519    KeyType = "X25519"
)

// KeyPair is the common contract for both long-lived signing identities
// (PeerIdentity) and per-saga ephemeral key-agreement keys.
//
// X25519 key pairs implement Sign/Verify by returning ErrSignNotSupported /
// ErrVerifyNotSupported: the type exists purely for key agreement.
type KeyPair interface {
	// PublicKey returns the public key.
	PublicKey() crypto.PublicKey

	// PrivateKey returns the private key.
	PrivateKey() crypto.PrivateKey

	// Type returns the key type.
	Type() KeyType

	// Sign signs the given message.
	Sign(message []byte) ([]byte, error)

	// Verify verifies a signature produced by Sign.
	Verify(message, signature []byte) error

	// ID returns a short, stable identifier derived from the public key.
	ID() string
}

// Common errors.
var (
	ErrInvalidKeyType    = errors.New("crypto: invalid key type")
	ErrInvalidSignature  = errors.New("crypto: invalid signature")
	ErrSignNotSupported  = errors.New("crypto: key agreement keys do not support signing")
	ErrVerifyNotSupported = errors.New("crypto: key agreement keys do not support verification")
)

package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/sage-x-project/sage-rtc/crypto/keys"
)

// PeerIdentity is a peer's long-lived signing key pair (§3). The public key,
// base64-printable, is the addressable identity; the secret key signs
// outgoing CallEnvelopes. Either Ed25519 or secp256k1 may back it (§SPEC_FULL
// "dual signing algorithms") — dispatch verifies against whichever algorithm
// the sender's public key indicates.
type PeerIdentity struct {
	keyPair KeyPair
}

// NewPeerIdentity wraps an already-generated signing key pair.
func NewPeerIdentity(kp KeyPair) *PeerIdentity {
	return &PeerIdentity{keyPair: kp}
}

// NewEd25519PeerIdentity generates a fresh Ed25519 PeerIdentity.
func NewEd25519PeerIdentity() (*PeerIdentity, error) {
	kp, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ed25519 identity: %w", err)
	}
	return &PeerIdentity{keyPair: kp}, nil
}

// NewSecp256k1PeerIdentity generates a fresh secp256k1 PeerIdentity.
func NewSecp256k1PeerIdentity() (*PeerIdentity, error) {
	kp, err := keys.GenerateSecp256k1KeyPair()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate secp256k1 identity: %w", err)
	}
	return &PeerIdentity{keyPair: kp}, nil
}

// PublicKeyBytes returns the raw public key bytes identifying this peer.
func (p *PeerIdentity) PublicKeyBytes() []byte {
	return PublicKeyBytes(p.keyPair)
}

// PublicKeyBase64 is the addressable identity string used in CallEnvelope
// sender/recipient fields.
func (p *PeerIdentity) PublicKeyBase64() string {
	return EncodeBase64(p.PublicKeyBytes())
}

// Sign signs a message with the peer's secret key.
func (p *PeerIdentity) Sign(message []byte) ([]byte, error) {
	return p.keyPair.Sign(message)
}

// Algorithm reports which signing algorithm this identity uses.
func (p *PeerIdentity) Algorithm() KeyType {
	return p.keyPair.Type()
}

// Verifier returns a KeyPair that can verify signatures produced by this
// identity, but cannot sign — the same shape dispatch builds from a remote
// envelope's embedded public key via VerifierFromPublicKey.
func (p *PeerIdentity) Verifier() KeyPair {
	return verifierFor(p.keyPair.Type(), p.PublicKeyBytes())
}

// VerifierFromPublicKey reconstructs a verify-only KeyPair from a raw public
// key and its algorithm, exactly as dispatch does for an inbound envelope's
// sender (§4.3 "verify signature against the sender's public key").
func VerifierFromPublicKey(alg KeyType, pubBytes []byte) (KeyPair, error) {
	switch alg {
	case KeyTypeEd25519:
		if len(pubBytes) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("crypto: bad ed25519 public key length %d", len(pubBytes))
		}
		return keys.NewEd25519PublicKeyOnly(ed25519.PublicKey(pubBytes)), nil
	case KeyTypeSecp256k1:
		pub, err := secp256k1.ParsePubKey(pubBytes)
		if err != nil {
			return nil, fmt.Errorf("crypto: parse secp256k1 public key: %w", err)
		}
		return keys.NewSecp256k1PublicKeyOnly(pub), nil
	default:
		return nil, fmt.Errorf("crypto: unsupported verify algorithm %q", alg)
	}
}

// GuessAlgorithm infers a signing key's algorithm from its raw public key
// length: 32 bytes is an Ed25519 public key, 33 bytes is a compressed
// secp256k1 public key (§SPEC_FULL "dual signing algorithms"). Dispatch
// uses this to resolve a verifier for an inbound envelope's sender,
// since the wire format (§6.1) carries only the raw key bytes.
func GuessAlgorithm(pubBytes []byte) (KeyType, error) {
	switch len(pubBytes) {
	case ed25519.PublicKeySize:
		return KeyTypeEd25519, nil
	case 33:
		return KeyTypeSecp256k1, nil
	default:
		return "", fmt.Errorf("crypto: cannot infer algorithm from %d-byte public key", len(pubBytes))
	}
}

func verifierFor(alg KeyType, pubBytes []byte) KeyPair {
	kp, err := VerifierFromPublicKey(alg, pubBytes)
	if err != nil {
		return nil
	}
	return kp
}

// EphemeralKeyPair is a per-saga X25519-style key-agreement pair (§3),
// generated fresh at saga construction and consumed exactly once by
// setEncryption to derive a SharedSymmetricKey.
type EphemeralKeyPair struct {
	keyPair *keys.X25519KeyPair
}

// NewEphemeralKeyPair generates a fresh ephemeral X25519 key pair.
func NewEphemeralKeyPair() (*EphemeralKeyPair, error) {
	kp, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ephemeral key pair: %w", err)
	}
	x25519KP, ok := kp.(*keys.X25519KeyPair)
	if !ok {
		return nil, fmt.Errorf("crypto: unexpected key pair type %T", kp)
	}
	return &EphemeralKeyPair{keyPair: x25519KP}, nil
}

// PublicKeyBytes returns the raw 32-byte ephemeral public key, sent as the
// dial/offer/answer/ice envelope's ephemeral-pub field.
func (e *EphemeralKeyPair) PublicKeyBytes() []byte {
	return e.keyPair.PublicBytesKey()
}

// PublicKeyBase64 is the base64 form placed on the wire.
func (e *EphemeralKeyPair) PublicKeyBase64() string {
	return EncodeBase64(e.PublicKeyBytes())
}

// DeriveSharedKey computes the SharedSymmetricKey (§3, §4.1.4) from this
// saga's local ephemeral secret and the remote peer's ephemeral public key,
// base64-encoded as received over the wire.
func (e *EphemeralKeyPair) DeriveSharedKey(remotePublicBase64 string) ([]byte, error) {
	remotePub, err := DecodeBase64(remotePublicBase64)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode remote ephemeral public key: %w", err)
	}
	raw, err := e.keyPair.DeriveSharedSecret(remotePub)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive shared secret: %w", err)
	}
	return DeriveSharedKey(raw)
}

// PublicKeyBytes extracts the raw bytes of a KeyPair's public key,
// regardless of algorithm. secp256k1 keys are serialized compressed (33
// bytes) so GuessAlgorithm can tell them apart from a 32-byte Ed25519 key.
func PublicKeyBytes(kp KeyPair) []byte {
	switch pub := kp.PublicKey().(type) {
	case ed25519.PublicKey:
		return []byte(pub)
	case *ecdsa.PublicKey:
		if pub.Curve == secp256k1.S256() {
			return secp256k1.NewPublicKey(pub.X, pub.Y).SerializeCompressed()
		}
		return elliptic.Marshal(pub.Curve, pub.X, pub.Y)
	case interface{ Bytes() []byte }:
		return pub.Bytes()
	default:
		return nil
	}
}

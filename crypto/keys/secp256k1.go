package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
)

// secp256k1KeyPair is the secp256k1 half of the dual signing algorithms a
// PeerIdentity may use (§SPEC_FULL "dual signing algorithms"): a
// chain-style ECDSA key pair signing over a raw SHA-256 digest of the
// envelope body, rather than the ASN.1-encoded signatures most secp256k1
// libraries default to.
type secp256k1KeyPair struct {
	privateKey  *secp256k1.PrivateKey
	publicKey   *secp256k1.PublicKey
	fingerprint string
}

// GenerateSecp256k1KeyPair mints a fresh secp256k1 PeerIdentity key pair.
func GenerateSecp256k1KeyPair() (sagecrypto.KeyPair, error) {
	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	publicKey := privateKey.PubKey()

	return &secp256k1KeyPair{
		privateKey:  privateKey,
		publicKey:   publicKey,
		fingerprint: fingerprintOf(publicKey.SerializeCompressed()),
	}, nil
}

// fingerprintOf derives KeyPair.ID()'s short stable identifier from a
// public key's bytes (the compressed secp256k1 key or the raw Ed25519 key);
// used by GenerateSecp256k1KeyPair and GenerateEd25519KeyPair.
func fingerprintOf(compressedPub []byte) string {
	hash := sha256.Sum256(compressedPub)
	return hex.EncodeToString(hash[:8])
}

func (kp *secp256k1KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey.ToECDSA()
}

func (kp *secp256k1KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey.ToECDSA()
}

func (kp *secp256k1KeyPair) Type() sagecrypto.KeyType {
	return sagecrypto.KeyTypeSecp256k1
}

// Sign produces the 64-byte fixed-width (r||s) signature format
// CallEnvelope.Sign expects (§6.1) over a SHA-256 digest of the envelope
// body — no ASN.1 DER wrapping, since the wire format has no room for a
// variable-length signature field.
func (kp *secp256k1KeyPair) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, kp.privateKey.ToECDSA(), digest[:])
	if err != nil {
		return nil, err
	}
	return serializeSignature(r, s), nil
}

// Verify checks a signature produced by Sign against the same digest.
func (kp *secp256k1KeyPair) Verify(message, signature []byte) error {
	digest := sha256.Sum256(message)
	r, s, err := deserializeSignature(signature)
	if err != nil {
		return sagecrypto.ErrInvalidSignature
	}
	if !ecdsa.Verify(kp.publicKey.ToECDSA(), digest[:], r, s) {
		return sagecrypto.ErrInvalidSignature
	}
	return nil
}

func (kp *secp256k1KeyPair) ID() string {
	return kp.fingerprint
}

// serializeSignature packs r and s into the fixed 64-byte wire signature.
func serializeSignature(r, s *big.Int) []byte {
	rBytes := r.Bytes()
	sBytes := s.Bytes()

	signature := make([]byte, 64)
	copy(signature[32-len(rBytes):32], rBytes)
	copy(signature[64-len(sBytes):64], sBytes)
	return signature
}

// deserializeSignature reverses serializeSignature, rejecting anything not
// exactly 64 bytes rather than trying to be lenient about encoding.
func deserializeSignature(data []byte) (*big.Int, *big.Int, error) {
	if len(data) != 64 {
		return nil, nil, sagecrypto.ErrInvalidSignature
	}
	r := new(big.Int).SetBytes(data[:32])
	s := new(big.Int).SetBytes(data[32:])
	return r, s, nil
}

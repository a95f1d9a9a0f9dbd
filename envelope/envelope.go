// Package envelope implements the signed, opaque-bodied wire record (§6.1)
// exchanged between peers through the untrusted signaling relay: a
// CallEnvelope with fields {kind, sender, recipient, body, signature}.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
)

// Kind enumerates the envelope kinds carried over the signaling channel.
type Kind string

const (
	KindDial   Kind = "dial"
	KindOffer  Kind = "offer"
	KindAnswer Kind = "answer"
	KindIce    Kind = "ice"
	KindClose  Kind = "close"
)

// Direction tags which of a peer's two sagas (incoming or outgoing)
// produced or should consume a given envelope — used on `ice` bodies per
// §4.1.6 and §4.3.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Opposite returns the other direction, used by dispatch's ICE cross-link
// (§9 open question): an `ice` tagged with the sender's `incoming` saga
// must be fed to our `outgoing` saga, and vice versa.
func (d Direction) Opposite() Direction {
	if d == DirectionIncoming {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

// Body is the opaque JSON object carried in an envelope's `b` field (§6.1).
// Unknown/irrelevant fields for a given Kind are simply left zero.
type Body struct {
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Timestamp     int64     `json:"timestamp"`
	EphemeralPub  string    `json:"ephemeralPub,omitempty"`
	EncryptedBody string    `json:"encryptedBody,omitempty"`
	Source        Direction `json:"source,omitempty"`
}

// CallEnvelope is the signed record exchanged via the signaling client. `A`
// is the kind, `B` the base64-encoded JSON body, `C` the base64-encoded
// signature computed over `A||B` (the raw bytes of the kind string
// concatenated with the raw bytes of the base64 body string).
type CallEnvelope struct {
	A Kind   `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

var (
	ErrInvalidSignature = errors.New("envelope: invalid signature")
	ErrStaleTimestamp   = errors.New("envelope: stale timestamp")
)

func signedMessage(kind Kind, bodyB64 string) []byte {
	msg := make([]byte, 0, len(kind)+len(bodyB64))
	msg = append(msg, []byte(kind)...)
	msg = append(msg, []byte(bodyB64)...)
	return msg
}

// Sign builds and signs a CallEnvelope for the given kind and body using
// the sender's PeerIdentity.
func Sign(identity *sagecrypto.PeerIdentity, kind Kind, body Body) (*CallEnvelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal body: %w", err)
	}
	bodyB64 := sagecrypto.EncodeBase64(raw)

	sig, err := identity.Sign(signedMessage(kind, bodyB64))
	if err != nil {
		return nil, fmt.Errorf("envelope: sign: %w", err)
	}

	return &CallEnvelope{
		A: kind,
		B: bodyB64,
		C: sagecrypto.EncodeBase64(sig),
	}, nil
}

// Verify checks a CallEnvelope's signature against the sender's public key
// (already resolved by the caller from the body's `sender` field, or from a
// prior trust decision) and returns the decoded Body. It does not check
// freshness; see CheckFreshness.
func Verify(env *CallEnvelope, senderKey sagecrypto.KeyPair) (*Body, error) {
	sig, err := sagecrypto.DecodeBase64(env.C)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode signature: %w", err)
	}
	if err := senderKey.Verify(signedMessage(env.A, env.B), sig); err != nil {
		return nil, ErrInvalidSignature
	}

	raw, err := sagecrypto.DecodeBase64(env.B)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode body: %w", err)
	}
	var body Body
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal body: %w", err)
	}
	return &body, nil
}

// CheckFreshness validates an envelope's timestamp against the local time
// service (§4.3, §6.4), rejecting envelopes older or newer than maxSkew.
func CheckFreshness(body *Body, nowMillis int64, maxSkew int64) error {
	delta := nowMillis - body.Timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > maxSkew {
		return ErrStaleTimestamp
	}
	return nil
}

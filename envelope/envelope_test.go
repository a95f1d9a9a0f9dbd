package envelope

import (
	"testing"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	sender, err := sagecrypto.NewEd25519PeerIdentity()
	require.NoError(t, err)

	body := Body{
		Sender:       sender.PublicKeyBase64(),
		Recipient:    "recipient-pub",
		Timestamp:    1000,
		EphemeralPub: "ephemeral-pub",
	}

	env, err := Sign(sender, KindDial, body)
	require.NoError(t, err)
	assert.Equal(t, KindDial, env.A)

	got, err := Verify(env, sender.Verifier())
	require.NoError(t, err)
	assert.Equal(t, body.Sender, got.Sender)
	assert.Equal(t, body.Timestamp, got.Timestamp)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	sender, err := sagecrypto.NewEd25519PeerIdentity()
	require.NoError(t, err)
	env, err := Sign(sender, KindDial, Body{Sender: "a", Timestamp: 1})
	require.NoError(t, err)

	env.B = sagecrypto.EncodeBase64([]byte(`{"sender":"evil","timestamp":1}`))
	_, err = Verify(env, sender.Verifier())
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestCheckFreshness(t *testing.T) {
	body := &Body{Timestamp: 10_000}
	assert.NoError(t, CheckFreshness(body, 10_000, 5_000))
	assert.NoError(t, CheckFreshness(body, 14_000, 5_000))
	assert.ErrorIs(t, CheckFreshness(body, 20_000, 5_000), ErrStaleTimestamp)
}

func TestSessionDescriptionEncryptDecrypt(t *testing.T) {
	a, err := sagecrypto.NewEphemeralKeyPair()
	require.NoError(t, err)
	b, err := sagecrypto.NewEphemeralKeyPair()
	require.NoError(t, err)

	keyA, err := a.DeriveSharedKey(b.PublicKeyBase64())
	require.NoError(t, err)
	keyB, err := b.DeriveSharedKey(a.PublicKeyBase64())
	require.NoError(t, err)
	require.Equal(t, keyA, keyB)

	boxA, err := sagecrypto.NewBox(keyA)
	require.NoError(t, err)
	boxB, err := sagecrypto.NewBox(keyB)
	require.NoError(t, err)

	enc, err := EncryptSessionDescription(boxA, SessionDescription{Type: SDPTypeOffer, SDP: "v=0"})
	require.NoError(t, err)

	desc, err := DecryptSessionDescription(boxB, enc)
	require.NoError(t, err)
	assert.Equal(t, SDPTypeOffer, desc.Type)
	assert.Equal(t, "v=0", desc.SDP)

	_, err = EncryptSessionDescription(boxA, SessionDescription{SDP: "v=0"})
	require.NoError(t, err) // encrypting is unconditional; validation is on decrypt

	bad, err := EncryptSessionDescription(boxA, SessionDescription{SDP: "v=0"})
	require.NoError(t, err)
	_, err = DecryptSessionDescription(boxB, bad)
	assert.ErrorIs(t, err, ErrMissingDescriptionType)
}

func TestICECandidateEncryptDecrypt(t *testing.T) {
	a, err := sagecrypto.NewEphemeralKeyPair()
	require.NoError(t, err)
	b, err := sagecrypto.NewEphemeralKeyPair()
	require.NoError(t, err)

	keyA, err := a.DeriveSharedKey(b.PublicKeyBase64())
	require.NoError(t, err)
	boxA, err := sagecrypto.NewBox(keyA)
	require.NoError(t, err)

	keyB, err := b.DeriveSharedKey(a.PublicKeyBase64())
	require.NoError(t, err)
	boxB, err := sagecrypto.NewBox(keyB)
	require.NoError(t, err)

	mline := 0
	enc, err := EncryptICECandidate(boxA, ICECandidate{Candidate: "candidate:1 udp", SDPMLineIndex: &mline})
	require.NoError(t, err)

	cand, err := DecryptICECandidate(boxB, enc)
	require.NoError(t, err)
	assert.Equal(t, "candidate:1 udp", cand.Candidate)
	require.NotNil(t, cand.SDPMLineIndex)
	assert.Equal(t, 0, *cand.SDPMLineIndex)
}

func TestMessageEncryptDecrypt(t *testing.T) {
	a, err := sagecrypto.NewEphemeralKeyPair()
	require.NoError(t, err)
	b, err := sagecrypto.NewEphemeralKeyPair()
	require.NoError(t, err)
	keyA, _ := a.DeriveSharedKey(b.PublicKeyBase64())
	keyB, _ := b.DeriveSharedKey(a.PublicKeyBase64())
	boxA, _ := sagecrypto.NewBox(keyA)
	boxB, _ := sagecrypto.NewBox(keyB)

	sealed, err := EncryptMessage(boxA, "hello")
	require.NoError(t, err)
	pt, err := DecryptMessage(boxB, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", pt)

	sealed[len(sealed)-1] ^= 0xFF
	_, err = DecryptMessage(boxB, sealed)
	assert.ErrorIs(t, err, sagecrypto.ErrDecrypt)
}

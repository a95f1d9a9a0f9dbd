package saga_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/sage-x-project/sage-rtc/saga"
)

// lastOtherEphemeral stashes the "remote peer" ephemeral key pair generated
// by the most recent newEphemeralForTest call, so a later sharedBoxForTest
// call can independently derive the same shared key the saga under test
// computed from the public half it was handed.
var lastOtherEphemeral *sagecrypto.EphemeralKeyPair

// newEphemeralForTest generates a fresh ephemeral key pair standing in for
// a remote peer's and returns its base64 public key, the form saga's
// SetEncryption expects.
func newEphemeralForTest() (string, error) {
	kp, err := sagecrypto.NewEphemeralKeyPair()
	if err != nil {
		return "", err
	}
	lastOtherEphemeral = kp
	return kp.PublicKeyBase64(), nil
}

// sharedBoxForTest rebuilds the symmetric box a saga derived from the most
// recent newEphemeralForTest call's public key, letting a test encrypt
// session descriptions and ICE candidates as if sent by that remote peer.
func sharedBoxForTest(t *testing.T, s *saga.Saga) *sagecrypto.Box {
	t.Helper()
	require.NotNil(t, lastOtherEphemeral, "newEphemeralForTest must be called before sharedBoxForTest")
	key, err := lastOtherEphemeral.DeriveSharedKey(s.EphemeralPublicKeyBase64())
	require.NoError(t, err)
	box, err := sagecrypto.NewBox(key)
	require.NoError(t, err)
	return box
}

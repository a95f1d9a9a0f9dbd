package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-rtc/connection"
	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/sage-x-project/sage-rtc/dispatch"
	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/media/fake"
	"github.com/sage-x-project/sage-rtc/saga"
	"github.com/sage-x-project/sage-rtc/timeservice"
)

// noopSignalingClient discards every outbound call — these tests drive
// sagas directly and feed dispatch crafted envelopes, so nothing needs to
// actually leave the Connection under test.
type noopSignalingClient struct{}

func (noopSignalingClient) Dial(ctx context.Context, from, to, ephemeralPubBase64 string) error {
	return nil
}
func (noopSignalingClient) Offer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error {
	return nil
}
func (noopSignalingClient) Answer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error {
	return nil
}
func (noopSignalingClient) ICE(ctx context.Context, from, to, ephemeralPubBase64, encryptedCandidate string, source envelope.Direction) error {
	return nil
}
func (noopSignalingClient) Close(ctx context.Context, from, to string) error { return nil }
func (noopSignalingClient) Envelopes() <-chan *envelope.CallEnvelope         { return nil }

func waitForSagaState(t *testing.T, s *saga.Saga, want saga.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("saga did not reach state %s within %s (last state %s)", want, timeout, s.State())
}

func newTestConnection(t *testing.T, peerPublicKey string, provider *fake.Provider, clock timeservice.Clock) *connection.Connection {
	t.Helper()
	identity, err := sagecrypto.NewEd25519PeerIdentity()
	require.NoError(t, err)
	c, err := connection.New(connection.Config{
		PeerPublicKey:   peerPublicKey,
		Identity:        identity,
		Provider:        provider,
		SignalingClient: noopSignalingClient{},
		Clock:           clock,
		StepDeadline:    time.Second,
	})
	require.NoError(t, err)
	return c
}

func newTestRouter(registry *dispatch.Registry, clock timeservice.Clock) *dispatch.Router {
	r := dispatch.NewRouter(dispatch.Config{Registry: registry, Clock: clock})
	return r
}

func signedBody(t *testing.T, sender *sagecrypto.PeerIdentity, kind envelope.Kind, body envelope.Body, clock timeservice.Clock) *envelope.CallEnvelope {
	t.Helper()
	body.Sender = sender.PublicKeyBase64()
	body.Timestamp = clock.NowMillis()
	env, err := envelope.Sign(sender, kind, body)
	require.NoError(t, err)
	return env
}

// TestRouteOfferAdvancesOutgoingSaga exercises the fix to the inverted
// dispatch targets: A has dialed B and is sitting in AwaitingOffer on its
// outgoing saga (saga/steps.go stepSendDial -> AwaitOffer). An offer
// arriving from B over dispatch must unblock A's outgoing saga, carrying it
// through to AwaitingConnection, and must leave A's incoming saga
// untouched.
func TestRouteOfferAdvancesOutgoingSaga(t *testing.T) {
	clock := timeservice.NewFixed(1000)

	bob, err := sagecrypto.NewEd25519PeerIdentity()
	require.NoError(t, err)

	registry := dispatch.NewRegistry(func(peerPublicKey string) (*connection.Connection, error) {
		t.Fatalf("unexpected GetOrCreate for %s", peerPublicKey)
		return nil, nil
	})
	router := newTestRouter(registry, clock)
	defer router.Stop()

	aliceProvider := &fake.Provider{}
	alice := newTestConnection(t, bob.PublicKeyBase64(), aliceProvider, clock)
	registry.Put(bob.PublicKeyBase64(), alice)

	require.NoError(t, alice.Outgoing().Open(context.Background(), saga.SendDial))
	waitForSagaState(t, alice.Outgoing(), saga.AwaitingOffer, time.Second)

	bobEphemeral, err := sagecrypto.NewEphemeralKeyPair()
	require.NoError(t, err)
	sharedKey, err := bobEphemeral.DeriveSharedKey(alice.Outgoing().EphemeralPublicKeyBase64())
	require.NoError(t, err)
	box, err := sagecrypto.NewBox(sharedKey)
	require.NoError(t, err)
	encOffer, err := envelope.EncryptSessionDescription(box, envelope.SessionDescription{Type: envelope.SDPTypeOffer, SDP: "bob-offer-sdp"})
	require.NoError(t, err)

	offerEnv := signedBody(t, bob, envelope.KindOffer, envelope.Body{
		EphemeralPub:  bobEphemeral.PublicKeyBase64(),
		EncryptedBody: encOffer,
	}, clock)

	require.NoError(t, router.Dispatch(context.Background(), offerEnv))

	waitForSagaState(t, alice.Outgoing(), saga.AwaitingConnection, time.Second)
	require.Equal(t, saga.New, alice.Incoming().State(), "an offer must never touch the receiver's incoming saga")
}

// TestRouteAnswerAdvancesIncomingSaga covers the other half of the fix: B's
// incoming saga sent the offer (stepSendOffer -> AwaitAnswer) and is
// waiting for A's answer. The answer must unblock B's incoming saga, not
// its outgoing saga.
func TestRouteAnswerAdvancesIncomingSaga(t *testing.T) {
	clock := timeservice.NewFixed(2000)
	bobProvider := &fake.Provider{}

	alice, err := sagecrypto.NewEd25519PeerIdentity()
	require.NoError(t, err)

	registry := dispatch.NewRegistry(func(peerPublicKey string) (*connection.Connection, error) {
		t.Fatalf("unexpected GetOrCreate for %s", peerPublicKey)
		return nil, nil
	})
	router := newTestRouter(registry, clock)
	defer router.Stop()

	bob := newTestConnection(t, alice.PublicKeyBase64(), bobProvider, clock)
	registry.Put(alice.PublicKeyBase64(), bob)

	aliceEphemeral, err := sagecrypto.NewEphemeralKeyPair()
	require.NoError(t, err)

	// Mirrors dispatch.routeDial's non-new branch: the incoming saga is
	// already sitting in AwaitingDial (Open resets any previously-set
	// encryption, so SetEncryption must happen after Open, while the saga
	// is parked waiting for Continue), encryption is derived from the
	// dial's ephemeral key, and Continue() releases it into SendOffer.
	require.NoError(t, bob.Incoming().Open(context.Background(), saga.AwaitDial))
	waitForSagaState(t, bob.Incoming(), saga.AwaitingDial, time.Second)
	require.NoError(t, bob.Incoming().SetEncryption(aliceEphemeral.PublicKeyBase64()))
	require.NoError(t, bob.Incoming().Continue())
	waitForSagaState(t, bob.Incoming(), saga.AwaitingAnswer, time.Second)

	sharedKey, err := aliceEphemeral.DeriveSharedKey(bob.Incoming().EphemeralPublicKeyBase64())
	require.NoError(t, err)
	box, err := sagecrypto.NewBox(sharedKey)
	require.NoError(t, err)
	encAnswer, err := envelope.EncryptSessionDescription(box, envelope.SessionDescription{Type: envelope.SDPTypeAnswer, SDP: "alice-answer-sdp"})
	require.NoError(t, err)

	answerEnv := signedBody(t, alice, envelope.KindAnswer, envelope.Body{
		EncryptedBody: encAnswer,
	}, clock)

	require.NoError(t, router.Dispatch(context.Background(), answerEnv))

	waitForSagaState(t, bob.Incoming(), saga.AwaitingConnection, time.Second)
	require.Equal(t, saga.New, bob.Outgoing().State(), "an answer must never touch the sender's outgoing saga")
}

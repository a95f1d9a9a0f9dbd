package connection_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-rtc/connection"
	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/media/fake"
	"github.com/sage-x-project/sage-rtc/saga"
	"github.com/sage-x-project/sage-rtc/timeservice"
)

// fakeSignalingClient records outbound calls instead of delivering anything
// over a real transport, in the style of saga's own test double
// (saga/saga_test.go fakeSignalingClient) — Connection's projection and
// multiplexing logic is the thing under test here, not wire transport.
type fakeSignalingClient struct {
	mu     sync.Mutex
	answers int
	closes  int
}

func (f *fakeSignalingClient) Dial(ctx context.Context, from, to, ephemeralPubBase64 string) error {
	return nil
}

func (f *fakeSignalingClient) Offer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error {
	return nil
}

func (f *fakeSignalingClient) Answer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return nil
}

func (f *fakeSignalingClient) ICE(ctx context.Context, from, to, ephemeralPubBase64, encryptedCandidate string, source envelope.Direction) error {
	return nil
}

func (f *fakeSignalingClient) Close(ctx context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSignalingClient) Envelopes() <-chan *envelope.CallEnvelope { return nil }

func (f *fakeSignalingClient) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func newTestConnection(t *testing.T, provider *fake.Provider, sig *fakeSignalingClient, deadline time.Duration) *connection.Connection {
	t.Helper()
	identity, err := sagecrypto.NewEd25519PeerIdentity()
	require.NoError(t, err)
	c, err := connection.New(connection.Config{
		PeerPublicKey:   "peer-pub",
		Identity:        identity,
		Provider:        provider,
		SignalingClient: sig,
		Clock:           timeservice.NewFixed(1000),
		StepDeadline:    deadline,
	})
	require.NoError(t, err)
	return c
}

func waitForState(t *testing.T, c *connection.Connection, want connection.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("connection did not reach state %s within %s (last state %s)", want, timeout, c.State())
}

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

func TestNewRequiresIdentity(t *testing.T) {
	_, err := connection.New(connection.Config{PeerPublicKey: "peer-pub", Provider: &fake.Provider{}})
	assert.Error(t, err)
}

func TestAggregateStateStartsNew(t *testing.T) {
	c := newTestConnection(t, &fake.Provider{}, &fakeSignalingClient{}, time.Second)
	assert.Equal(t, connection.New, c.State())
	_, ok := c.OpenedAt()
	assert.False(t, ok)
}

// driveOutgoingToConnected walks the outgoing saga through a full
// SendDial->Connected handshake, mirroring saga/saga_test.go's
// TestDataChannelOpenAdvancesAwaitConnection but through Connection's
// exported Outgoing() accessor.
func driveOutgoingToConnected(t *testing.T, c *connection.Connection, provider *fake.Provider) {
	t.Helper()
	out := c.Outgoing()

	require.NoError(t, out.Open(context.Background(), saga.SendDial))
	waitForSagaState(t, out, saga.AwaitingOffer, time.Second)

	remoteEphemeral, err := sagecrypto.NewEphemeralKeyPair()
	require.NoError(t, err)
	require.NoError(t, out.SetEncryption(remoteEphemeral.PublicKeyBase64()))

	key, err := remoteEphemeral.DeriveSharedKey(out.EphemeralPublicKeyBase64())
	require.NoError(t, err)
	box, err := sagecrypto.NewBox(key)
	require.NoError(t, err)

	encOffer, err := envelope.EncryptSessionDescription(box, envelope.SessionDescription{Type: envelope.SDPTypeOffer, SDP: "offer-sdp"})
	require.NoError(t, err)
	require.NoError(t, out.SetDescription(context.Background(), encOffer))
	require.NoError(t, out.Continue())

	waitForSagaState(t, out, saga.AwaitingConnection, time.Second)

	pc := provider.Last()
	require.NotNil(t, pc)
	ch := pc.LastDataChannel()
	require.NotNil(t, ch)
	ch.Open()

	waitForSagaState(t, out, saga.Connected, time.Second)
}

func TestAggregateReachesOpenWhenOutgoingConnects(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	c := newTestConnection(t, provider, sig, time.Second)

	var mu sync.Mutex
	var transitions []connection.State
	c.SetOnStateChanged(func(from, to connection.State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	driveOutgoingToConnected(t, c, provider)
	waitForState(t, c, connection.Open, time.Second)

	openedAt, ok := c.OpenedAt()
	assert.True(t, ok)
	assert.Equal(t, int64(1000), openedAt)
	assert.Equal(t, 1, sig.answers)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, transitions)
	assert.Equal(t, connection.Open, transitions[len(transitions)-1])
}

func TestSendErrorsWhenNoSagaConnected(t *testing.T) {
	c := newTestConnection(t, &fake.Provider{}, &fakeSignalingClient{}, time.Second)
	err := c.Send(context.Background(), "hello")
	assert.Error(t, err)
}

func TestSendRoutesToConnectedSaga(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	c := newTestConnection(t, provider, sig, time.Second)

	driveOutgoingToConnected(t, c, provider)
	waitForState(t, c, connection.Open, time.Second)

	require.NoError(t, c.Send(context.Background(), "hello"))
}

func TestCloseAbortsBothSagasAndEmitsCloseEnvelope(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	c := newTestConnection(t, provider, sig, time.Second)

	driveOutgoingToConnected(t, c, provider)
	waitForState(t, c, connection.Open, time.Second)

	c.Close(context.Background())

	waitForState(t, c, connection.Closed, time.Second)
	assert.Equal(t, 1, sig.closeCount())
	assert.True(t, c.Incoming().Aborted())
	assert.True(t, c.Outgoing().Aborted())
}

func TestOnProgressReachesMaximumWhenOpen(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	c := newTestConnection(t, provider, sig, time.Second)

	var mu sync.Mutex
	var percents []int
	c.SetOnProgress(func(p int) {
		mu.Lock()
		percents = append(percents, p)
		mu.Unlock()
	})

	driveOutgoingToConnected(t, c, provider)
	waitForState(t, c, connection.Open, time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
	for i := 1; i < len(percents); i++ {
		assert.LessOrEqual(t, percents[i-1], percents[i], "progress must be monotonically non-decreasing")
	}
}

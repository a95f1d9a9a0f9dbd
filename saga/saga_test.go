package saga_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/media"
	"github.com/sage-x-project/sage-rtc/media/fake"
	"github.com/sage-x-project/sage-rtc/saga"
	"github.com/sage-x-project/sage-rtc/timeservice"
)

// fakeSignalingClient records every outbound call instead of delivering
// anything over a real transport; saga's own behavior is the thing under
// test, not signaling wire format (covered in package signaling/dispatch).
type fakeSignalingClient struct {
	mu sync.Mutex

	dials    int
	offers   int
	answers  int
	ices     []envelope.Direction
	closes   int
	lastFrom string
	lastTo   string
}

func (f *fakeSignalingClient) Dial(ctx context.Context, from, to, ephemeralPubBase64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	f.lastFrom, f.lastTo = from, to
	return nil
}

func (f *fakeSignalingClient) Offer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return nil
}

func (f *fakeSignalingClient) Answer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return nil
}

func (f *fakeSignalingClient) ICE(ctx context.Context, from, to, ephemeralPubBase64, encryptedCandidate string, source envelope.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ices = append(f.ices, source)
	return nil
}

func (f *fakeSignalingClient) Close(ctx context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSignalingClient) Envelopes() <-chan *envelope.CallEnvelope { return nil }

func (f *fakeSignalingClient) count(fn func(*fakeSignalingClient) int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f)
}

func newTestSaga(t *testing.T, provider *fake.Provider, sig *fakeSignalingClient, deadline time.Duration) *saga.Saga {
	t.Helper()
	s, err := saga.NewSaga(saga.Config{
		PeerPublicKey:   "peer-pub",
		Self:            "self-pub",
		Direction:       envelope.DirectionOutgoing,
		Provider:        provider,
		SignalingClient: sig,
		Clock:           timeservice.NewFixed(1000),
		StepDeadline:    deadline,
	})
	require.NoError(t, err)
	return s
}

func waitForState(t *testing.T, s *saga.Saga, want saga.State, timeout time.Duration) {
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

func TestOpenBuildsPeerConnectionAndDataChannel(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	s := newTestSaga(t, provider, sig, time.Second)

	require.NoError(t, s.Open(context.Background(), saga.AwaitDial))
	waitForState(t, s, saga.AwaitingDial, time.Second)
	assert.Equal(t, 1, provider.Created)
}

func TestAwaitDialContinueAdvancesToSendOffer(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	s := newTestSaga(t, provider, sig, time.Second)

	require.NoError(t, s.Open(context.Background(), saga.AwaitDial))
	waitForState(t, s, saga.AwaitingDial, time.Second)

	require.NoError(t, s.SetEncryption(peerEphemeralPubBase64(t)))
	require.NoError(t, s.Continue())

	waitForState(t, s, saga.AwaitingAnswer, time.Second)
	assert.Equal(t, 1, sig.count(func(f *fakeSignalingClient) int { return f.offers }))
}

func TestTimeoutResetsToNewAndRecoveryOpensSecondPeerConnection(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	s := newTestSaga(t, provider, sig, 20*time.Millisecond)

	require.NoError(t, s.Open(context.Background(), saga.AwaitDial))
	waitForState(t, s, saga.New, 2*time.Second)
	assert.Equal(t, 1, provider.Created)

	require.NoError(t, s.Open(context.Background(), saga.AwaitDial))
	waitForState(t, s, saga.AwaitingDial, time.Second)
	assert.Equal(t, 2, provider.Created)
}

func TestIceCandidateCachedThenDrainedInFIFOOrder(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	s := newTestSaga(t, provider, sig, time.Second)

	require.NoError(t, s.Open(context.Background(), saga.SendDial))
	waitForState(t, s, saga.AwaitingOffer, time.Second)

	require.NoError(t, s.SetEncryption(peerEphemeralPubBase64(t)))

	box := sharedBoxForTest(t, s)
	enc1, err := envelope.EncryptICECandidate(box, envelope.ICECandidate{Candidate: "candidate-1"})
	require.NoError(t, err)
	enc2, err := envelope.EncryptICECandidate(box, envelope.ICECandidate{Candidate: "candidate-2"})
	require.NoError(t, err)

	require.NoError(t, s.AddICECandidate(context.Background(), enc1))
	require.NoError(t, s.AddICECandidate(context.Background(), enc2))

	offer := envelope.SessionDescription{Type: envelope.SDPTypeOffer, SDP: "offer-sdp"}
	encOffer, err := envelope.EncryptSessionDescription(box, offer)
	require.NoError(t, err)
	require.NoError(t, s.SetDescription(context.Background(), encOffer))

	fakePC := lastFakePeerConnection(t, provider)
	applied := fakePC.AppliedCandidates()
	require.Len(t, applied, 2)
	assert.Equal(t, "candidate-1", applied[0].Candidate)
	assert.Equal(t, "candidate-2", applied[1].Candidate)
}

func TestSetDescriptionIsNoOpWhenAlreadySet(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	s := newTestSaga(t, provider, sig, time.Second)

	require.NoError(t, s.Open(context.Background(), saga.SendDial))
	waitForState(t, s, saga.AwaitingOffer, time.Second)
	require.NoError(t, s.SetEncryption(peerEphemeralPubBase64(t)))

	box := sharedBoxForTest(t, s)
	encOffer, err := envelope.EncryptSessionDescription(box, envelope.SessionDescription{Type: envelope.SDPTypeOffer, SDP: "offer-1"})
	require.NoError(t, err)
	require.NoError(t, s.SetDescription(context.Background(), encOffer))

	fakePC := lastFakePeerConnection(t, provider)
	first := fakePC.RemoteDescription()
	require.NotNil(t, first)

	encOffer2, err := envelope.EncryptSessionDescription(box, envelope.SessionDescription{Type: envelope.SDPTypeOffer, SDP: "offer-2"})
	require.NoError(t, err)
	require.NoError(t, s.SetDescription(context.Background(), encOffer2))

	assert.Equal(t, first.SDP, fakePC.RemoteDescription().SDP, "second setDescription must not overwrite the first")
}

func TestAbortSilencesFurtherCallbacks(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	s := newTestSaga(t, provider, sig, time.Second)

	var mu sync.Mutex
	transitions := 0
	s.SetOnStateChanged(func(from, to saga.State) {
		mu.Lock()
		transitions++
		mu.Unlock()
	})

	require.NoError(t, s.Open(context.Background(), saga.AwaitDial))
	waitForState(t, s, saga.AwaitingDial, time.Second)

	s.Abort()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	afterAbort := transitions
	mu.Unlock()

	// Further mutators must not resurrect callback delivery.
	_ = s.SetEncryption(peerEphemeralPubBase64(t))
	_ = s.Continue()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, afterAbort, transitions, "no further onStateChanged after abort")
	assert.Equal(t, saga.Closed, s.State())
	assert.True(t, s.Aborted())
}

func TestAbortClosesMediaObjects(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	s := newTestSaga(t, provider, sig, time.Second)

	require.NoError(t, s.Open(context.Background(), saga.AwaitDial))
	waitForState(t, s, saga.AwaitingDial, time.Second)

	fakePC := lastFakePeerConnection(t, provider)
	s.Abort()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, fakePC.Closed())
}

func TestDataChannelOpenAdvancesAwaitConnection(t *testing.T) {
	provider := &fake.Provider{}
	sig := &fakeSignalingClient{}
	s := newTestSaga(t, provider, sig, time.Second)

	require.NoError(t, s.Open(context.Background(), saga.SendDial))
	waitForState(t, s, saga.AwaitingOffer, time.Second)
	require.NoError(t, s.SetEncryption(peerEphemeralPubBase64(t)))

	box := sharedBoxForTest(t, s)
	encOffer, err := envelope.EncryptSessionDescription(box, envelope.SessionDescription{Type: envelope.SDPTypeOffer, SDP: "offer-sdp"})
	require.NoError(t, err)
	require.NoError(t, s.SetDescription(context.Background(), encOffer))
	require.NoError(t, s.Continue())

	waitForState(t, s, saga.AwaitingConnection, time.Second)
	assert.Equal(t, 1, sig.count(func(f *fakeSignalingClient) int { return f.answers }))

	sendCh := lastFakeSendChannel(t, provider)
	sendCh.Open()

	waitForState(t, s, saga.Connected, time.Second)
}

// peerEphemeralPubBase64 returns a syntactically valid, freshly-generated
// ephemeral public key standing in for a remote peer's — saga only cares
// that DeriveSharedKey succeeds, not whose key it is.
func peerEphemeralPubBase64(t *testing.T) string {
	t.Helper()
	other, err := newEphemeralForTest()
	require.NoError(t, err)
	return other
}

func lastFakePeerConnection(t *testing.T, provider *fake.Provider) *fake.PeerConnection {
	t.Helper()
	pc := provider.Last()
	require.NotNil(t, pc)
	return pc
}

func lastFakeSendChannel(t *testing.T, provider *fake.Provider) *fake.DataChannel {
	t.Helper()
	pc := lastFakePeerConnection(t, provider)
	ch := pc.LastDataChannel()
	require.NotNil(t, ch)
	return ch
}

var _ = media.StateOpen // keep media imported for readers cross-referencing ReadyState

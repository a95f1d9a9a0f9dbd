// Package saga implements the per-peer connection state machine (§4.1): a
// single-threaded, cooperatively-driven actor that carries one half (either
// the incoming or the outgoing leg) of a peer-to-peer handshake from New
// through Connected, owning exactly one media.PeerConnection and send
// media.DataChannel at a time. Mutation is serialized by a single mutex in
// place of the teacher's RFC9421/handshake session locks, matching the
// "single logical executor" model described in the spec's design notes.
package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/internal/logger"
	"github.com/sage-x-project/sage-rtc/internal/metrics"
	"github.com/sage-x-project/sage-rtc/media"
	"github.com/sage-x-project/sage-rtc/signaling"
	"github.com/sage-x-project/sage-rtc/timeservice"
)

// DefaultStepDeadline is the per-step timeout (§4.1.3) applied when a
// Config leaves StepDeadline unset.
const DefaultStepDeadline = 60 * time.Second

// Saga is one direction (incoming or outgoing) of a peer connection's
// handshake. A Connection owns two: one per direction, sharing nothing but
// the peer's public key.
type Saga struct {
	mu sync.Mutex

	peerPublicKey string
	self          string
	direction     envelope.Direction

	provider        media.Provider
	signalingClient signaling.Client
	clock           timeservice.Clock
	log             logger.Logger
	iceServers      []string
	stepDeadline    time.Duration

	gen            uint64
	aborted        bool
	state          State
	stateEnteredAt time.Time

	ephemeral *sagecrypto.EphemeralKeyPair
	box       *sagecrypto.Box

	pc       media.PeerConnection
	sendChan media.DataChannel
	recvChan media.DataChannel

	iceQueue []media.ICECandidate

	waitCh        chan error
	deadlineTimer *time.Timer

	onStateChanged func(from, to State)
	onMessage      func(text string)

	notifyCh chan func()
}

// Config constructs a Saga.
type Config struct {
	// PeerPublicKey is the remote peer's base64 signing public key.
	PeerPublicKey string
	// Self is this saga owner's own base64 signing public key, used as the
	// `from` field on every outgoing signaling call.
	Self string
	// Direction identifies which of a Connection's two sagas this is.
	Direction envelope.Direction

	Provider        media.Provider
	SignalingClient signaling.Client

	// Clock defaults to timeservice.NewSystem().
	Clock timeservice.Clock
	// Logger defaults to logger.NoOp().
	Logger logger.Logger

	ICEServers []string
	// StepDeadline defaults to DefaultStepDeadline.
	StepDeadline time.Duration
}

// NewSaga builds an idle Saga in state New, with a fresh ephemeral
// key-agreement pair (§3). Call Open to start driving the handshake.
func NewSaga(cfg Config) (*Saga, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("saga: provider is required")
	}
	if cfg.SignalingClient == nil {
		return nil, fmt.Errorf("saga: signaling client is required")
	}

	ephemeral, err := sagecrypto.NewEphemeralKeyPair()
	if err != nil {
		return nil, fmt.Errorf("saga: generate ephemeral key pair: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeservice.NewSystem()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NoOp()
	}
	deadline := cfg.StepDeadline
	if deadline <= 0 {
		deadline = DefaultStepDeadline
	}

	s := &Saga{
		peerPublicKey:   cfg.PeerPublicKey,
		self:            cfg.Self,
		direction:       cfg.Direction,
		provider:        cfg.Provider,
		signalingClient: cfg.SignalingClient,
		clock:           clock,
		log:             log,
		iceServers:      cfg.ICEServers,
		stepDeadline:    deadline,
		ephemeral:       ephemeral,
		state:           New,
		stateEnteredAt:  time.Now(),
		notifyCh:        make(chan func(), 128),
	}
	go s.dispatchLoop()
	return s, nil
}

func (s *Saga) dispatchLoop() {
	for fn := range s.notifyCh {
		fn()
	}
}

func (s *Saga) enqueue(fn func()) {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	ch := s.notifyCh
	s.mu.Unlock()
	select {
	case ch <- fn:
	default:
		s.log.Warn("saga: callback queue full, dropping notification",
			logger.String("peer", s.peerPublicKey), logger.String("direction", string(s.direction)))
	}
}

// State returns the saga's current state.
func (s *Saga) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PeerPublicKey returns the remote peer's base64 signing public key.
func (s *Saga) PeerPublicKey() string { return s.peerPublicKey }

// Direction reports whether this is the incoming or outgoing leg.
func (s *Saga) Direction() envelope.Direction { return s.direction }

// SetOnStateChanged installs the state-transition observer, replacing any
// previous one. Invocations are serialized and never reentrant with the
// mutation that produced them (§9 callback safety).
func (s *Saga) SetOnStateChanged(fn func(from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChanged = fn
}

// SetOnMessage installs the decrypted-message observer, replacing any
// previous one.
func (s *Saga) SetOnMessage(fn func(text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// EphemeralPublicKeyBase64 returns this saga's ephemeral key-agreement
// public key, base64-encoded. Production code never needs this directly
// (the step functions embed it in outgoing envelopes themselves); it exists
// for callers — tests, primarily — that need to derive a matching shared
// key from the other side of the exchange.
func (s *Saga) EphemeralPublicKeyBase64() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ephemeral.PublicKeyBase64()
}

// Aborted reports whether Abort has been called.
func (s *Saga) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *Saga) transitionLocked(to State) {
	from := s.state
	s.state = to
	now := time.Now()
	if !s.stateEnteredAt.IsZero() {
		metrics.StepDuration.WithLabelValues(string(s.direction), from.String()).Observe(now.Sub(s.stateEnteredAt).Seconds())
	}
	s.stateEnteredAt = now
	metrics.SagaTransitions.WithLabelValues(string(s.direction), to.String()).Inc()
	s.log.Debug("saga: state transition",
		logger.String("peer", s.peerPublicKey),
		logger.String("direction", string(s.direction)),
		logger.String("from", from.String()),
		logger.String("to", to.String()))
	if s.onStateChanged != nil {
		cb := s.onStateChanged
		s.enqueue(func() { cb(from, to) })
	}
}

// Open (re)starts the handshake from the given state (§4.1.5). It is
// re-entrant: calling it while a prior run is in flight tears down that
// run's media objects (breaking their callback references first, per §9
// "cyclic references") and starts a fresh one, retaining the ephemeral
// key-agreement pair but discarding any derived shared key and cached ICE
// candidates.
func (s *Saga) Open(ctx context.Context, initial State) error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	if s.waitCh != nil {
		ch := s.waitCh
		s.waitCh = nil
		if s.deadlineTimer != nil {
			s.deadlineTimer.Stop()
			s.deadlineTimer = nil
		}
		select {
		case ch <- errRestarted:
		default:
		}
	}
	oldPC := s.pc
	oldSend := s.sendChan
	oldRecv := s.recvChan
	s.pc = nil
	s.sendChan = nil
	s.recvChan = nil
	s.iceQueue = nil
	s.box = nil
	s.mu.Unlock()

	killPeerConnection(oldPC)
	killDataChannel(oldSend)
	killDataChannel(oldRecv)

	pc, err := s.provider.NewPeerConnection(ctx, s.iceServers)
	if err != nil {
		return fmt.Errorf("saga: new peer connection: %w", err)
	}
	label := fmt.Sprintf("%d:%s:%s", s.clock.NowMillis(), s.direction, s.peerPublicKey)
	sendCh, err := pc.CreateDataChannel(label)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("saga: create data channel: %w", err)
	}

	pc.SetOnICECandidate(func(evt media.ICECandidateEvent) { s.handleLocalICECandidate(gen, evt) })
	pc.SetOnDataChannel(func(evt media.DataChannelEvent) { s.handleRemoteDataChannel(gen, evt) })
	sendCh.SetOnOpen(func() { s.handleDataChannelOpen(gen, sendCh) })
	sendCh.SetOnMessage(func(evt media.MessageEvent) { s.handleMessage(gen, evt) })

	s.mu.Lock()
	if s.gen != gen {
		// Superseded by a concurrent Open/Abort while we were constructing
		// media objects; abandon this attempt.
		s.mu.Unlock()
		_ = pc.Close()
		return nil
	}
	s.pc = pc
	s.sendChan = sendCh
	s.transitionLocked(initial)
	s.mu.Unlock()

	go s.runFrom(gen, initial)
	return nil
}

// Abort (§4.1.7) tears down media objects, transitions to Closed, and
// permanently silences further onStateChanged/onMessage invocations.
// Calling Abort more than once, or on an already-closed saga, is a no-op.
func (s *Saga) Abort() {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	s.gen++
	if s.waitCh != nil {
		ch := s.waitCh
		s.waitCh = nil
		if s.deadlineTimer != nil {
			s.deadlineTimer.Stop()
			s.deadlineTimer = nil
		}
		select {
		case ch <- errRestarted:
		default:
		}
	}
	s.state = Closed
	pc := s.pc
	send := s.sendChan
	recv := s.recvChan
	s.pc = nil
	s.sendChan = nil
	s.recvChan = nil
	notifyCh := s.notifyCh
	s.mu.Unlock()

	metrics.SagaAborts.WithLabelValues(string(s.direction)).Inc()
	s.log.Info("saga: abort", logger.String("peer", s.peerPublicKey), logger.String("direction", string(s.direction)))

	killPeerConnection(pc)
	killDataChannel(send)
	killDataChannel(recv)
	close(notifyCh)
}

func killPeerConnection(pc media.PeerConnection) {
	if pc == nil {
		return
	}
	pc.SetOnICECandidate(nil)
	pc.SetOnDataChannel(nil)
	_ = pc.Close()
}

func killDataChannel(dc media.DataChannel) {
	if dc == nil {
		return
	}
	dc.SetOnOpen(nil)
	dc.SetOnMessage(nil)
	_ = dc.Close()
}

func (s *Saga) handleLocalICECandidate(gen uint64, evt media.ICECandidateEvent) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if evt.Candidate == nil {
		s.mu.Unlock()
		s.log.Debug("saga: ice gathering complete", logger.String("peer", s.peerPublicKey))
		return
	}
	box := s.box
	self := s.self
	peer := s.peerPublicKey
	direction := s.direction
	ephemeralB64 := s.ephemeral.PublicKeyBase64()
	s.mu.Unlock()

	if box == nil {
		s.log.Warn("saga: local ice candidate gathered before encryption established, dropping")
		return
	}

	cand := envelope.ICECandidate{Candidate: evt.Candidate.Candidate, SDPMLineIndex: evt.Candidate.SDPMLineIndex, SDPMid: evt.Candidate.SDPMid}
	if evt.Candidate.UsernameFragment != "" {
		uf := evt.Candidate.UsernameFragment
		cand.UsernameFragment = &uf
	}
	encrypted, err := envelope.EncryptICECandidate(box, cand)
	if err != nil {
		s.log.Error("saga: encrypt local ice candidate failed", logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.stepDeadline)
	defer cancel()
	if err := s.signalingClient.ICE(ctx, self, peer, ephemeralB64, encrypted, direction); err != nil {
		s.log.Warn("saga: send local ice candidate failed", logger.Error(err))
	}
}

func (s *Saga) handleRemoteDataChannel(gen uint64, evt media.DataChannelEvent) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.recvChan = evt.Channel
	s.mu.Unlock()

	evt.Channel.SetOnOpen(func() { s.handleDataChannelOpen(gen, evt.Channel) })
	evt.Channel.SetOnMessage(func(me media.MessageEvent) { s.handleMessage(gen, me) })
}

// handleDataChannelOpen advances AwaitingConnection -> Connected (§4.1.6).
// An open event for a superseded generation or arriving outside
// AwaitingConnection (e.g. after Abort/Closed, §4.1.3 scenario 5) belongs to
// a channel this saga no longer considers current: close it immediately
// rather than transition state.
func (s *Saga) handleDataChannelOpen(gen uint64, ch media.DataChannel) {
	s.mu.Lock()
	if s.gen != gen || s.state != AwaitingConnection {
		state := s.state
		s.mu.Unlock()
		s.log.Debug("saga: late data channel open, closing",
			logger.String("peer", s.peerPublicKey), logger.String("state", state.String()))
		_ = ch.Close()
		return
	}
	s.mu.Unlock()
	_ = s.Continue()
}

func (s *Saga) handleMessage(gen uint64, evt media.MessageEvent) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if !evt.IsBinary || evt.Data == nil {
		s.mu.Unlock()
		metrics.NonByteMessagesDropped.Inc()
		s.log.Warn("saga: dropped non-byte data channel payload", logger.String("peer", s.peerPublicKey))
		return
	}
	box := s.box
	cb := s.onMessage
	s.mu.Unlock()

	if box == nil {
		s.log.Warn("saga: message received before encryption established, dropping")
		return
	}
	text, err := envelope.DecryptMessage(box, evt.Data)
	if err != nil {
		s.log.Warn("saga: decrypt message failed", logger.Error(err))
		return
	}
	if cb != nil {
		s.enqueue(func() { cb(text) })
	}
}

func (s *Saga) detectRelay(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	pc := s.pc
	direction := s.direction
	s.mu.Unlock()
	if pc == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats, err := pc.GetStats(ctx)
	if err != nil {
		s.log.Debug("saga: get stats failed", logger.Error(err))
		return
	}
	local, ok := stats.SelectedLocalCandidate()
	if !ok {
		return
	}
	if local.CandidateType == "relay" {
		metrics.RelayCandidatesSelected.WithLabelValues(string(direction)).Inc()
		s.log.Warn(fmt.Sprintf("Using relay server %s", local.Address),
			logger.String("peer", s.peerPublicKey), logger.String("address", local.Address))
	}
}

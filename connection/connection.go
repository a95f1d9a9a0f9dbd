// Package connection implements the duplex coordinator (§4.2): a per-peer
// façade that owns one incoming and one outgoing saga, projects their two
// independent state machines into a single ConnectionState, and multiplexes
// a single send/receive message API over whichever saga is connected.
package connection

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/internal/logger"
	"github.com/sage-x-project/sage-rtc/internal/metrics"
	"github.com/sage-x-project/sage-rtc/media"
	"github.com/sage-x-project/sage-rtc/saga"
	"github.com/sage-x-project/sage-rtc/signaling"
	"github.com/sage-x-project/sage-rtc/timeservice"
)

// State is the derived, user-visible connection state (§3).
type State int

const (
	New State = iota
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case New:
		return "New"
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config constructs a Connection.
type Config struct {
	// PeerPublicKey is the remote peer's base64 signing public key.
	PeerPublicKey string
	// Identity signs the best-effort `close` envelope emitted by Close.
	Identity *sagecrypto.PeerIdentity

	Provider        media.Provider
	SignalingClient signaling.Client

	Clock        timeservice.Clock
	Logger       logger.Logger
	ICEServers   []string
	StepDeadline time.Duration
}

// Connection owns the incoming and outgoing sagas for one peer (§4.2).
type Connection struct {
	mu sync.Mutex

	peerPublicKey   string
	identity        *sagecrypto.PeerIdentity
	signalingClient signaling.Client
	clock           timeservice.Clock
	log             logger.Logger

	incoming *saga.Saga
	outgoing *saga.Saga

	openedAt *int64
	lastProgress int

	onProgress     func(percent int)
	onStateChanged func(from, to State)
	onMessage      func(text string)
}

// New builds a Connection with fresh incoming and outgoing sagas, both in
// State New. Call OpenOutgoing or OpenIncoming to start a handshake.
func New(cfg Config) (*Connection, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = timeservice.NewSystem()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NoOp()
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("connection: identity is required")
	}

	incoming, err := saga.NewSaga(saga.Config{
		PeerPublicKey:   cfg.PeerPublicKey,
		Self:            cfg.Identity.PublicKeyBase64(),
		Direction:       envelope.DirectionIncoming,
		Provider:        cfg.Provider,
		SignalingClient: cfg.SignalingClient,
		Clock:           clock,
		Logger:          log,
		ICEServers:      cfg.ICEServers,
		StepDeadline:    cfg.StepDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("connection: new incoming saga: %w", err)
	}
	outgoing, err := saga.NewSaga(saga.Config{
		PeerPublicKey:   cfg.PeerPublicKey,
		Self:            cfg.Identity.PublicKeyBase64(),
		Direction:       envelope.DirectionOutgoing,
		Provider:        cfg.Provider,
		SignalingClient: cfg.SignalingClient,
		Clock:           clock,
		Logger:          log,
		ICEServers:      cfg.ICEServers,
		StepDeadline:    cfg.StepDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("connection: new outgoing saga: %w", err)
	}

	c := &Connection{
		peerPublicKey:   cfg.PeerPublicKey,
		identity:        cfg.Identity,
		signalingClient: cfg.SignalingClient,
		clock:           clock,
		log:             log,
		incoming:        incoming,
		outgoing:        outgoing,
	}

	incoming.SetOnStateChanged(func(from, to saga.State) { c.handleSagaStateChanged(envelope.DirectionIncoming, from, to) })
	outgoing.SetOnStateChanged(func(from, to saga.State) { c.handleSagaStateChanged(envelope.DirectionOutgoing, from, to) })
	incoming.SetOnMessage(func(text string) { c.handleSagaMessage(text) })
	outgoing.SetOnMessage(func(text string) { c.handleSagaMessage(text) })

	return c, nil
}

// PeerPublicKey returns the remote peer's base64 signing public key.
func (c *Connection) PeerPublicKey() string { return c.peerPublicKey }

// Incoming returns the incoming-direction saga, for callers that need
// direct access (dispatch routes envelopes to it, tests assert on it).
func (c *Connection) Incoming() *saga.Saga { return c.incoming }

// Outgoing returns the outgoing-direction saga.
func (c *Connection) Outgoing() *saga.Saga { return c.outgoing }

// SetOnProgress installs the progress observer (§4.2), replacing any
// previous one.
func (c *Connection) SetOnProgress(fn func(percent int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProgress = fn
}

// SetOnStateChanged installs the aggregate-state observer.
func (c *Connection) SetOnStateChanged(fn func(from, to State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChanged = fn
}

// SetOnMessage installs the message observer, fed by whichever saga fires
// first (§4.2 "forwards onMessage from whichever saga fires").
func (c *Connection) SetOnMessage(fn func(text string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// State computes the aggregate ConnectionState from the two sagas' current
// states, per the rule in §3: Closed wins if either saga is Closed; else
// Open if either is Connected; else New only if both are New; else
// Connecting.
func (c *Connection) State() State {
	return aggregate(c.incoming.State(), c.outgoing.State())
}

func aggregate(in, out saga.State) State {
	if in == saga.Closed || out == saga.Closed {
		return Closed
	}
	if in == saga.Connected || out == saga.Connected {
		return Open
	}
	if in == saga.New && out == saga.New {
		return New
	}
	return Connecting
}

// OpenedAt returns the Unix-millisecond timestamp at which the connection
// first reached Open, or ok=false if it never has.
func (c *Connection) OpenedAt() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openedAt == nil {
		return 0, false
	}
	return *c.openedAt, true
}

// OpenOutgoing drives the incoming saga from AwaitDial and the outgoing
// saga from SendDial, in parallel (§4.2): a symmetric race, since the
// untrusted signaling relay gives neither peer a reliable way to elect an
// initiator. Whichever side reaches Connected first wins; the other
// continues driving or times out naturally.
func (c *Connection) OpenOutgoing(ctx context.Context) error {
	return c.openBoth(ctx, saga.AwaitDial, saga.SendDial)
}

// OpenIncoming drives the incoming saga from SendOffer and the outgoing
// saga from SendDial, in parallel (§4.2) — used when a dial for this peer
// arrived before a local Connection existed for them.
func (c *Connection) OpenIncoming(ctx context.Context) error {
	return c.openBoth(ctx, saga.SendOffer, saga.SendDial)
}

func (c *Connection) openBoth(ctx context.Context, incomingInitial, outgoingInitial saga.State) error {
	var incErr, outErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		incErr = c.incoming.Open(ctx, incomingInitial)
	}()
	go func() {
		defer wg.Done()
		outErr = c.outgoing.Open(ctx, outgoingInitial)
	}()
	wg.Wait()
	if incErr != nil {
		return fmt.Errorf("connection: open incoming: %w", incErr)
	}
	if outErr != nil {
		return fmt.Errorf("connection: open outgoing: %w", outErr)
	}
	return nil
}

// Send selects the saga currently in Connected (incoming preferred when
// both are, §4.2) and writes the message to it. Returns an error if
// neither saga is connected.
func (c *Connection) Send(ctx context.Context, text string) error {
	var target *saga.Saga
	if c.incoming.State() == saga.Connected {
		target = c.incoming
	} else if c.outgoing.State() == saga.Connected {
		target = c.outgoing
	}
	if target == nil {
		return fmt.Errorf("connection: no connected saga to send on")
	}
	if err := target.Send(ctx, text); err != nil {
		return err
	}
	if strings.TrimSpace(text) != "" {
		metrics.MessagesSent.Inc()
	}
	return nil
}

// Close aborts both sagas and best-effort emits a signed `close` envelope
// to the peer via the signaling client; transport errors are logged and
// swallowed (§4.2 "best effort").
func (c *Connection) Close(ctx context.Context) {
	c.incoming.Abort()
	c.outgoing.Abort()
	metrics.ConnectionsClosed.Inc()

	// The concrete signaling.Client is responsible for signing the outgoing
	// envelope (wsclient.Client.send does so using its own identity); this
	// call is best-effort and its failure does not surface (§4.2).
	if err := c.signalingClient.Close(ctx, c.identity.PublicKeyBase64(), c.peerPublicKey); err != nil {
		c.log.Warn("connection: send close envelope failed", logger.Error(err), logger.String("peer", c.peerPublicKey))
	}
}

func (c *Connection) handleSagaStateChanged(direction envelope.Direction, from, to saga.State) {
	other := c.otherState(direction)
	var prevAggregate, newAggregate State
	if direction == envelope.DirectionIncoming {
		prevAggregate = aggregate(from, other)
		newAggregate = aggregate(to, other)
	} else {
		prevAggregate = aggregate(other, from)
		newAggregate = aggregate(other, to)
	}

	c.mu.Lock()
	if newAggregate == Open && c.openedAt == nil {
		now := c.clock.NowMillis()
		c.openedAt = &now
		metrics.ConnectionsOpened.Inc()
	}
	stateCb := c.onStateChanged
	progressCb := c.onProgress
	c.mu.Unlock()

	if stateCb != nil && prevAggregate != newAggregate {
		func() {
			defer c.recoverCallback("onStateChanged")
			stateCb(prevAggregate, newAggregate)
		}()
	}

	percent := progressPercent(c.incoming.State(), c.outgoing.State())
	c.mu.Lock()
	changed := percent != c.lastProgress
	c.lastProgress = percent
	c.mu.Unlock()
	if changed {
		metrics.ConnectionProgress.Observe(float64(percent))
		if progressCb != nil {
			func() {
				defer c.recoverCallback("onProgress")
				progressCb(percent)
			}()
		}
	}
}

func (c *Connection) otherState(direction envelope.Direction) saga.State {
	if direction == envelope.DirectionIncoming {
		return c.outgoing.State()
	}
	return c.incoming.State()
}

// progressPercent implements §4.2's onProgress formula: min(100,
// ceil(max(inState, outState) * 100 / Connected)), states ordered by their
// enum position.
func progressPercent(in, out saga.State) int {
	maxOrdinal := in.Ordinal()
	if out.Ordinal() > maxOrdinal {
		maxOrdinal = out.Ordinal()
	}
	denom := float64(saga.Connected.Ordinal())
	pct := math.Ceil(float64(maxOrdinal) * 100 / denom)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return int(pct)
}

func (c *Connection) handleSagaMessage(text string) {
	metrics.MessagesReceived.Inc()
	c.mu.Lock()
	cb := c.onMessage
	c.mu.Unlock()
	if cb != nil {
		func() {
			defer c.recoverCallback("onMessage")
			cb(text)
		}()
	}
}

func (c *Connection) recoverCallback(name string) {
	if r := recover(); r != nil {
		c.log.Error("connection: observer callback panicked, swallowing",
			logger.String("callback", name), logger.Any("panic", r))
	}
}

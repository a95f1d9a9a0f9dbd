// Package wsclient is the concrete signaling.Client implementation backing
// the cmd/sage-rtc demo: a persistent gorilla
// websocket connection to an untrusted relay, carrying signed
// envelope.CallEnvelope frames. Adapted from the teacher's
// pkg/agent/transport/websocket client — same dial/reconnect/read-loop
// shape, restructured around fire-and-forget envelope delivery instead of
// a request/response RPC.
package wsclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/internal/logger"
	"github.com/sage-x-project/sage-rtc/timeservice"
)

// Client is a websocket-backed signaling.Client.
type Client struct {
	url    string
	self   *sagecrypto.PeerIdentity
	clock  timeservice.Clock
	log    logger.Logger
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	envelopes chan *envelope.CallEnvelope
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithDialTimeout overrides the default 30s websocket handshake timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialer.HandshakeTimeout = d }
}

// WithLogger installs a structured logger; defaults to logger.NoOp().
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a websocket signaling client for identity `self`, talking to
// the relay at `url`. Dial/Offer/Answer/ICE/Close call Connect themselves
// if no relay connection is open yet.
func New(url string, self *sagecrypto.PeerIdentity, clock timeservice.Clock, opts ...Option) *Client {
	c := &Client{
		url:       url,
		self:      self,
		clock:     clock,
		log:       logger.NoOp(),
		dialer:    &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		envelopes: make(chan *envelope.CallEnvelope, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the relay and starts the inbound read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("wsclient: dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("wsclient: dial failed: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.closeEnvelopes()
	for {
		var env envelope.CallEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("wsclient: read error", logger.Field{Key: "error", Value: err.Error()})
			}
			return
		}
		select {
		case c.envelopes <- &env:
		default:
			c.log.Warn("wsclient: envelope channel full, dropping", logger.Field{Key: "kind", Value: string(env.A)})
		}
	}
}

func (c *Client) closeEnvelopes() {
	c.closeOnce.Do(func() { close(c.envelopes) })
}

// Envelopes implements signaling.Client.
func (c *Client) Envelopes() <-chan *envelope.CallEnvelope {
	return c.envelopes
}

func (c *Client) send(ctx context.Context, kind envelope.Kind, body envelope.Body) error {
	body.Sender = c.self.PublicKeyBase64()
	body.Timestamp = c.clock.NowMillis()

	env, err := envelope.Sign(c.self, kind, body)
	if err != nil {
		return fmt.Errorf("wsclient: sign %s envelope: %w", kind, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(env); err != nil {
		return logger.NewSageError(logger.ErrCodeTransportError,
			fmt.Sprintf("wsclient: write %s envelope", kind), err)
	}
	return nil
}

// Dial implements signaling.Client.
func (c *Client) Dial(ctx context.Context, from, to, ephemeralPubBase64 string) error {
	return c.send(ctx, envelope.KindDial, envelope.Body{Recipient: to, EphemeralPub: ephemeralPubBase64})
}

// Offer implements signaling.Client.
func (c *Client) Offer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error {
	return c.send(ctx, envelope.KindOffer, envelope.Body{Recipient: to, EphemeralPub: ephemeralPubBase64, EncryptedBody: encryptedSDP})
}

// Answer implements signaling.Client.
func (c *Client) Answer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error {
	return c.send(ctx, envelope.KindAnswer, envelope.Body{Recipient: to, EphemeralPub: ephemeralPubBase64, EncryptedBody: encryptedSDP})
}

// ICE implements signaling.Client.
func (c *Client) ICE(ctx context.Context, from, to, ephemeralPubBase64, encryptedCandidate string, source envelope.Direction) error {
	return c.send(ctx, envelope.KindIce, envelope.Body{Recipient: to, EphemeralPub: ephemeralPubBase64, EncryptedBody: encryptedCandidate, Source: source})
}

// Close implements signaling.Client.
func (c *Client) Close(ctx context.Context, from, to string) error {
	return c.send(ctx, envelope.KindClose, envelope.Body{Recipient: to})
}

// Shutdown closes the underlying websocket connection.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Package fake is a hand-written in-package test double for the media
// Provider/PeerConnection/DataChannel contracts (§6.2), in the style of the
// teacher's tests/testutil fakes rather than a generated mock — the saga,
// connection and dispatch test suites drive one side of a handshake with
// it, feeding the remote side's inputs by hand, without a real WebRTC stack.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/sage-x-project/sage-rtc/media"
)

// Provider is a media.Provider that hands out FakePeerConnections and
// counts how many it has constructed — used by tests asserting exactly how
// many PeerConnection instances a saga built across timeout/restart cycles
// (§8 scenario 2).
type Provider struct {
	mu          sync.Mutex
	Created     int
	connections []*PeerConnection

	// NewConnErr, if set, is returned by the next NewPeerConnection call
	// instead of a connection (simulates a TransportError, §7).
	NewConnErr error
}

func (p *Provider) NewPeerConnection(ctx context.Context, iceServers []string) (media.PeerConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NewConnErr != nil {
		err := p.NewConnErr
		p.NewConnErr = nil
		return nil, err
	}
	p.Created++
	pc := &PeerConnection{id: p.Created, iceServers: iceServers}
	p.connections = append(p.connections, pc)
	return pc, nil
}

// Last returns the most recently constructed PeerConnection, or nil if none
// has been built yet — used by tests asserting on the saga's current media
// objects across Open()/restart cycles.
func (p *Provider) Last() *PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.connections) == 0 {
		return nil
	}
	return p.connections[len(p.connections)-1]
}

// PeerConnection is a fake media.PeerConnection. All mutator methods are
// synchronous no-ops that record their inputs; tests drive the interesting
// behavior (opening channels, firing ICE candidates, reporting stats)
// explicitly via the exported Fire*/Set* helpers below.
type PeerConnection struct {
	mu sync.Mutex

	id         int
	iceServers []string
	closed     bool

	remoteDesc *media.SessionDescription
	localDesc  *media.SessionDescription

	sentCandidates []media.ICECandidate
	stats          media.Stats
	lastChannel    *DataChannel

	onICECandidate func(media.ICECandidateEvent)
	onDataChannel  func(media.DataChannelEvent)

	// SetRemoteDescriptionErr/CreateOfferErr/CreateAnswerErr/AddICEErr, if
	// set, are returned once by the corresponding method (simulates a
	// TransportError from the media provider, §7).
	SetRemoteDescriptionErr error
	CreateOfferErr          error
	CreateAnswerErr         error
	AddICEErr               error
}

func (c *PeerConnection) ID() int { return c.id }

func (c *PeerConnection) CreateDataChannel(label string) (media.DataChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := NewDataChannel(label)
	c.lastChannel = ch
	return ch, nil
}

// LastDataChannel returns the most recently created DataChannel, or nil if
// none has been created yet.
func (c *PeerConnection) LastDataChannel() *DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChannel
}

func (c *PeerConnection) CreateOffer(ctx context.Context) (media.SessionDescription, error) {
	if c.CreateOfferErr != nil {
		err := c.CreateOfferErr
		c.CreateOfferErr = nil
		return media.SessionDescription{}, err
	}
	return media.SessionDescription{Type: "offer", SDP: fmt.Sprintf("fake-offer-%d", c.id)}, nil
}

func (c *PeerConnection) CreateAnswer(ctx context.Context) (media.SessionDescription, error) {
	if c.CreateAnswerErr != nil {
		err := c.CreateAnswerErr
		c.CreateAnswerErr = nil
		return media.SessionDescription{}, err
	}
	return media.SessionDescription{Type: "answer", SDP: fmt.Sprintf("fake-answer-%d", c.id)}, nil
}

func (c *PeerConnection) SetLocalDescription(ctx context.Context, desc media.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := desc
	c.localDesc = &d
	return nil
}

func (c *PeerConnection) SetRemoteDescription(ctx context.Context, desc media.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetRemoteDescriptionErr != nil {
		err := c.SetRemoteDescriptionErr
		c.SetRemoteDescriptionErr = nil
		return err
	}
	d := desc
	c.remoteDesc = &d
	return nil
}

func (c *PeerConnection) RemoteDescription() *media.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDesc
}

func (c *PeerConnection) AddICECandidate(ctx context.Context, cand media.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AddICEErr != nil {
		err := c.AddICEErr
		c.AddICEErr = nil
		return err
	}
	c.sentCandidates = append(c.sentCandidates, cand)
	return nil
}

// AppliedCandidates returns the candidates passed to AddICECandidate, in
// call order — used to assert FIFO drain ordering (§8 scenario 3).
func (c *PeerConnection) AppliedCandidates() []media.ICECandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.ICECandidate, len(c.sentCandidates))
	copy(out, c.sentCandidates)
	return out
}

func (c *PeerConnection) GetStats(ctx context.Context) (media.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats, nil
}

// SetStats installs the stats GetStats will report — tests use this to
// simulate relay-vs-direct candidate selection (§8 scenario 4).
func (c *PeerConnection) SetStats(s media.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = s
}

func (c *PeerConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *PeerConnection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *PeerConnection) SetOnICECandidate(fn func(media.ICECandidateEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICECandidate = fn
}

func (c *PeerConnection) SetOnDataChannel(fn func(media.DataChannelEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDataChannel = fn
}

// FireICECandidate simulates the media provider discovering a local
// candidate (or, with cand=nil, signaling gathering-complete).
func (c *PeerConnection) FireICECandidate(cand *media.ICECandidate) {
	c.mu.Lock()
	fn := c.onICECandidate
	c.mu.Unlock()
	if fn != nil {
		fn(media.ICECandidateEvent{Candidate: cand})
	}
}

// FireDataChannel simulates the remote peer opening a data channel on this
// connection (the saga's ondatachannel handler, §4.1.6).
func (c *PeerConnection) FireDataChannel(ch media.DataChannel) {
	c.mu.Lock()
	fn := c.onDataChannel
	c.mu.Unlock()
	if fn != nil {
		fn(media.DataChannelEvent{Channel: ch})
	}
}

// DataChannel is a fake media.DataChannel. Send records outgoing payloads;
// tests wire two DataChannels' Sent/Deliver together (or call Deliver
// directly) to simulate a real wire round trip.
type DataChannel struct {
	mu sync.Mutex

	label      string
	id         int
	readyState media.ReadyState
	sent       [][]byte
	closed     bool

	onOpen    func()
	onMessage func(media.MessageEvent)

	// SendErr, if set, is returned once by the next Send call.
	SendErr error
}

func NewDataChannel(label string) *DataChannel {
	return &DataChannel{label: label, readyState: media.StateConnecting}
}

func (d *DataChannel) Label() string               { return d.label }
func (d *DataChannel) ID() int                      { return d.id }
func (d *DataChannel) ReadyState() media.ReadyState { d.mu.Lock(); defer d.mu.Unlock(); return d.readyState }

func (d *DataChannel) Send(ctx context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendErr != nil {
		err := d.SendErr
		d.SendErr = nil
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	d.sent = append(d.sent, cp)
	return nil
}

// Sent returns every payload passed to Send, in order.
func (d *DataChannel) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *DataChannel) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.readyState = media.StateClosed
	return nil
}

func (d *DataChannel) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *DataChannel) SetOnOpen(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = fn
}

func (d *DataChannel) SetOnMessage(fn func(media.MessageEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = fn
}

// Open simulates the underlying transport's open event firing.
func (d *DataChannel) Open() {
	d.mu.Lock()
	d.readyState = media.StateOpen
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deliver simulates a message arriving on the wire for this channel.
func (d *DataChannel) Deliver(data []byte, isBinary bool) {
	d.mu.Lock()
	fn := d.onMessage
	d.mu.Unlock()
	if fn != nil {
		fn(media.MessageEvent{Data: data, IsBinary: isBinary})
	}
}

// Package media defines the minimal WebRTC-like contract (§6.2) the saga
// state machine drives: a Provider that produces PeerConnection and
// DataChannel objects. Concrete providers (a real WebRTC binding, or the
// in-memory Fake* pair used by tests) live outside this package; saga only
// ever depends on these interfaces.
package media

import "context"

// ReadyState mirrors a DataChannel's readyState.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

// ICECandidate is the subset of a gathered candidate's fields the saga cares
// about (§4.1.6): these are exactly the fields serialized into an `ice`
// envelope body.
type ICECandidate struct {
	Candidate        string
	SDPMLineIndex    *int
	SDPMid           *string
	UsernameFragment string
}

// ICECandidateEvent is delivered to OnICECandidate. A nil Candidate signals
// "gathering complete" (§4.1.6): informational only, never forwarded to the
// signaling client.
type ICECandidateEvent struct {
	Candidate *ICECandidate
}

// SessionDescription is the minimal offer/answer shape the saga exchanges
// with the media Provider.
type SessionDescription struct {
	Type string
	SDP  string
}

// DataChannelEvent is delivered to OnDataChannel when the remote peer opens
// a channel on this PeerConnection.
type DataChannelEvent struct {
	Channel DataChannel
}

// MessageEvent is delivered to a DataChannel's OnMessage handler. Data is
// nil (and IsBinary false) when the arriving payload was not a byte buffer
// (§4.1.6 "non-byte payloads are logged at warn and dropped" — the saga,
// not this package, applies that rule by checking IsBinary).
type MessageEvent struct {
	Data     []byte
	IsBinary bool
}

// CandidatePairStats is the minimal shape of getStats()'s selected
// candidate-pair lookup (§6.2, §4.1.2 relay detection).
type CandidatePairStats struct {
	LocalCandidateID string
}

// LocalCandidateStats is the referenced local candidate entry.
type LocalCandidateStats struct {
	CandidateType string // "host" | "srflx" | "prflx" | "relay"
	Address       string
}

// Stats is the getStats() result: enough to locate the selected
// candidate-pair and its local candidate (§6.2).
type Stats struct {
	SelectedCandidatePair *CandidatePairStats
	LocalCandidates       map[string]LocalCandidateStats // keyed by candidate id
}

// SelectedLocalCandidate resolves the selected local candidate, or ok=false
// if stats don't (yet) have one — e.g. before ICE has converged.
func (s Stats) SelectedLocalCandidate() (LocalCandidateStats, bool) {
	if s.SelectedCandidatePair == nil {
		return LocalCandidateStats{}, false
	}
	c, ok := s.LocalCandidates[s.SelectedCandidatePair.LocalCandidateID]
	return c, ok
}

// DataChannel is the minimal data-channel contract (§6.2).
type DataChannel interface {
	Label() string
	ID() int
	ReadyState() ReadyState
	Send(ctx context.Context, data []byte) error
	Close() error

	// SetOnOpen/SetOnMessage install handlers, replacing any previous one.
	// Passing nil clears the handler — used by abort() to break retention
	// (§9 "Cyclic references").
	SetOnOpen(func())
	SetOnMessage(func(MessageEvent))
}

// PeerConnection is the minimal peer-connection contract (§6.2).
type PeerConnection interface {
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error
	AddICECandidate(ctx context.Context, cand ICECandidate) error
	GetStats(ctx context.Context) (Stats, error)
	Close() error

	// RemoteDescription is nil until SetRemoteDescription has succeeded
	// once (§4.1.4 setDescription no-op check).
	RemoteDescription() *SessionDescription

	SetOnICECandidate(func(ICECandidateEvent))
	SetOnDataChannel(func(DataChannelEvent))
}

// Provider is the abstract factory (§6.2) producing PeerConnections. A
// saga asks its Provider for a fresh PeerConnection every time open()
// (re)builds its media objects (§4.1.5).
type Provider interface {
	NewPeerConnection(ctx context.Context, iceServers []string) (PeerConnection, error)
}

// Package signaling defines the untrusted-relay transport contract (§6.3):
// opaque envelope delivery addressed by peer public key, plus an inbound
// stream of parsed envelopes. The application reads the inbound stream and
// hands each envelope to dispatch.Router.Dispatch; saga and connection only
// ever call the outbound Client methods.
package signaling

import (
	"context"

	"github.com/sage-x-project/sage-rtc/envelope"
)

// Client is the signaling transport contract (§6.3). Every call is
// awaitable; transport failures are surfaced to the caller as TransportError
// (§7), never swallowed.
type Client interface {
	Dial(ctx context.Context, from, to, ephemeralPubBase64 string) error
	Offer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error
	Answer(ctx context.Context, from, to, ephemeralPubBase64, encryptedSDP string) error
	ICE(ctx context.Context, from, to, ephemeralPubBase64, encryptedCandidate string, source envelope.Direction) error
	Close(ctx context.Context, from, to string) error

	// Envelopes returns a channel of inbound, already-signed envelopes
	// addressed to this peer. The channel is closed when the client's
	// underlying transport connection is closed.
	Envelopes() <-chan *envelope.CallEnvelope
}

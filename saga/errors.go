package saga

import "errors"

// Error taxonomy (§7). These are sentinel kinds, not concrete types: callers
// use errors.Is against them.
var (
	// ErrNoWaitArmed is an InvalidState error: continue() was called with
	// no Await* wait currently blocked.
	ErrNoWaitArmed = errors.New("saga: no wait armed")

	// ErrEncryptionNotSet is an InvalidState error: setDescription/send/
	// addIceCandidate was called before setEncryption.
	ErrEncryptionNotSet = errors.New("saga: shared key not established")

	// ErrClosed is an InvalidState error: a mutator was called after abort.
	ErrClosed = errors.New("saga: saga is closed")

	// ErrNoPeerConnection is an InvalidState error: a PeerConnection was
	// accessed before open().
	ErrNoPeerConnection = errors.New("saga: no active peer connection, call Open first")

	// errRestarted is the internal value delivered to an armed wait when
	// Open() is called again mid-handshake (§4.1.5): the old step-table
	// run is abandoned, not failed toward New.
	errRestarted = errors.New("saga: restarted by a new open()")

	// errStepTimeout is the internal value delivered to an armed wait when
	// its deadline elapses (§4.1.3): a TransientTimeout, handled locally.
	errStepTimeout = errors.New("saga: step deadline expired")
)

package saga

import (
	"context"
	"fmt"
	"strings"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/internal/logger"
	"github.com/sage-x-project/sage-rtc/internal/metrics"
	"github.com/sage-x-project/sage-rtc/media"
)

// SetEncryption derives the SharedSymmetricKey (§3, §4.1.4) from this
// saga's ephemeral secret and the peer's ephemeral public key, received in
// a dial/offer/answer envelope. It does not advance the state machine;
// callers typically follow it with Continue() while AwaitingDial.
func (s *Saga) SetEncryption(remoteEphemeralPubBase64 string) error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return ErrClosed
	}
	ephemeral := s.ephemeral
	s.mu.Unlock()

	key, err := ephemeral.DeriveSharedKey(remoteEphemeralPubBase64)
	if err != nil {
		return fmt.Errorf("saga: derive shared key: %w", err)
	}
	box, err := sagecrypto.NewBox(key)
	if err != nil {
		return fmt.Errorf("saga: build symmetric box: %w", err)
	}

	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return ErrClosed
	}
	s.box = box
	s.mu.Unlock()
	return nil
}

// SetDescription decrypts and applies a remote offer/answer (§4.1.4). It is
// a no-op if a remote description is already set, and drains any ICE
// candidates cached by AddICECandidate in FIFO order on success.
func (s *Saga) SetDescription(ctx context.Context, encryptedBase64 string) error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return ErrClosed
	}
	box, pc := s.box, s.pc
	s.mu.Unlock()
	if box == nil {
		return ErrEncryptionNotSet
	}
	if pc == nil {
		return ErrNoPeerConnection
	}

	if pc.RemoteDescription() != nil {
		s.log.Debug("saga: setDescription no-op, remote description already set", logger.String("peer", s.peerPublicKey))
		return nil
	}

	desc, err := envelope.DecryptSessionDescription(box, encryptedBase64)
	if err != nil {
		return fmt.Errorf("saga: decrypt session description: %w", err)
	}
	if err := pc.SetRemoteDescription(ctx, media.SessionDescription{Type: string(desc.Type), SDP: desc.SDP}); err != nil {
		return fmt.Errorf("saga: set remote description: %w", err)
	}

	s.drainICEQueue(ctx, pc)
	return nil
}

func (s *Saga) drainICEQueue(ctx context.Context, pc media.PeerConnection) {
	s.mu.Lock()
	queue := s.iceQueue
	s.iceQueue = nil
	direction := s.direction
	s.mu.Unlock()
	if len(queue) == 0 {
		return
	}

	for _, cand := range queue {
		if err := pc.AddICECandidate(ctx, cand); err != nil {
			s.log.Warn("saga: apply cached ice candidate failed", logger.Error(err))
		}
	}
	metrics.IceCandidatesDrained.WithLabelValues(string(direction)).Add(float64(len(queue)))
}

// AddICECandidate decrypts and applies a remote ICE candidate (§4.1.4). If
// the remote description has not been set yet, the candidate is cached and
// applied once SetDescription succeeds.
func (s *Saga) AddICECandidate(ctx context.Context, encryptedBase64 string) error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return ErrClosed
	}
	box, pc, direction := s.box, s.pc, s.direction
	s.mu.Unlock()
	if box == nil {
		return ErrEncryptionNotSet
	}
	if pc == nil {
		return ErrNoPeerConnection
	}

	cand, err := envelope.DecryptICECandidate(box, encryptedBase64)
	if err != nil {
		return fmt.Errorf("saga: decrypt ice candidate: %w", err)
	}
	mc := media.ICECandidate{Candidate: cand.Candidate, SDPMLineIndex: cand.SDPMLineIndex, SDPMid: cand.SDPMid}
	if cand.UsernameFragment != nil {
		mc.UsernameFragment = *cand.UsernameFragment
	}

	if pc.RemoteDescription() == nil {
		s.mu.Lock()
		s.iceQueue = append(s.iceQueue, mc)
		s.mu.Unlock()
		metrics.IceCandidatesCached.WithLabelValues(string(direction)).Inc()
		return nil
	}
	return pc.AddICECandidate(ctx, mc)
}

// Send encrypts and writes a text message to the active send data channel
// (§4.1.4). Blank (post-trim) messages are silently ignored; transport
// errors are logged and swallowed rather than propagated, matching the
// teacher's fire-and-forget messaging style.
func (s *Saga) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		s.log.Debug("saga: send called with blank text, ignoring", logger.String("peer", s.peerPublicKey))
		return nil
	}

	s.mu.Lock()
	box, ch := s.box, s.sendChan
	s.mu.Unlock()
	if box == nil {
		return ErrEncryptionNotSet
	}
	if ch == nil {
		return ErrNoPeerConnection
	}

	sealed, err := envelope.EncryptMessage(box, trimmed)
	if err != nil {
		return fmt.Errorf("saga: encrypt message: %w", err)
	}
	if err := ch.Send(ctx, sealed); err != nil {
		s.log.Warn("saga: send failed, swallowing", logger.Error(err))
		return nil
	}
	return nil
}

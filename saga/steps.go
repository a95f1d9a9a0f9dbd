package saga

import (
	"context"
	"errors"
	"time"

	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/internal/logger"
	"github.com/sage-x-project/sage-rtc/internal/metrics"
)

// runFrom drives the step table (§4.1.2) starting at the given state until
// a step reports it is done (the handshake reached Connected, or reset to
// New after a timeout/error/restart).
func (s *Saga) runFrom(gen uint64, state State) {
	for {
		next, done := s.step(gen, state)
		if done {
			return
		}
		state = next
	}
}

func (s *Saga) step(gen uint64, state State) (State, bool) {
	switch state {
	case AwaitDial:
		return s.stepAwaitDial(gen)
	case SendDial:
		return s.stepSendDial(gen)
	case AwaitOffer:
		return s.stepAwaitOffer(gen)
	case SendOffer:
		return s.stepSendOffer(gen)
	case AwaitAnswer:
		return s.stepAwaitAnswer(gen)
	case SendAnswer:
		return s.stepSendAnswer(gen)
	case AwaitConnection:
		return s.stepAwaitConnection(gen)
	default:
		return New, true
	}
}

// awaitContinue arms a wait, entering waitingState, and blocks until
// Continue() resolves it (err == nil), the step deadline elapses
// (errStepTimeout), or a concurrent Open()/Abort() abandons this run
// (errRestarted).
func (s *Saga) awaitContinue(gen uint64, waitingState State) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return errRestarted
	}
	s.transitionLocked(waitingState)
	ch := make(chan error, 1)
	s.waitCh = ch
	if s.deadlineTimer != nil {
		s.deadlineTimer.Stop()
	}
	s.deadlineTimer = time.AfterFunc(s.stepDeadline, func() { s.resolveWait(gen, ch, errStepTimeout) })
	s.mu.Unlock()

	return <-ch
}

func (s *Saga) resolveWait(gen uint64, ch chan error, err error) {
	s.mu.Lock()
	if s.gen != gen || s.waitCh != ch {
		s.mu.Unlock()
		return
	}
	s.waitCh = nil
	s.deadlineTimer = nil
	s.mu.Unlock()
	select {
	case ch <- err:
	default:
	}
}

// Continue unblocks whichever Await* wait is currently armed (§4.1.3). It
// returns ErrNoWaitArmed if none is.
func (s *Saga) Continue() error {
	s.mu.Lock()
	ch := s.waitCh
	if ch == nil {
		s.mu.Unlock()
		return ErrNoWaitArmed
	}
	s.waitCh = nil
	if s.deadlineTimer != nil {
		s.deadlineTimer.Stop()
		s.deadlineTimer = nil
	}
	s.mu.Unlock()
	select {
	case ch <- nil:
	default:
	}
	return nil
}

// transitionIfCurrentGen transitions to `to` only if gen still matches the
// saga's current generation (i.e. no concurrent Open/Abort superseded this
// run). It reports whether the transition was applied.
func (s *Saga) transitionIfCurrentGen(gen uint64, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.transitionLocked(to)
	return true
}

// handleWaitFailure classifies an awaitContinue error and returns the next
// step-table state: both TransientTimeout and an abandoned restart reset
// the run to New and stop the loop (§4.1.3, §4.1.5).
func (s *Saga) handleWaitFailure(gen uint64, fromState State, err error) (State, bool) {
	if errors.Is(err, errRestarted) {
		return New, true
	}
	s.mu.Lock()
	if s.gen == gen {
		metrics.SagaTimeouts.WithLabelValues(string(s.direction), fromState.String()).Inc()
		s.log.Warn("saga: step deadline expired, resetting to New",
			logger.String("peer", s.peerPublicKey), logger.String("state", fromState.String()))
		s.transitionLocked(New)
	}
	s.mu.Unlock()
	return New, true
}

// doActiveStep runs an async step: enters sendingState, performs work, and
// on success transitions through sentState to nextState. A work error or a
// superseding generation resets the saga to New (§7 TransportError).
func (s *Saga) doActiveStep(gen uint64, sendingState, sentState, nextState State, work func(ctx context.Context) error) (State, bool) {
	if !s.transitionIfCurrentGen(gen, sendingState) {
		return New, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.stepDeadline)
	defer cancel()
	err := work(ctx)

	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.log.Warn("saga: active step failed, resetting to New",
				logger.String("peer", s.peerPublicKey), logger.String("state", sendingState.String()), logger.Error(err))
			s.transitionLocked(New)
		}
		s.mu.Unlock()
		return New, true
	}

	if !s.transitionIfCurrentGen(gen, sentState) {
		return New, true
	}
	if !s.transitionIfCurrentGen(gen, nextState) {
		return New, true
	}
	return nextState, false
}

func (s *Saga) stepAwaitDial(gen uint64) (State, bool) {
	if err := s.awaitContinue(gen, AwaitingDial); err != nil {
		return s.handleWaitFailure(gen, AwaitDial, err)
	}
	if !s.transitionIfCurrentGen(gen, DialAccepted) {
		return New, true
	}
	return SendOffer, false
}

func (s *Saga) stepSendDial(gen uint64) (State, bool) {
	return s.doActiveStep(gen, SendingDial, DialSent, AwaitOffer, func(ctx context.Context) error {
		return s.signalingClient.Dial(ctx, s.self, s.peerPublicKey, s.ephemeral.PublicKeyBase64())
	})
}

func (s *Saga) stepAwaitOffer(gen uint64) (State, bool) {
	if err := s.awaitContinue(gen, AwaitingOffer); err != nil {
		return s.handleWaitFailure(gen, AwaitOffer, err)
	}
	if !s.transitionIfCurrentGen(gen, OfferReceived) {
		return New, true
	}
	return SendAnswer, false
}

func (s *Saga) stepSendOffer(gen uint64) (State, bool) {
	return s.doActiveStep(gen, SendingOffer, OfferSent, AwaitAnswer, func(ctx context.Context) error {
		s.mu.Lock()
		pc, box := s.pc, s.box
		s.mu.Unlock()
		if pc == nil {
			return ErrNoPeerConnection
		}
		if box == nil {
			return ErrEncryptionNotSet
		}

		offer, err := pc.CreateOffer(ctx)
		if err != nil {
			return err
		}
		if err := pc.SetLocalDescription(ctx, offer); err != nil {
			return err
		}
		encSDP, err := envelope.EncryptSessionDescription(box, envelope.SessionDescription{Type: envelope.SDPTypeOffer, SDP: offer.SDP})
		if err != nil {
			return err
		}
		return s.signalingClient.Offer(ctx, s.self, s.peerPublicKey, s.ephemeral.PublicKeyBase64(), encSDP)
	})
}

func (s *Saga) stepAwaitAnswer(gen uint64) (State, bool) {
	if err := s.awaitContinue(gen, AwaitingAnswer); err != nil {
		return s.handleWaitFailure(gen, AwaitAnswer, err)
	}
	if !s.transitionIfCurrentGen(gen, AnswerReceived) {
		return New, true
	}
	if !s.transitionIfCurrentGen(gen, AwaitConnection) {
		return New, true
	}
	return AwaitConnection, false
}

func (s *Saga) stepSendAnswer(gen uint64) (State, bool) {
	return s.doActiveStep(gen, SendingAnswer, AnswerSent, AwaitConnection, func(ctx context.Context) error {
		s.mu.Lock()
		pc, box := s.pc, s.box
		s.mu.Unlock()
		if pc == nil {
			return ErrNoPeerConnection
		}
		if box == nil {
			return ErrEncryptionNotSet
		}

		answer, err := pc.CreateAnswer(ctx)
		if err != nil {
			return err
		}
		if err := pc.SetLocalDescription(ctx, answer); err != nil {
			return err
		}
		encSDP, err := envelope.EncryptSessionDescription(box, envelope.SessionDescription{Type: envelope.SDPTypeAnswer, SDP: answer.SDP})
		if err != nil {
			return err
		}
		return s.signalingClient.Answer(ctx, s.self, s.peerPublicKey, s.ephemeral.PublicKeyBase64(), encSDP)
	})
}

func (s *Saga) stepAwaitConnection(gen uint64) (State, bool) {
	if err := s.awaitContinue(gen, AwaitingConnection); err != nil {
		return s.handleWaitFailure(gen, AwaitConnection, err)
	}
	if !s.transitionIfCurrentGen(gen, Connected) {
		return New, true
	}
	s.detectRelay(gen)
	return Connected, true
}

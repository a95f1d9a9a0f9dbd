// Package dispatch routes inbound signaling envelopes to the saga that
// should act on them (§4.3): parse, verify signature, check freshness,
// then hand off by envelope kind. Handlers that cannot act yet (a saga not
// created, or not at the right step) are retried on a fixed cadence until
// they succeed or are superseded by a newer envelope of the same kind.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	sagecrypto "github.com/sage-x-project/sage-rtc/crypto"
	"github.com/sage-x-project/sage-rtc/envelope"
	"github.com/sage-x-project/sage-rtc/internal/logger"
	"github.com/sage-x-project/sage-rtc/internal/metrics"
	"github.com/sage-x-project/sage-rtc/saga"
	"github.com/sage-x-project/sage-rtc/timeservice"
)

// DefaultRetryInterval is the fixed cadence (§4.3) a pending envelope is
// retried at.
const DefaultRetryInterval = 500 * time.Millisecond

// DefaultMaxSkew bounds how far an envelope's timestamp may diverge from
// the local time service before it's rejected as stale (§4.3, §6.4).
const DefaultMaxSkew = 30 * time.Second

// Config constructs a Router.
type Config struct {
	Registry *Registry
	Clock    timeservice.Clock
	Logger   logger.Logger

	// RetryInterval defaults to DefaultRetryInterval.
	RetryInterval time.Duration
	// MaxSkew defaults to DefaultMaxSkew.
	MaxSkew time.Duration
}

// Router is the dispatcher (§4.3): Dispatch feeds it inbound envelopes
// (typically read off a signaling.Client's Envelopes() channel by the
// caller), and it owns a background retry loop for handlers that could not
// act immediately.
type Router struct {
	registry      *Registry
	clock         timeservice.Clock
	log           logger.Logger
	retryInterval time.Duration
	maxSkew       time.Duration

	sf singleflight.Group

	mu      sync.Mutex
	pending map[string]*pendingEnvelope

	stopCh chan struct{}
	doneCh chan struct{}
}

type pendingEnvelope struct {
	id  string
	env *envelope.CallEnvelope
}

// pendingKey groups retries so a newer envelope of the same kind/sender
// (and, for ice, the same source direction) supersedes an older one still
// waiting to be retried (§9 open question: retry cadence is fixed, not
// exponential; superseding is the only de-dup rule specified).
func pendingKey(body *envelope.Body, kind envelope.Kind) string {
	if kind == envelope.KindIce {
		return fmt.Sprintf("%s|%s|%s", kind, body.Sender, body.Source)
	}
	return fmt.Sprintf("%s|%s", kind, body.Sender)
}

// NewRouter builds a Router and starts its retry loop.
func NewRouter(cfg Config) *Router {
	clock := cfg.Clock
	if clock == nil {
		clock = timeservice.NewSystem()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NoOp()
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}

	r := &Router{
		registry:      cfg.Registry,
		clock:         clock,
		log:           log,
		retryInterval: retryInterval,
		maxSkew:       maxSkew,
		pending:       make(map[string]*pendingEnvelope),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go r.retryLoop()
	return r
}

// Stop terminates the retry loop. Safe to call once.
func (r *Router) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// PendingCount reports how many envelopes are currently queued for retry —
// exposed for tests and for internal/metrics.RetryQueueDepth callers that
// poll rather than push.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Dispatch verifies and routes a single inbound envelope (§4.3). A
// malformed body or bad signature/timestamp is dropped, never retried. A
// handler that cannot act yet is enqueued for retry.
func (r *Router) Dispatch(ctx context.Context, env *envelope.CallEnvelope) error {
	body, err := r.verify(env)
	if err != nil {
		reason := dropReason(err)
		metrics.EnvelopesDropped.WithLabelValues(reason).Inc()
		r.log.Warn("dispatch: dropping envelope", logger.String("kind", string(env.A)), logger.Error(err))
		return logger.NewSageError(errCodeForDropReason(reason), "dispatch: envelope verification failed", err)
	}

	if err := r.route(ctx, env.A, body); err != nil {
		if errors.Is(err, errNotReady) {
			r.enqueueRetry(env, body)
			return nil
		}
		r.log.Warn("dispatch: handler error, dropping",
			logger.String("kind", string(env.A)), logger.String("sender", body.Sender), logger.Error(err))
		metrics.EnvelopesDropped.WithLabelValues("handler_error").Inc()
		return logger.NewSageError(logger.ErrCodeInternal, "dispatch: handler error", err)
	}

	metrics.EnvelopesDispatched.WithLabelValues(string(env.A)).Inc()
	r.clearPending(pendingKey(body, env.A))
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, envelope.ErrInvalidSignature):
		return "bad_signature"
	case errors.Is(err, envelope.ErrStaleTimestamp):
		return "stale"
	default:
		return "malformed"
	}
}

// errCodeForDropReason maps a drop reason to the SageError code reported to
// Dispatch's caller: a forged/unparseable signature is a crypto failure, a
// stale timestamp is a timeout-shaped failure (the envelope aged out), and
// anything else is a validation failure in the body's shape.
func errCodeForDropReason(reason string) string {
	switch reason {
	case "bad_signature":
		return logger.ErrCodeCryptoError
	case "stale":
		return logger.ErrCodeTimeout
	default:
		return logger.ErrCodeValidationError
	}
}

// verify unmarshals the envelope's body to learn the claimed sender (a
// self-certifying identity: the sender field IS the public key that must
// have produced the signature), resolves a verifier for that key's
// algorithm, checks the signature, and checks freshness.
func (r *Router) verify(env *envelope.CallEnvelope) (*envelope.Body, error) {
	claimed, err := peekSender(env)
	if err != nil {
		return nil, fmt.Errorf("dispatch: peek sender: %w", err)
	}
	pubBytes, err := sagecrypto.DecodeBase64(claimed)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode sender public key: %w", err)
	}
	alg, err := sagecrypto.GuessAlgorithm(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("dispatch: guess sender algorithm: %w", err)
	}
	verifier, err := sagecrypto.VerifierFromPublicKey(alg, pubBytes)
	if err != nil {
		return nil, fmt.Errorf("dispatch: build verifier: %w", err)
	}

	body, err := envelope.Verify(env, verifier)
	if err != nil {
		return nil, err
	}
	if err := envelope.CheckFreshness(body, r.clock.NowMillis(), r.maxSkew.Milliseconds()); err != nil {
		return nil, err
	}
	return body, nil
}

func peekSender(env *envelope.CallEnvelope) (string, error) {
	raw, err := sagecrypto.DecodeBase64(env.B)
	if err != nil {
		return "", err
	}
	var peek struct {
		Sender string `json:"sender"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return "", err
	}
	if peek.Sender == "" {
		return "", fmt.Errorf("dispatch: envelope body missing sender")
	}
	return peek.Sender, nil
}

// route implements the per-kind handoff (§4.3). It returns errNotReady
// when the saga the envelope targets isn't ready to act yet.
func (r *Router) route(ctx context.Context, kind envelope.Kind, body *envelope.Body) error {
	switch kind {
	case envelope.KindDial:
		return r.routeDial(ctx, body)
	case envelope.KindOffer:
		return r.routeOffer(ctx, body)
	case envelope.KindAnswer:
		return r.routeAnswer(ctx, body)
	case envelope.KindIce:
		return r.routeICE(ctx, body)
	case envelope.KindClose:
		return r.routeClose(body)
	default:
		return fmt.Errorf("dispatch: unknown envelope kind %q", kind)
	}
}

// routeDial locates or creates the incoming saga for the dialing sender
// (§4.3). A brand-new connection has no AwaitDial/AwaitingDial wait armed
// yet to satisfy with Continue — it already has everything it needs
// (the peer's ephemeral public key) to skip straight to sending an offer,
// so it is opened via OpenIncoming instead. A connection we already know
// about (we dialed first, or a prior dial already created it) is sitting
// in AwaitingDial and is unblocked with Continue, exactly as spec'd.
func (r *Router) routeDial(ctx context.Context, body *envelope.Body) error {
	conn, isNew, err := r.registry.GetOrCreate(body.Sender)
	if err != nil {
		return fmt.Errorf("dispatch: create connection for dial: %w", err)
	}
	if err := conn.Incoming().SetEncryption(body.EphemeralPub); err != nil {
		return fmt.Errorf("dispatch: set encryption on dial: %w", err)
	}
	if isNew {
		if err := conn.OpenIncoming(ctx); err != nil {
			return fmt.Errorf("dispatch: open incoming on dial: %w", err)
		}
		return nil
	}
	if err := conn.Incoming().Continue(); err != nil {
		if errors.Is(err, saga.ErrNoWaitArmed) {
			return errNotReady
		}
		return err
	}
	return nil
}

// routeOffer hands an inbound offer to the receiver's outgoing saga: the
// offer was sent by the peer's incoming saga (stepSendOffer), and on our
// side it's our outgoing saga (the one we started with SendDial when we
// dialed them) that is waiting in AwaitOffer for this exact envelope
// (saga/steps.go stepSendDial -> AwaitOffer; spec.md scenario 1).
func (r *Router) routeOffer(ctx context.Context, body *envelope.Body) error {
	conn, ok := r.registry.Get(body.Sender)
	if !ok {
		return errNotReady
	}
	if err := conn.Outgoing().SetEncryption(body.EphemeralPub); err != nil {
		return fmt.Errorf("dispatch: set encryption on offer: %w", err)
	}
	if err := conn.Outgoing().SetDescription(ctx, body.EncryptedBody); err != nil {
		return fmt.Errorf("dispatch: set description on offer: %w", err)
	}
	if err := conn.Outgoing().Continue(); err != nil {
		if errors.Is(err, saga.ErrNoWaitArmed) {
			return errNotReady
		}
		return err
	}
	return nil
}

// routeAnswer hands an inbound answer to the receiver's incoming saga: it
// was our incoming saga that sent the offer (stepSendOffer -> AwaitAnswer)
// and is waiting for this exact envelope to unblock it.
func (r *Router) routeAnswer(ctx context.Context, body *envelope.Body) error {
	conn, ok := r.registry.Get(body.Sender)
	if !ok {
		return errNotReady
	}
	if err := conn.Incoming().SetDescription(ctx, body.EncryptedBody); err != nil {
		return fmt.Errorf("dispatch: set description on answer: %w", err)
	}
	if err := conn.Incoming().Continue(); err != nil {
		if errors.Is(err, saga.ErrNoWaitArmed) {
			return errNotReady
		}
		return err
	}
	return nil
}

// routeICE feeds a candidate tagged with the sender's `source` direction
// into the receiving saga of the *opposite* direction (§9 open question,
// §4.3): an ice emitted by the peer's incoming saga must be fed to our
// outgoing saga, and vice versa.
func (r *Router) routeICE(ctx context.Context, body *envelope.Body) error {
	conn, ok := r.registry.Get(body.Sender)
	if !ok {
		return errNotReady
	}
	target := conn.Outgoing()
	if body.Source.Opposite() == envelope.DirectionIncoming {
		target = conn.Incoming()
	}
	if err := target.AddICECandidate(ctx, body.EncryptedBody); err != nil {
		if errors.Is(err, saga.ErrEncryptionNotSet) {
			return errNotReady
		}
		return fmt.Errorf("dispatch: add ice candidate: %w", err)
	}
	return nil
}

func (r *Router) routeClose(body *envelope.Body) error {
	conn, ok := r.registry.Get(body.Sender)
	if !ok {
		return nil
	}
	conn.Incoming().Abort()
	conn.Outgoing().Abort()
	return nil
}

func (r *Router) enqueueRetry(env *envelope.CallEnvelope, body *envelope.Body) {
	key := pendingKey(body, env.A)
	r.mu.Lock()
	r.pending[key] = &pendingEnvelope{id: uuid.NewString(), env: env}
	depth := len(r.pending)
	r.mu.Unlock()
	metrics.EnvelopesRequeued.WithLabelValues(string(env.A)).Inc()
	metrics.RetryQueueDepth.Set(float64(depth))
	r.log.Debug("dispatch: enqueued for retry", logger.String("kind", string(env.A)), logger.String("sender", body.Sender))
}

func (r *Router) clearPending(key string) {
	r.mu.Lock()
	delete(r.pending, key)
	depth := len(r.pending)
	r.mu.Unlock()
	metrics.RetryQueueDepth.Set(float64(depth))
}

func (r *Router) retryLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.retryOnce()
		}
	}
}

func (r *Router) retryOnce() {
	r.mu.Lock()
	batch := make([]*pendingEnvelope, 0, len(r.pending))
	for _, pe := range r.pending {
		batch = append(batch, pe)
	}
	r.mu.Unlock()

	for _, pe := range batch {
		pe := pe
		// singleflight de-dups a retry attempt that overlaps with a fresh
		// Dispatch call for the same envelope arriving concurrently
		// (§SPEC_FULL domain-stack wiring, mirroring the teacher's
		// handshake.Server sf.Do pattern).
		_, err, _ := r.sf.Do(pe.id, func() (interface{}, error) {
			err := r.Dispatch(context.Background(), pe.env)
			return nil, err
		})
		if err != nil {
			// Dispatch already logged why it dropped the envelope (stale,
			// bad signature, handler failure); stop retrying this entry.
			r.mu.Lock()
			for key, cur := range r.pending {
				if cur.id == pe.id {
					delete(r.pending, key)
				}
			}
			depth := len(r.pending)
			r.mu.Unlock()
			metrics.RetryQueueDepth.Set(float64(depth))
		}
	}
}

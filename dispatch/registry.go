package dispatch

import (
	"sync"

	"github.com/sage-x-project/sage-rtc/connection"
)

// ConnectionFactory builds a fresh Connection for a newly-seen peer. The
// dispatcher calls it exactly once per peer, the first time that peer's
// `dial` arrives with no existing Connection (§4.3 "locate or create an
// incoming saga for the sender").
type ConnectionFactory func(peerPublicKey string) (*connection.Connection, error)

// Registry is the concurrent peer->Connection map dispatch routes
// envelopes against, double-checked-put in the style of the teacher's
// session.Manager (session/manager.go EnsureSessionWithParams).
type Registry struct {
	mu      sync.RWMutex
	byPeer  map[string]*connection.Connection
	factory ConnectionFactory
}

// NewRegistry builds an empty Registry. factory is used by GetOrCreate to
// build a Connection for a peer seen for the first time.
func NewRegistry(factory ConnectionFactory) *Registry {
	return &Registry{
		byPeer:  make(map[string]*connection.Connection),
		factory: factory,
	}
}

// Get returns the existing Connection for a peer, if any.
func (r *Registry) Get(peerPublicKey string) (*connection.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byPeer[peerPublicKey]
	return c, ok
}

// Put registers a Connection the caller constructed itself (e.g. a user
// explicitly dialing a peer), so dispatch can route replies to it.
func (r *Registry) Put(peerPublicKey string, c *connection.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPeer[peerPublicKey] = c
}

// Delete removes a peer's Connection, e.g. once the user removes the peer
// (§3 "A Connection is deleted externally when the user removes the peer").
func (r *Registry) Delete(peerPublicKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPeer, peerPublicKey)
}

// GetOrCreate returns the existing Connection for a peer, or builds one via
// the factory if none exists yet. The second return reports whether a new
// Connection was built.
func (r *Registry) GetOrCreate(peerPublicKey string) (*connection.Connection, bool, error) {
	r.mu.RLock()
	if c, ok := r.byPeer[peerPublicKey]; ok {
		r.mu.RUnlock()
		return c, false, nil
	}
	r.mu.RUnlock()

	c, err := r.factory(peerPublicKey)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byPeer[peerPublicKey]; ok {
		return existing, false, nil
	}
	r.byPeer[peerPublicKey] = c
	return c, true, nil
}

// All returns a snapshot of every registered Connection.
func (r *Registry) All() []*connection.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*connection.Connection, 0, len(r.byPeer))
	for _, c := range r.byPeer {
		out = append(out, c)
	}
	return out
}

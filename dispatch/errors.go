package dispatch

import "errors"

// errNotReady signals that a handler cannot act on an envelope yet — e.g.
// an offer arrived before its matching dial created the saga (§4.3). The
// envelope is enqueued for retry rather than dropped.
var errNotReady = errors.New("dispatch: handler not ready")

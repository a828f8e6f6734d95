package core

import (
	"errors"

	"github.com/dkeye/ring/internal/domain"
)

// ErrNotConnected is returned by Send while the signaling channel is not
// open. Callers surface it as a non-fatal error; nothing is queued.
var ErrNotConnected = errors.New("signaling channel not connected")

// SignalConn abstracts the client side of the signaling transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConn interface {
	Send(domain.Signal) error
	Close()
}

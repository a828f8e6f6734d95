package call

import (
	"github.com/dkeye/ring/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// NegotiationRole says which side of the offer/answer exchange we took for
// a given peer.
type NegotiationRole int

const (
	RoleNone NegotiationRole = iota
	RoleOfferer
	RoleAnswerer
)

// PeerEntry is one remote participant's connection state. Candidates that
// arrive before the remote description are buffered here in receipt order.
type PeerEntry struct {
	id      string
	conn    core.MediaConnection
	role    NegotiationRole
	pending []webrtc.ICECandidateInit
}

func (e *PeerEntry) Conn() core.MediaConnection { return e.conn }
func (e *PeerEntry) Role() NegotiationRole      { return e.role }
func (e *PeerEntry) Buffered() int              { return len(e.pending) }

// BufferCandidate appends a candidate for later application.
func (e *PeerEntry) BufferCandidate(ci webrtc.ICECandidateInit) {
	e.pending = append(e.pending, ci)
}

// FlushCandidates applies every buffered candidate in receipt order. The
// buffer is cleared either way: on failure the error is returned and the
// remaining candidates are dropped, never retried.
func (e *PeerEntry) FlushCandidates() error {
	pending := e.pending
	e.pending = nil
	for _, ci := range pending {
		if err := e.conn.AddICECandidate(ci); err != nil {
			return &NegotiationError{Peer: e.id, Op: "flush candidate", Err: err}
		}
	}
	return nil
}

// Registry holds one PeerEntry per live participant of the current call.
// It is owned by the Coordinator loop and needs no locking of its own.
type Registry struct {
	peers map[string]*PeerEntry
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*PeerEntry)}
}

// Create registers a peer entry. Callers must check Has first: creating the
// same id twice would leak the first connection handle.
func (r *Registry) Create(id string, conn core.MediaConnection, role NegotiationRole) *PeerEntry {
	e := &PeerEntry{id: id, conn: conn, role: role}
	r.peers[id] = e
	log.Debug().Str("module", "call.registry").Str("peer", id).Msg("peer created")
	return e
}

func (r *Registry) Get(id string) (*PeerEntry, bool) {
	e, ok := r.peers[id]
	return e, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.peers[id]
	return ok
}

func (r *Registry) Len() int { return len(r.peers) }

// Destroy closes the peer's connection and discards buffered candidates.
// A no-op for an absent id.
func (r *Registry) Destroy(id string) {
	e, ok := r.peers[id]
	if !ok {
		return
	}
	delete(r.peers, id)
	e.pending = nil
	e.conn.Close()
	log.Debug().Str("module", "call.registry").Str("peer", id).Msg("peer destroyed")
}

// DestroyAll tears down every entry; used when the call ends.
func (r *Registry) DestroyAll() {
	for id := range r.peers {
		r.Destroy(id)
	}
}

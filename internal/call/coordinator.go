// Package call implements the client side of the call-signaling protocol:
// the call session state machine, per-peer connection bookkeeping with ICE
// candidate buffering, and the dispatch of inbound signaling messages.
package call

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/ring/internal/core"
	"github.com/dkeye/ring/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Status is a read-only snapshot of the coordinator, taken on its own loop.
type Status struct {
	Phase        domain.Phase
	CallID       string
	Participants []string
	IncomingFrom string
	LastError    string
}

// Coordinator drives the call state machine. All state mutation happens on
// a single event loop: inbound signals, local operations and media-transport
// callbacks post events that are handled to completion in arrival order.
type Coordinator struct {
	session *Session
	peers   *Registry

	conn    core.SignalConn
	media   core.MediaFactory
	capture core.MediaProvider
	source  core.MediaSource

	onTrack func(peer string, track *webrtc.TrackRemote)

	ctx    context.Context
	events chan func()
	done   chan struct{}

	mu      sync.RWMutex
	lastErr string
}

func NewCoordinator(self string, media core.MediaFactory, capture core.MediaProvider) *Coordinator {
	return &Coordinator{
		session: NewSession(self),
		peers:   NewRegistry(),
		media:   media,
		capture: capture,
		ctx:     context.Background(),
		events:  make(chan func(), 64),
		done:    make(chan struct{}),
	}
}

// SetSignaler attaches the outbound signaling transport. Must be called
// before Run.
func (c *Coordinator) SetSignaler(conn core.SignalConn) { c.conn = conn }

// OnRemoteTrack sets a callback fired when a remote participant's media
// track arrives. Called from the media transport's goroutine.
func (c *Coordinator) OnRemoteTrack(fn func(peer string, track *webrtc.TrackRemote)) {
	c.onTrack = fn
}

// Run consumes events until ctx is cancelled. Each event runs to
// completion before the next is taken.
func (c *Coordinator) Run(ctx context.Context) {
	c.ctx = ctx
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			ev()
		}
	}
}

// post enqueues one event for the loop. Events are processed strictly in
// arrival order.
func (c *Coordinator) post(ev func()) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// HandleSignalData decodes one raw inbound message from the transport and
// posts it to the loop. Malformed messages are logged and dropped.
func (c *Coordinator) HandleSignalData(data []byte) {
	var sig domain.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("bad signal json")
		return
	}
	c.post(func() { c.handleSignal(sig) })
}

// Initiate starts an outgoing call to target.
func (c *Coordinator) Initiate(target string) { c.post(func() { c.initiate(target) }) }

// Accept answers the currently held incoming invite.
func (c *Coordinator) Accept() { c.post(func() { c.accept() }) }

// Reject declines the currently held incoming invite.
func (c *Coordinator) Reject(reason string) { c.post(func() { c.reject(reason) }) }

// AddParticipant invites another user into the active call.
func (c *Coordinator) AddParticipant(username string) {
	c.post(func() { c.addParticipant(username) })
}

// EndCall leaves the call, notifying every participant.
func (c *Coordinator) EndCall() { c.post(func() { c.endCall() }) }

// Snapshot returns the coordinator state as seen by its own loop.
func (c *Coordinator) Snapshot() Status {
	ch := make(chan Status, 1)
	c.post(func() { ch <- c.snapshot() })
	select {
	case st := <-ch:
		return st
	case <-c.done:
		return c.snapshot()
	}
}

func (c *Coordinator) snapshot() Status {
	st := Status{
		Phase:        c.session.Phase(),
		CallID:       c.session.CallID(),
		Participants: c.session.Participants(),
		LastError:    c.LastError(),
	}
	if inc := c.session.Incoming(); inc != nil {
		st.IncomingFrom = inc.From
	}
	return st
}

// LastError returns the latest user-facing error message, if any.
func (c *Coordinator) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Coordinator) setError(msg string) {
	log.Warn().Str("module", "call").Str("error", msg).Msg("call error")
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *Coordinator) clearError() {
	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
}

// send pushes one outbound signal. Transport failures are surfaced through
// the latest-error field and reported to the caller; nothing is queued.
func (c *Coordinator) send(sig domain.Signal) error {
	sig.From = c.session.Self()
	if err := c.conn.Send(sig); err != nil {
		log.Error().Err(err).Str("module", "call").Str("type", sig.Type).Msg("send failed")
		c.setError("Connection error. Please try again.")
		return err
	}
	return nil
}

// createPeer builds a media connection for one remote participant, wires
// its callbacks into the loop and registers it. Callers must have checked
// that no entry exists for id.
func (c *Coordinator) createPeer(id string, role NegotiationRole) (*PeerEntry, error) {
	mc, err := c.media.NewConnection(id)
	if err != nil {
		return nil, &NegotiationError{Peer: id, Op: "new connection", Err: err}
	}
	if c.source != nil {
		for _, track := range c.source.Tracks() {
			if _, err := mc.AddLocalTrack(track); err != nil {
				mc.Close()
				return nil, &NegotiationError{Peer: id, Op: "add local track", Err: err}
			}
		}
	}
	// Local candidates gathered by the media transport become loop events so
	// they are emitted after the offer/answer they belong to.
	mc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.post(func() { c.sendCandidate(id, ci) })
	})
	mc.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "call").Str("peer", id).Str("kind", track.Kind().String()).Msg("remote track")
		if c.onTrack != nil {
			c.onTrack(id, track)
		}
	})
	mc.OnClosed(func() {
		log.Info().Str("module", "call").Str("peer", id).Msg("media connection closed")
	})
	if err := mc.Start(c.ctx); err != nil {
		mc.Close()
		return nil, &NegotiationError{Peer: id, Op: "start", Err: err}
	}
	return c.peers.Create(id, mc, role), nil
}

// sendCandidate emits one locally gathered ICE candidate. Stale candidates
// from an already-destroyed peer or ended call are dropped here.
func (c *Coordinator) sendCandidate(id string, ci webrtc.ICECandidateInit) {
	if c.session.CallID() == "" || !c.peers.Has(id) {
		return
	}
	raw, err := json.Marshal(ci)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("marshal candidate")
		return
	}
	_ = c.send(domain.Signal{
		Type:      domain.TypeICECandidate,
		Target:    id,
		CallID:    c.session.CallID(),
		Candidate: raw,
	})
}

// acquireMedia lazily grabs the local capture stream.
func (c *Coordinator) acquireMedia() error {
	if c.source != nil {
		return nil
	}
	src, err := c.capture.Acquire(c.ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("media acquisition failed")
		return ErrMediaAcquisition
	}
	c.source = src
	return nil
}

// releaseMedia stops the local capture stream. Safe to call repeatedly;
// this is the only code path that stops the source.
func (c *Coordinator) releaseMedia() {
	if c.source == nil {
		return
	}
	c.source.Stop()
	c.source = nil
}

func marshalSDP(sd *webrtc.SessionDescription) json.RawMessage {
	raw, err := json.Marshal(sd)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Msg("marshal sdp")
		return nil
	}
	return raw
}

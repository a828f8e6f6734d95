package call

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/ring/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// handleSignal routes one inbound message by its type discriminant.
// Exactly one handler per type; unknown types are ignored.
func (c *Coordinator) handleSignal(sig domain.Signal) {
	log.Debug().Str("module", "call").Str("type", sig.Type).Str("from", sig.From).Str("call_id", sig.CallID).Msg("signal")
	switch sig.Type {
	case domain.TypeCallCreated:
		c.handleCallCreated(sig)
	case domain.TypeCallInvite:
		c.handleCallInvite(sig)
	case domain.TypeCallAnswer:
		c.handleCallAnswer(sig)
	case domain.TypeCallRejected:
		c.handleCallRejected(sig)
	case domain.TypeICECandidate:
		c.handleICECandidate(sig)
	case domain.TypeParticipantLeft:
		c.handleParticipantLeft(sig)
	case domain.TypeCallError:
		c.handleCallError(sig)
	default:
		log.Debug().Str("module", "call").Str("type", sig.Type).Msg("unhandled signal type")
	}
}

// initiate starts an outgoing call: acquire media first, then ask the relay
// to create the call. The peer connection waits for call-created.
func (c *Coordinator) initiate(target string) {
	if c.session.Phase() != domain.PhaseIdle {
		c.setError(ErrAlreadyInCall.Error())
		return
	}
	if err := c.acquireMedia(); err != nil {
		c.setError(ErrMediaAcquisition.Error())
		return
	}
	if err := c.send(domain.Signal{Type: domain.TypeCreateCall, Target: target}); err != nil {
		// The attempt is dead; media acquired for it is released exactly once.
		c.releaseMedia()
		return
	}
	c.session.BeginOutbound(target)
	log.Info().Str("module", "call").Str("target", target).Msg("call initiated")
}

// handleCallCreated: the relay confirmed our create-call and assigned the
// call ID. Build the peer connection and send the invite with our offer.
func (c *Coordinator) handleCallCreated(sig domain.Signal) {
	if c.session.Phase() != domain.PhasePendingOutbound || sig.Target != c.session.PendingTarget() {
		log.Warn().Str("module", "call").Str("target", sig.Target).Msg("call-created without matching pending call")
		return
	}
	target := sig.Target
	c.session.Activate(sig.CallID)
	c.session.AddParticipant(target)

	entry, err := c.createPeer(target, RoleOfferer)
	if err != nil {
		c.failOutboundSetup(target, err)
		return
	}
	offer, err := entry.Conn().CreateAndSetOffer()
	if err != nil {
		c.failOutboundSetup(target, &NegotiationError{Peer: target, Op: "create offer", Err: err})
		return
	}
	_ = c.send(domain.Signal{
		Type:   domain.TypeCallInvite,
		Target: target,
		CallID: sig.CallID,
		SDP:    marshalSDP(offer),
	})
}

// failOutboundSetup unwinds a just-activated outgoing call whose first
// negotiation step failed. The remote never saw an invite, so there is
// nothing to signal.
func (c *Coordinator) failOutboundSetup(target string, err error) {
	c.setError("Failed to establish connection")
	log.Error().Err(err).Str("module", "call").Str("peer", target).Msg("outbound setup failed")
	c.peers.Destroy(target)
	c.releaseMedia()
	c.session.Reset()
}

// handleCallInvite: valid in any state. Busy or initiating, we auto-reject;
// otherwise the invite is held for the local accept/reject decision,
// replacing any prior unanswered one.
func (c *Coordinator) handleCallInvite(sig domain.Signal) {
	phase := c.session.Phase()
	if phase == domain.PhaseActive || phase == domain.PhasePendingOutbound {
		reason := ReasonBusy
		if phase == domain.PhasePendingOutbound {
			reason = ReasonInitiating
		}
		_ = c.send(domain.Signal{
			Type:   domain.TypeCallRejected,
			Target: sig.From,
			CallID: sig.CallID,
			Reason: reason,
		})
		return
	}

	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(sig.SDP, &sdp); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("from", sig.From).Msg("invite with bad sdp")
		return
	}
	if prior := c.session.Incoming(); prior != nil {
		log.Info().Str("module", "call").Str("superseded", prior.From).Str("from", sig.From).Msg("incoming invite replaced")
	}
	c.session.SetIncoming(&IncomingOffer{From: sig.From, CallID: sig.CallID, SDP: sdp})
	log.Info().Str("module", "call").Str("from", sig.From).Str("call_id", sig.CallID).Msg("incoming call")
}

// accept answers the held invite: media, peer connection, remote offer,
// buffered candidates, then our answer.
func (c *Coordinator) accept() {
	inc := c.session.Incoming()
	if inc == nil {
		c.setError(ErrNoIncomingCall.Error())
		return
	}
	hadMedia := c.source != nil
	if err := c.acquireMedia(); err != nil {
		c.failAccept(inc, hadMedia)
		return
	}
	entry, err := c.createPeer(inc.From, RoleAnswerer)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Str("peer", inc.From).Msg("accept: create peer")
		c.failAccept(inc, hadMedia)
		return
	}
	answer, err := entry.Conn().ApplyOfferAndCreateAnswer(inc.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "call").Str("peer", inc.From).Msg("accept: apply offer")
		c.peers.Destroy(inc.From)
		c.failAccept(inc, hadMedia)
		return
	}
	if err := entry.FlushCandidates(); err != nil {
		log.Error().Err(err).Str("module", "call").Str("peer", inc.From).Msg("accept: flush candidates")
	}
	c.session.AddParticipant(inc.From)
	c.session.Activate(inc.CallID)
	c.session.ClearIncoming()
	_ = c.send(domain.Signal{
		Type:   domain.TypeCallAnswer,
		Target: inc.From,
		CallID: inc.CallID,
		SDP:    marshalSDP(answer),
	})
	log.Info().Str("module", "call").Str("from", inc.From).Str("call_id", inc.CallID).Msg("call accepted")
}

// failAccept rejects the invite after a local setup failure and returns to
// Idle. Media acquired for this accept is released; media that predated it
// is left alone.
func (c *Coordinator) failAccept(inc *IncomingOffer, hadMedia bool) {
	c.setError("Failed to accept call")
	_ = c.send(domain.Signal{
		Type:   domain.TypeCallRejected,
		Target: inc.From,
		CallID: inc.CallID,
		Reason: ReasonMediaSetup,
	})
	if !hadMedia {
		c.releaseMedia()
	}
	c.session.ClearIncoming()
}

// reject declines the held invite. No other state changes.
func (c *Coordinator) reject(reason string) {
	inc := c.session.Incoming()
	if inc == nil {
		c.setError(ErrNoIncomingCall.Error())
		return
	}
	if reason == "" {
		reason = ReasonDeclined
	}
	_ = c.send(domain.Signal{
		Type:   domain.TypeCallRejected,
		Target: inc.From,
		CallID: inc.CallID,
		Reason: reason,
	})
	c.session.ClearIncoming()
	log.Info().Str("module", "call").Str("from", inc.From).Msg("call rejected")
}

// handleCallAnswer completes our offer toward one peer and flushes the
// candidates that raced ahead of it.
func (c *Coordinator) handleCallAnswer(sig domain.Signal) {
	if c.session.Phase() != domain.PhaseActive {
		log.Warn().Str("module", "call").Str("from", sig.From).Msg("call-answer outside active call")
		return
	}
	entry, ok := c.peers.Get(sig.From)
	if !ok {
		log.Warn().Str("module", "call").Str("from", sig.From).Msg("call-answer for unknown peer")
		return
	}
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(sig.SDP, &sdp); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("from", sig.From).Msg("answer with bad sdp")
		return
	}
	if err := entry.Conn().ApplyAnswer(sdp); err != nil {
		// That peer's connection only; the rest of the call survives.
		negErr := &NegotiationError{Peer: sig.From, Op: "apply answer", Err: err}
		log.Error().Err(negErr).Str("module", "call").Msg("apply answer failed")
		c.setError("Failed to establish connection")
		c.peers.Destroy(sig.From)
		c.session.RemoveParticipant(sig.From)
		return
	}
	if err := entry.FlushCandidates(); err != nil {
		log.Error().Err(err).Str("module", "call").Str("from", sig.From).Msg("flush candidates failed")
		c.setError("Failed to establish connection")
	}
}

// handleCallRejected: a participant (or our sole pending callee) turned us
// down. Expected control flow, not a failure.
func (c *Coordinator) handleCallRejected(sig domain.Signal) {
	phase := c.session.Phase()
	if phase != domain.PhasePendingOutbound && phase != domain.PhaseActive {
		log.Warn().Str("module", "call").Str("from", sig.From).Msg("call-rejected outside call")
		return
	}
	reason := sig.Reason
	if reason == "" {
		reason = "Call rejected"
	}
	c.setError(fmt.Sprintf("%s rejected the call: %s", sig.From, reason))
	c.session.RemoveParticipant(sig.From)
	c.peers.Destroy(sig.From)

	// Only the sole pending outbound target unwinds the whole attempt. An
	// Active call keeps going, even with an empty participant set.
	if phase == domain.PhasePendingOutbound && sig.From == c.session.PendingTarget() {
		c.releaseMedia()
		c.session.Reset()
	}
}

// handleICECandidate applies a remote candidate now if the peer's remote
// description is in place, otherwise buffers it in receipt order.
func (c *Coordinator) handleICECandidate(sig domain.Signal) {
	if sig.CallID == "" {
		log.Warn().Str("module", "call").Msg("ice-candidate without call id")
		return
	}
	if c.session.CallID() == "" || sig.CallID != c.session.CallID() {
		log.Debug().Str("module", "call").Str("call_id", sig.CallID).Msg("ice-candidate for different call")
		return
	}
	entry, ok := c.peers.Get(sig.From)
	if !ok {
		log.Warn().Str("module", "call").Str("from", sig.From).Msg("ice-candidate for unknown peer")
		return
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(sig.Candidate, &ci); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("from", sig.From).Msg("bad candidate payload")
		return
	}
	if entry.Conn().HasRemoteDescription() {
		if err := entry.Conn().AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "call").Str("from", sig.From).Msg("add candidate failed")
			c.setError("Failed to establish connection")
		}
		return
	}
	entry.BufferCandidate(ci)
}

// addParticipant invites another user into the running call.
func (c *Coordinator) addParticipant(username string) {
	if c.session.HasParticipant(username) {
		c.setError(ErrAlreadyParticipant.Error())
		return
	}
	if c.session.CallID() == "" {
		c.setError(ErrNoActiveCall.Error())
		return
	}
	entry, err := c.createPeer(username, RoleOfferer)
	if err != nil {
		c.setError("Failed to add participant")
		log.Error().Err(err).Str("module", "call").Str("peer", username).Msg("add participant")
		return
	}
	offer, err := entry.Conn().CreateAndSetOffer()
	if err != nil {
		c.setError("Failed to add participant")
		log.Error().Err(err).Str("module", "call").Str("peer", username).Msg("add participant: offer")
		c.peers.Destroy(username)
		return
	}
	c.session.AddParticipant(username)
	_ = c.send(domain.Signal{
		Type:   domain.TypeCallInvite,
		Target: username,
		CallID: c.session.CallID(),
		SDP:    marshalSDP(offer),
	})
	log.Info().Str("module", "call").Str("peer", username).Msg("participant invited")
}

// handleParticipantLeft removes one peer; the call stays Active even when
// it empties out. Ending it takes an explicit EndCall.
func (c *Coordinator) handleParticipantLeft(sig domain.Signal) {
	if c.session.Phase() != domain.PhaseActive {
		log.Debug().Str("module", "call").Str("from", sig.From).Msg("participant-left outside active call")
		return
	}
	c.session.RemoveParticipant(sig.From)
	c.peers.Destroy(sig.From)
	log.Info().Str("module", "call").Str("from", sig.From).Msg("participant left")
}

// endCall notifies every participant, tears down every peer and returns to
// Idle with local media released.
func (c *Coordinator) endCall() {
	phase := c.session.Phase()
	if phase != domain.PhaseActive && phase != domain.PhasePendingOutbound {
		c.setError(ErrNoActiveCall.Error())
		return
	}
	for _, p := range c.session.Participants() {
		_ = c.send(domain.Signal{
			Type:   domain.TypeParticipantLeft,
			Target: p,
			CallID: c.session.CallID(),
		})
	}
	c.peers.DestroyAll()
	c.releaseMedia()
	c.session.Reset()
	c.clearError()
	log.Info().Str("module", "call").Msg("call ended")
}

// handleCallError: the relay failed our pending call creation.
func (c *Coordinator) handleCallError(sig domain.Signal) {
	msg := sig.Message
	if msg == "" {
		msg = "Call creation failed"
	}
	c.setError(msg)
	if c.session.Phase() == domain.PhasePendingOutbound {
		c.releaseMedia()
		c.session.Reset()
	}
}

package call

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/ring/internal/domain"
	"github.com/pion/webrtc/v4"
)

// newTestCoordinator wires a coordinator to fakes. Tests drive the internal
// synchronous handlers directly instead of going through the event loop.
func newTestCoordinator(t *testing.T) (*Coordinator, *fakeSignal, *fakeFactory, *fakeProvider) {
	t.Helper()
	sig := &fakeSignal{}
	factory := newFakeFactory()
	provider := &fakeProvider{}
	c := NewCoordinator("alice", factory, provider)
	c.SetSignaler(sig)
	return c, sig, factory, provider
}

func rawSDP(t *testing.T, sd webrtc.SessionDescription) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(sd)
	if err != nil {
		t.Fatalf("marshal sdp: %v", err)
	}
	return raw
}

func rawCandidate(t *testing.T, candidate string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(webrtc.ICECandidateInit{Candidate: candidate})
	if err != nil {
		t.Fatalf("marshal candidate: %v", err)
	}
	return raw
}

func inviteFrom(t *testing.T, from, callID string) domain.Signal {
	return domain.Signal{
		Type:   domain.TypeCallInvite,
		From:   from,
		CallID: callID,
		SDP:    rawSDP(t, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}),
	}
}

func TestInitiateSendsCreateCall(t *testing.T) {
	c, sig, _, provider := newTestCoordinator(t)

	c.initiate("bob")

	if got := c.session.Phase(); got != domain.PhasePendingOutbound {
		t.Fatalf("phase = %v, want PendingOutbound", got)
	}
	if provider.acquired != 1 {
		t.Fatalf("media acquired %d times, want 1", provider.acquired)
	}
	last := sig.lastSent()
	if last.Type != domain.TypeCreateCall || last.Target != "bob" {
		t.Fatalf("sent %+v, want create-call to bob", last)
	}
	if last.From != "alice" {
		t.Fatalf("From = %q, want alice", last.From)
	}
}

func TestInitiateWhileNotIdle(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)
	c.initiate("bob")
	n := len(sig.sent)

	c.initiate("carol")

	if len(sig.sent) != n {
		t.Fatalf("second initiate sent %d extra signals", len(sig.sent)-n)
	}
	if c.LastError() == "" {
		t.Fatal("expected an error for initiate outside Idle")
	}
}

func TestInitiateMediaFailure(t *testing.T) {
	c, sig, _, provider := newTestCoordinator(t)
	provider.fail = true

	c.initiate("bob")

	if len(sig.sent) != 0 {
		t.Fatalf("sent %d signals, want none before media is up", len(sig.sent))
	}
	if got := c.session.Phase(); got != domain.PhaseIdle {
		t.Fatalf("phase = %v, want Idle", got)
	}
}

func TestInitiateSendFailureReleasesMedia(t *testing.T) {
	c, sig, _, provider := newTestCoordinator(t)
	sig.failSend = true

	c.initiate("bob")

	if got := c.session.Phase(); got != domain.PhaseIdle {
		t.Fatalf("phase = %v, want Idle", got)
	}
	if provider.src == nil || provider.src.stops != 1 {
		t.Fatalf("media source not released exactly once: %+v", provider.src)
	}
	if c.source != nil {
		t.Fatal("coordinator still holds the media source")
	}
}

func TestCallCreatedActivatesAndInvites(t *testing.T) {
	c, sig, factory, _ := newTestCoordinator(t)
	c.initiate("bob")

	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})

	if got := c.session.Phase(); got != domain.PhaseActive {
		t.Fatalf("phase = %v, want Active", got)
	}
	if got := c.session.CallID(); got != "call-1" {
		t.Fatalf("callID = %q, want call-1", got)
	}
	if got := c.session.Participants(); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("participants = %v, want [bob]", got)
	}
	if !c.peers.Has("bob") {
		t.Fatal("no peer entry for bob")
	}
	last := sig.lastSent()
	if last.Type != domain.TypeCallInvite || last.Target != "bob" || last.CallID != "call-1" {
		t.Fatalf("sent %+v, want call-invite to bob for call-1", last)
	}
	if len(last.SDP) == 0 {
		t.Fatal("invite carries no sdp")
	}
	if factory.conns["bob"] == nil {
		t.Fatal("factory never built a connection for bob")
	}
}

func TestCallCreatedWithoutPending(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)

	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})

	if got := c.session.Phase(); got != domain.PhaseIdle {
		t.Fatalf("phase = %v, want Idle", got)
	}
	if len(sig.sent) != 0 {
		t.Fatalf("sent %d signals, want none", len(sig.sent))
	}
}

func TestCallCreatedOfferFailureUnwinds(t *testing.T) {
	c, _, factory, provider := newTestCoordinator(t)
	factory.failNext = true
	c.initiate("bob")

	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})

	if got := c.session.Phase(); got != domain.PhaseIdle {
		t.Fatalf("phase = %v, want Idle", got)
	}
	if c.peers.Len() != 0 {
		t.Fatalf("registry has %d peers, want 0", c.peers.Len())
	}
	if provider.src == nil || provider.src.stops != 1 {
		t.Fatal("media not released after setup failure")
	}
	if c.LastError() == "" {
		t.Fatal("expected a user-facing error")
	}
}

func TestInviteWhileActiveAutoRejectsBusy(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})
	before := c.snapshot()

	c.handleSignal(inviteFrom(t, "carol", "call-2"))

	last := sig.lastSent()
	if last.Type != domain.TypeCallRejected || last.Target != "carol" || last.Reason != ReasonBusy {
		t.Fatalf("sent %+v, want busy rejection to carol", last)
	}
	after := c.snapshot()
	if after.Phase != before.Phase || after.CallID != before.CallID {
		t.Fatalf("call state changed: before=%+v after=%+v", before, after)
	}
	if c.session.Incoming() != nil {
		t.Fatal("invite was held despite the auto-reject")
	}
}

func TestInviteWhilePendingOutboundAutoRejectsInitiating(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)
	c.initiate("bob")

	c.handleSignal(inviteFrom(t, "carol", "call-2"))

	last := sig.lastSent()
	if last.Type != domain.TypeCallRejected || last.Reason != ReasonInitiating {
		t.Fatalf("sent %+v, want initiating rejection", last)
	}
	if got := c.session.Phase(); got != domain.PhasePendingOutbound {
		t.Fatalf("phase = %v, want PendingOutbound", got)
	}
}

func TestSecondInviteReplacesFirstSilently(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)

	c.handleSignal(inviteFrom(t, "bob", "call-1"))
	c.handleSignal(inviteFrom(t, "carol", "call-2"))

	if len(sig.sent) != 0 {
		t.Fatalf("sent %d signals, want none: the first invite dies silently", len(sig.sent))
	}
	inc := c.session.Incoming()
	if inc == nil || inc.From != "carol" || inc.CallID != "call-2" {
		t.Fatalf("incoming = %+v, want carol's call-2", inc)
	}
}

func TestAcceptActivatesAndAnswers(t *testing.T) {
	c, sig, factory, _ := newTestCoordinator(t)
	c.handleSignal(inviteFrom(t, "bob", "call-1"))

	c.accept()

	if got := c.session.Phase(); got != domain.PhaseActive {
		t.Fatalf("phase = %v, want Active", got)
	}
	if got := c.session.CallID(); got != "call-1" {
		t.Fatalf("callID = %q, want call-1", got)
	}
	if c.session.Incoming() != nil {
		t.Fatal("incoming invite not cleared")
	}
	last := sig.lastSent()
	if last.Type != domain.TypeCallAnswer || last.Target != "bob" || last.CallID != "call-1" {
		t.Fatalf("sent %+v, want call-answer to bob", last)
	}
	if !factory.conns["bob"].remoteSet {
		t.Fatal("remote offer never applied")
	}
}

func TestAcceptFlushesBufferedCandidatesInOrder(t *testing.T) {
	c, _, factory, _ := newTestCoordinator(t)
	c.handleSignal(inviteFrom(t, "bob", "call-1"))
	c.accept()
	// Manufacture a peer with pre-buffered candidates via the answerer path:
	// buffer three against a fresh peer before its remote description lands.
	entry, _ := c.peers.Get("bob")
	conn := factory.conns["bob"]
	conn.remoteSet = false
	for _, s := range []string{"cand-1", "cand-2", "cand-3"} {
		c.handleSignal(domain.Signal{
			Type:      domain.TypeICECandidate,
			From:      "bob",
			CallID:    "call-1",
			Candidate: rawCandidate(t, s),
		})
	}
	if got := entry.Buffered(); got != 3 {
		t.Fatalf("buffered %d candidates, want 3", got)
	}

	if err := entry.FlushCandidates(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if got := entry.Buffered(); got != 0 {
		t.Fatalf("buffer holds %d after flush, want 0", got)
	}
	want := []string{"cand-1", "cand-2", "cand-3"}
	if len(conn.applied) != len(want) {
		t.Fatalf("applied %d candidates, want %d", len(conn.applied), len(want))
	}
	for i, ci := range conn.applied {
		if ci.Candidate != want[i] {
			t.Fatalf("applied[%d] = %q, want %q", i, ci.Candidate, want[i])
		}
	}
}

func TestAcceptWithoutInvite(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)

	c.accept()

	if len(sig.sent) != 0 {
		t.Fatalf("sent %d signals, want none", len(sig.sent))
	}
	if c.LastError() != ErrNoIncomingCall.Error() {
		t.Fatalf("error = %q, want %q", c.LastError(), ErrNoIncomingCall)
	}
}

func TestAcceptMediaFailureRejectsWithSetupReason(t *testing.T) {
	c, sig, _, provider := newTestCoordinator(t)
	provider.fail = true
	c.handleSignal(inviteFrom(t, "bob", "call-1"))

	c.accept()

	last := sig.lastSent()
	if last.Type != domain.TypeCallRejected || last.Reason != ReasonMediaSetup {
		t.Fatalf("sent %+v, want media-setup rejection", last)
	}
	if got := c.session.Phase(); got != domain.PhaseIdle {
		t.Fatalf("phase = %v, want Idle", got)
	}
}

func TestRejectSendsDeclineReason(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)
	c.handleSignal(inviteFrom(t, "bob", "call-1"))

	c.reject("")

	last := sig.lastSent()
	if last.Type != domain.TypeCallRejected || last.Target != "bob" || last.Reason != ReasonDeclined {
		t.Fatalf("sent %+v, want declined rejection to bob", last)
	}
	if got := c.session.Phase(); got != domain.PhaseIdle {
		t.Fatalf("phase = %v, want Idle", got)
	}
}

func TestAnswerAppliesAndFlushes(t *testing.T) {
	c, _, factory, _ := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})

	// Candidates arriving before the answer are buffered.
	c.handleSignal(domain.Signal{
		Type:      domain.TypeICECandidate,
		From:      "bob",
		CallID:    "call-1",
		Candidate: rawCandidate(t, "early"),
	})
	conn := factory.conns["bob"]
	if len(conn.applied) != 0 {
		t.Fatal("candidate applied before remote description")
	}

	c.handleSignal(domain.Signal{
		Type:   domain.TypeCallAnswer,
		From:   "bob",
		CallID: "call-1",
		SDP:    rawSDP(t, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}),
	})

	if !conn.remoteSet {
		t.Fatal("answer not applied")
	}
	if len(conn.applied) != 1 || conn.applied[0].Candidate != "early" {
		t.Fatalf("applied = %v, want the one buffered candidate", conn.applied)
	}
}

func TestAnswerApplyFailureDestroysOnlyThatPeer(t *testing.T) {
	c, _, factory, _ := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})
	c.addParticipant("carol")
	factory.conns["carol"].failApply = true

	c.handleSignal(domain.Signal{
		Type:   domain.TypeCallAnswer,
		From:   "carol",
		CallID: "call-1",
		SDP:    rawSDP(t, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}),
	})

	if c.peers.Has("carol") {
		t.Fatal("failed peer still registered")
	}
	if !c.peers.Has("bob") {
		t.Fatal("healthy peer was torn down")
	}
	if got := c.session.Participants(); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("participants = %v, want [bob]", got)
	}
	if got := c.session.Phase(); got != domain.PhaseActive {
		t.Fatalf("phase = %v, want Active", got)
	}
}

func TestCandidateForOtherCallDropped(t *testing.T) {
	c, _, factory, _ := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})
	entry, _ := c.peers.Get("bob")

	c.handleSignal(domain.Signal{
		Type:      domain.TypeICECandidate,
		From:      "bob",
		CallID:    "call-other",
		Candidate: rawCandidate(t, "stale"),
	})
	c.handleSignal(domain.Signal{
		Type:      domain.TypeICECandidate,
		From:      "bob",
		Candidate: rawCandidate(t, "no-call-id"),
	})

	if got := entry.Buffered(); got != 0 {
		t.Fatalf("buffered %d stale candidates, want 0", got)
	}
	if len(factory.conns["bob"].applied) != 0 {
		t.Fatal("stale candidate was applied")
	}
}

func TestRejectedPendingOutboundUnwinds(t *testing.T) {
	c, _, _, provider := newTestCoordinator(t)
	c.initiate("bob")

	c.handleSignal(domain.Signal{
		Type:   domain.TypeCallRejected,
		From:   "bob",
		Reason: ReasonDeclined,
	})

	if got := c.session.Phase(); got != domain.PhaseIdle {
		t.Fatalf("phase = %v, want Idle", got)
	}
	if provider.src == nil || provider.src.stops != 1 {
		t.Fatal("media not released after rejection")
	}
	if c.LastError() == "" {
		t.Fatal("rejection should surface an error message")
	}
}

func TestRejectedParticipantKeepsCallActive(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})
	c.addParticipant("carol")

	c.handleSignal(domain.Signal{Type: domain.TypeCallRejected, From: "carol", CallID: "call-1"})

	if got := c.session.Phase(); got != domain.PhaseActive {
		t.Fatalf("phase = %v, want Active", got)
	}
	if c.peers.Has("carol") {
		t.Fatal("rejected peer still registered")
	}
	if got := c.session.Participants(); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("participants = %v, want [bob]", got)
	}
}

func TestAddParticipantInvitesWithOffer(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})

	c.addParticipant("carol")

	last := sig.lastSent()
	if last.Type != domain.TypeCallInvite || last.Target != "carol" || last.CallID != "call-1" {
		t.Fatalf("sent %+v, want call-invite to carol", last)
	}
	if got := c.session.Participants(); len(got) != 2 {
		t.Fatalf("participants = %v, want bob and carol", got)
	}
}

func TestAddParticipantDuplicate(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})
	n := len(sig.sent)

	c.addParticipant("bob")

	if len(sig.sent) != n {
		t.Fatal("duplicate add sent a signal")
	}
	if c.LastError() != ErrAlreadyParticipant.Error() {
		t.Fatalf("error = %q, want %q", c.LastError(), ErrAlreadyParticipant)
	}
}

func TestAddParticipantWithoutCall(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	c.addParticipant("carol")

	if c.LastError() != ErrNoActiveCall.Error() {
		t.Fatalf("error = %q, want %q", c.LastError(), ErrNoActiveCall)
	}
}

func TestParticipantLeftKeepsCallActiveWhenEmpty(t *testing.T) {
	c, _, factory, _ := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})

	c.handleSignal(domain.Signal{Type: domain.TypeParticipantLeft, From: "bob", CallID: "call-1"})

	if got := c.session.Phase(); got != domain.PhaseActive {
		t.Fatalf("phase = %v, want Active even with no participants", got)
	}
	if got := len(c.session.Participants()); got != 0 {
		t.Fatalf("participants = %d, want 0", got)
	}
	if !factory.conns["bob"].closed {
		t.Fatal("departed peer's connection not closed")
	}
}

func TestEndCallNotifiesEveryParticipant(t *testing.T) {
	c, sig, factory, provider := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})
	c.addParticipant("carol")

	c.endCall()

	left := sig.sentOfType(domain.TypeParticipantLeft)
	if len(left) != 2 {
		t.Fatalf("sent %d participant-left, want 2", len(left))
	}
	targets := map[string]bool{}
	for _, s := range left {
		targets[s.Target] = true
		if s.CallID != "call-1" {
			t.Fatalf("participant-left for call %q, want call-1", s.CallID)
		}
	}
	if !targets["bob"] || !targets["carol"] {
		t.Fatalf("notified %v, want bob and carol", targets)
	}
	if got := c.session.Phase(); got != domain.PhaseIdle {
		t.Fatalf("phase = %v, want Idle", got)
	}
	if c.peers.Len() != 0 {
		t.Fatalf("registry has %d peers, want 0", c.peers.Len())
	}
	for peer, conn := range factory.conns {
		if !conn.closed {
			t.Fatalf("connection for %s not closed", peer)
		}
	}
	if provider.src.stops != 1 {
		t.Fatalf("source stopped %d times, want 1", provider.src.stops)
	}
	if c.LastError() != "" {
		t.Fatalf("error = %q, want cleared", c.LastError())
	}
}

func TestEndCallOutsideCall(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)

	c.endCall()

	if len(sig.sent) != 0 {
		t.Fatal("endCall outside a call sent signals")
	}
	if c.LastError() != ErrNoActiveCall.Error() {
		t.Fatalf("error = %q, want %q", c.LastError(), ErrNoActiveCall)
	}
}

func TestCallErrorDuringPendingUnwinds(t *testing.T) {
	c, _, _, provider := newTestCoordinator(t)
	c.initiate("bob")

	c.handleSignal(domain.Signal{Type: domain.TypeCallError, Message: "bob is not available"})

	if got := c.session.Phase(); got != domain.PhaseIdle {
		t.Fatalf("phase = %v, want Idle", got)
	}
	if provider.src == nil || provider.src.stops != 1 {
		t.Fatal("media not released after call error")
	}
	if c.LastError() != "bob is not available" {
		t.Fatalf("error = %q", c.LastError())
	}
}

func TestHandleSignalDataMalformed(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	c.HandleSignalData([]byte("{not json"))

	select {
	case <-c.events:
		t.Fatal("malformed message posted an event")
	default:
	}
}

func TestSendCandidateDroppedAfterCallEnds(t *testing.T) {
	c, sig, _, _ := newTestCoordinator(t)
	c.initiate("bob")
	c.handleSignal(domain.Signal{Type: domain.TypeCallCreated, Target: "bob", CallID: "call-1"})
	c.endCall()
	n := len(sig.sent)

	// A candidate gathered during teardown arrives after the call is gone.
	c.sendCandidate("bob", webrtc.ICECandidateInit{Candidate: "late"})

	if len(sig.sent) != n {
		t.Fatal("stale candidate was sent")
	}
}

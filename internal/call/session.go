package call

import (
	"sort"

	"github.com/dkeye/ring/internal/domain"
	"github.com/pion/webrtc/v4"
)

// IncomingOffer is a transient record of an unanswered inbound invite.
// At most one is held at a time; a newer invite replaces it.
type IncomingOffer struct {
	From   string
	CallID string
	SDP    webrtc.SessionDescription
}

// Session is the authoritative call context for one client: which call we
// are in, with whom, and in what phase. It holds no transport or media
// resources and is owned exclusively by the Coordinator loop.
type Session struct {
	self          string
	phase         domain.Phase
	callID        string
	participants  map[string]struct{}
	pendingTarget string
	incoming      *IncomingOffer
}

func NewSession(self string) *Session {
	return &Session{
		self:         self,
		phase:        domain.PhaseIdle,
		participants: make(map[string]struct{}),
	}
}

func (s *Session) Self() string        { return s.self }
func (s *Session) Phase() domain.Phase { return s.phase }
func (s *Session) CallID() string      { return s.callID }

func (s *Session) PendingTarget() string    { return s.pendingTarget }
func (s *Session) Incoming() *IncomingOffer { return s.incoming }

func (s *Session) Participants() []string {
	out := make([]string, 0, len(s.participants))
	for p := range s.participants {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Session) HasParticipant(id string) bool {
	_, ok := s.participants[id]
	return ok
}

// BeginOutbound marks an outgoing call attempt awaiting relay confirmation.
func (s *Session) BeginOutbound(target string) {
	s.phase = domain.PhasePendingOutbound
	s.pendingTarget = target
}

// Activate enters the Active phase under the relay-assigned call ID.
func (s *Session) Activate(callID string) {
	s.phase = domain.PhaseActive
	s.callID = callID
	s.pendingTarget = ""
}

// SetIncoming stores an inbound invite, replacing any prior one. The prior
// offer is implicitly rejected: the relay never hears about it again.
func (s *Session) SetIncoming(offer *IncomingOffer) {
	s.incoming = offer
	s.phase = domain.PhasePendingInbound
}

// ClearIncoming drops the held invite. With no call in progress the session
// returns to Idle.
func (s *Session) ClearIncoming() {
	s.incoming = nil
	if s.phase == domain.PhasePendingInbound {
		s.phase = domain.PhaseIdle
	}
}

func (s *Session) AddParticipant(id string) {
	if id == s.self {
		return
	}
	s.participants[id] = struct{}{}
}

func (s *Session) RemoveParticipant(id string) {
	delete(s.participants, id)
}

// Reset returns the session to Idle, dropping all call context.
func (s *Session) Reset() {
	s.phase = domain.PhaseIdle
	s.callID = ""
	s.pendingTarget = ""
	s.incoming = nil
	s.participants = make(map[string]struct{})
}

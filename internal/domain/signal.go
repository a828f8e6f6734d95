package domain

import "encoding/json"

// Signal message types exchanged over the call signaling channel.
const (
	TypeCreateCall       = "create-call"
	TypeCallCreated      = "call-created"
	TypeCallInvite       = "call-invite"
	TypeAddParticipant   = "add-participant"
	TypeCallAnswer       = "call-answer"
	TypeCallRejected     = "call-rejected"
	TypeICECandidate     = "ice-candidate"
	TypeParticipantLeft  = "participant-left"
	TypeParticipantJoin  = "participant-joined"
	TypeGetParticipants  = "get-participants"
	TypeCallParticipants = "call-participants"
	TypeCallError        = "call-error"
)

// Signal is the wire envelope for one signaling message. SDP and Candidate
// payloads stay raw here; the relay forwards them untouched and only the
// call core decodes them.
type Signal struct {
	Type         string          `json:"type"`
	From         string          `json:"from,omitempty"`
	Target       string          `json:"target,omitempty"`
	CallID       string          `json:"callId,omitempty"`
	SDP          json.RawMessage `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Message      string          `json:"message,omitempty"`
	Participants []string        `json:"participants,omitempty"`
}

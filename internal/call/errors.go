package call

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInCall      = errors.New("already in a call")
	ErrNoIncomingCall     = errors.New("no incoming call")
	ErrNoActiveCall       = errors.New("no active call")
	ErrAlreadyParticipant = errors.New("user is already in the call")
	ErrMediaAcquisition   = errors.New("failed to access camera/microphone")
)

// Rejection reasons sent with call-rejected signals.
const (
	ReasonBusy       = "User is already in another call"
	ReasonInitiating = "User is initiating another call"
	ReasonDeclined   = "User declined"
	ReasonMediaSetup = "Failed to setup media"
)

// NegotiationError wraps a media-transport failure for one peer. The scope
// is that peer's connection only; a multi-party call survives it.
type NegotiationError struct {
	Peer string
	Op   string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed (%s): %v", e.Peer, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

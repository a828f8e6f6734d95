package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection wraps one peer's media-transport connection. The call core
// drives it through the offer/answer exchange; it never touches pion types
// beyond descriptions and candidates.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// CreateAndSetOffer builds the local offer for the offerer side.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer applies a remote offer and builds the answer.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer completes the offerer side with the remote answer.
	ApplyAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// HasRemoteDescription reports whether the remote description was applied.
	// Candidates arriving before that must be buffered, not applied.
	HasRemoteDescription() bool
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnClosed sets a callback for cleanup when the connection dies.
	OnClosed(func())
	// AddLocalTrack attaches a local capture track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
}

// MediaFactory builds one MediaConnection per remote participant.
type MediaFactory interface {
	NewConnection(peer string) (MediaConnection, error)
}

// MediaSource owns the local capture stream. Tracks are shared read-only by
// every peer connection in a call; Stop must be idempotent.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// MediaProvider acquires the local capture stream lazily, on first need.
type MediaProvider interface {
	Acquire(ctx context.Context) (MediaSource, error)
}

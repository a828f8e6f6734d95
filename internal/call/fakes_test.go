package call

import (
	"context"
	"errors"

	"github.com/dkeye/ring/internal/core"
	"github.com/dkeye/ring/internal/domain"
	"github.com/pion/webrtc/v4"
)

// fakeSignal records outbound signals; failSend makes every Send fail.
type fakeSignal struct {
	sent     []domain.Signal
	failSend bool
	closed   bool
}

func (f *fakeSignal) Send(sig domain.Signal) error {
	if f.failSend {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, sig)
	return nil
}

func (f *fakeSignal) Close() { f.closed = true }

func (f *fakeSignal) lastSent() domain.Signal {
	if len(f.sent) == 0 {
		return domain.Signal{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSignal) sentOfType(t string) []domain.Signal {
	var out []domain.Signal
	for _, s := range f.sent {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// fakeMediaConn is a scriptable core.MediaConnection.
type fakeMediaConn struct {
	peer      string
	remoteSet bool
	closed    bool
	applied   []webrtc.ICECandidateInit

	failOffer     bool
	failAnswer    bool
	failApply     bool
	failCandidate bool

	onCandidate func(webrtc.ICECandidateInit)
}

func (f *fakeMediaConn) Start(ctx context.Context) error { return nil }
func (f *fakeMediaConn) Close()                          { f.closed = true }
func (f *fakeMediaConn) IsClosed() bool                  { return f.closed }

func (f *fakeMediaConn) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	if f.failOffer {
		return nil, errors.New("offer failed")
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer " + f.peer}, nil
}

func (f *fakeMediaConn) ApplyOfferAndCreateAnswer(sd webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if f.failAnswer {
		return nil, errors.New("answer failed")
	}
	f.remoteSet = true
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer " + f.peer}, nil
}

func (f *fakeMediaConn) ApplyAnswer(sd webrtc.SessionDescription) error {
	if f.failApply {
		return errors.New("apply failed")
	}
	f.remoteSet = true
	return nil
}

func (f *fakeMediaConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if f.failCandidate {
		return errors.New("candidate failed")
	}
	f.applied = append(f.applied, ci)
	return nil
}

func (f *fakeMediaConn) HasRemoteDescription() bool { return f.remoteSet }

func (f *fakeMediaConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onCandidate = fn }
func (f *fakeMediaConn) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
}
func (f *fakeMediaConn) OnClosed(func()) {}

func (f *fakeMediaConn) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return nil, nil
}

// fakeFactory hands out fakeMediaConns and remembers them by peer.
type fakeFactory struct {
	conns    map[string]*fakeMediaConn
	failNext bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[string]*fakeMediaConn)}
}

func (f *fakeFactory) NewConnection(peer string) (core.MediaConnection, error) {
	if f.failNext {
		f.failNext = false
		return nil, errors.New("factory failed")
	}
	mc := &fakeMediaConn{peer: peer}
	f.conns[peer] = mc
	return mc, nil
}

type fakeSource struct {
	stops int
}

func (f *fakeSource) Tracks() []webrtc.TrackLocal { return nil }
func (f *fakeSource) Stop()                       { f.stops++ }

type fakeProvider struct {
	src      *fakeSource
	fail     bool
	acquired int
}

func (f *fakeProvider) Acquire(ctx context.Context) (core.MediaSource, error) {
	if f.fail {
		return nil, errors.New("no devices")
	}
	f.acquired++
	if f.src == nil {
		f.src = &fakeSource{}
	}
	return f.src, nil
}

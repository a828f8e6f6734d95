package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/ring/internal/core"
)

// Factory builds one WebRTCConnection per remote participant, all sharing
// the same webrtc.API (media engine, interceptors) and ICE servers.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(api *webrtc.API, iceServers []string) *Factory {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Factory{api: api, cfg: cfg}
}

func (f *Factory) NewConnection(peer string) (core.MediaConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, peer: peer}, nil
}

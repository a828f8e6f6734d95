//go:build !linux

package media

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/ring/internal/adapters/rtc"
	"github.com/dkeye/ring/internal/core"
)

// NewEngine builds the shared webrtc.API with default codecs. No capture
// drivers on this platform; Acquire always fails and calls are
// receive-only.
func NewEngine(iceServers []string) (core.MediaFactory, core.MediaProvider, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	return rtc.NewFactory(api, iceServers), provider{}, nil
}

type provider struct{}

func (provider) Acquire(_ context.Context) (core.MediaSource, error) {
	return nil, ErrCaptureUnsupported
}

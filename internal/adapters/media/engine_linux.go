//go:build linux

package media

import (
	"context"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ring/internal/adapters/rtc"
	"github.com/dkeye/ring/internal/core"
)

// NewEngine builds the shared webrtc.API with VP8+Opus codecs and a capture
// provider using pion/mediadevices. The codec selector must populate the
// same media engine the peer connections are created from.
func NewEngine(iceServers []string) (core.MediaFactory, core.MediaProvider, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	return rtc.NewFactory(api, iceServers), &provider{selector: selector}, nil
}

type provider struct {
	selector *mediadevices.CodecSelector
}

// Acquire opens camera and microphone. GetUserMedia fails as a unit if
// either track can't be opened, so fall back to video-only, then
// audio-only, before giving up.
func (p *provider) Acquire(_ context.Context) (core.MediaSource, error) {
	attempts := []struct {
		video bool
		audio bool
		label string
	}{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: p.selector}
		if a.video {
			constraints.Video = func(_ *mediadevices.MediaTrackConstraints) {}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Str("attempt", a.label).Msg("GetUserMedia failed")
			lastErr = err
			continue
		}
		log.Info().Str("module", "media").Str("mode", a.label).Int("tracks", len(stream.GetTracks())).Msg("capture started")
		return newSource(stream), nil
	}
	return nil, lastErr
}

type source struct {
	stream mediadevices.MediaStream
	once   sync.Once
}

func newSource(stream mediadevices.MediaStream) *source {
	return &source{stream: stream}
}

func (s *source) Tracks() []webrtc.TrackLocal {
	tracks := s.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

// Stop closes every capture track exactly once.
func (s *source) Stop() {
	s.once.Do(func() {
		for _, t := range s.stream.GetTracks() {
			if err := t.Close(); err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("track close")
			}
		}
		log.Info().Str("module", "media").Msg("capture stopped")
	})
}

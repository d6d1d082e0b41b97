package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

// MediaDevicesCapturer captures the local camera and microphone through
// pion/mediadevices. Drivers must be registered by the binary.
type MediaDevicesCapturer struct {
	selector *mediadevices.CodecSelector
}

// NewMediaDevicesCapturer builds a capturer encoding VP8 video and Opus audio.
func NewMediaDevicesCapturer() (*MediaDevicesCapturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 60
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = 200 * time.Millisecond

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return &MediaDevicesCapturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func videoConstraints(mc *mediadevices.MediaTrackConstraints) {
	mc.Width = prop.Int(640)
	mc.Height = prop.Int(480)
	mc.FrameRate = prop.Float(30)
}

func audioConstraints(mc *mediadevices.MediaTrackConstraints) {
	mc.SampleRate = prop.Int(48000)
	mc.ChannelCount = prop.Int(1)
	mc.Latency = prop.Duration(20 * time.Millisecond)
}

func (c *MediaDevicesCapturer) CaptureAudioVideo(ctx context.Context) (audio, video domain.LocalTrack, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: videoConstraints,
		Audio: audioConstraints,
		Codec: c.selector,
	})
	if err != nil {
		return nil, nil, captureError("", err)
	}

	audioTracks, videoTracks := stream.GetAudioTracks(), stream.GetVideoTracks()
	if len(audioTracks) == 0 || len(videoTracks) == 0 {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return nil, nil, &domain.DeviceError{Code: domain.CodeNotFound, Err: domain.ErrNotFound}
	}

	log.Info().Str("module", "device").
		Str("audio", audioTracks[0].ID()).
		Str("video", videoTracks[0].ID()).
		Msg("captured camera and microphone")
	vt := NewTrack(domain.KindVideo, videoTracks[0], videoTracks[0])
	vt.preview = previewFrom(videoTracks[0], webrtc.MimeTypeVP8)
	return NewTrack(domain.KindAudio, audioTracks[0], audioTracks[0]), vt, nil
}

func (c *MediaDevicesCapturer) CaptureAudio(ctx context.Context) (domain.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: audioConstraints,
		Codec: c.selector,
	})
	if err != nil {
		return nil, captureError(domain.KindAudio, err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, &domain.DeviceError{Code: domain.CodeNotFound, Kind: domain.KindAudio, Err: domain.ErrNotFound}
	}
	log.Info().Str("module", "device").Str("audio", tracks[0].ID()).Msg("captured microphone")
	return NewTrack(domain.KindAudio, tracks[0], tracks[0]), nil
}

// captureError tags driver failures with a device code where one is known.
// mediadevices reports a missing driver only through its message.
func captureError(kind domain.Kind, err error) error {
	code := ""
	if strings.Contains(err.Error(), "failed to find") {
		code = domain.CodeNotFound
	}
	return &domain.DeviceError{Code: code, Kind: kind, Err: err}
}

package device

import (
	"context"
	"errors"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

// Class is the outcome category of a capture attempt.
type Class int

const (
	Success Class = iota
	// DeviceUnavailable means the device is busy, unreadable or missing.
	DeviceUnavailable
	PermissionDenied
	OtherFailure
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case DeviceUnavailable:
		return "device_unavailable"
	case PermissionDenied:
		return "permission_denied"
	default:
		return "other_failure"
	}
}

// Outcome is the result of one acquisition attempt. Tracks are set only on Success.
type Outcome struct {
	Class Class
	Audio domain.LocalTrack
	Video domain.LocalTrack
	Err   error
}

// Acquirer requests capture devices and classifies failures.
type Acquirer struct {
	capturer domain.Capturer
}

func NewAcquirer(c domain.Capturer) *Acquirer {
	return &Acquirer{capturer: c}
}

// AcquireAudioVideo captures microphone and camera together.
func (a *Acquirer) AcquireAudioVideo(ctx context.Context) Outcome {
	audio, video, err := a.capturer.CaptureAudioVideo(ctx)
	if err == nil && (audio == nil || video == nil) {
		err = &domain.DeviceError{Code: domain.CodeNotFound, Err: domain.ErrNotFound}
	}
	if err != nil {
		release(audio, video)
		return a.failed(err)
	}
	return Outcome{Class: Success, Audio: audio, Video: video}
}

// AcquireAudioOnly captures the microphone alone.
func (a *Acquirer) AcquireAudioOnly(ctx context.Context) Outcome {
	audio, err := a.capturer.CaptureAudio(ctx)
	if err == nil && audio == nil {
		err = &domain.DeviceError{Code: domain.CodeNotFound, Kind: domain.KindAudio, Err: domain.ErrNotFound}
	}
	if err != nil {
		release(audio)
		return a.failed(err)
	}
	return Outcome{Class: Success, Audio: audio}
}

func (a *Acquirer) failed(err error) Outcome {
	class := Classify(err)
	log.Warn().Err(err).Str("module", "device").Stringer("class", class).Msg("capture failed")
	return Outcome{Class: class, Err: err}
}

func release(tracks ...domain.LocalTrack) {
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if err := t.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "device").Str("track", t.ID()).Msg("release partial capture")
		}
	}
}

// Classify maps a capture error onto a Class.
func Classify(err error) Class {
	if err == nil {
		return Success
	}

	var devErr *domain.DeviceError
	if errors.As(err, &devErr) {
		switch devErr.Code {
		case domain.CodeNotReadable, domain.CodeNotFound:
			return DeviceUnavailable
		case domain.CodePermissionDenied:
			return PermissionDenied
		}
	}

	switch {
	case errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.EIO), errors.Is(err, syscall.ENODEV):
		return DeviceUnavailable
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return PermissionDenied
	case errors.Is(err, domain.ErrNotFound):
		return DeviceUnavailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"), strings.Contains(msg, "not readable"):
		return DeviceUnavailable
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"):
		return PermissionDenied
	}
	return OtherFailure
}

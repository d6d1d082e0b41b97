package domain

import "github.com/pion/rtp"

// Kind is the media kind of a track or publication.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// ParticipantID names one remote endpoint within a session. Providers that
// use integer ids are carried in their decimal form.
type ParticipantID string

// SurfaceID is the identifier of a render surface, e.g. "remote-9".
type SurfaceID string

// LocalSurfaceID is the self-view surface showing the local camera.
const LocalSurfaceID SurfaceID = "local"

// SurfaceIDFor returns the surface identifier used for a participant's video.
func SurfaceIDFor(id ParticipantID) SurfaceID {
	return SurfaceID("remote-" + string(id))
}

// LocalTrack is a device-backed track owned by the local publish manager.
type LocalTrack interface {
	ID() string
	Kind() Kind
	Enabled() bool
	// SetEnabled mutes or unmutes the track without renegotiating its publication.
	SetEnabled(enabled bool) error
	// Stop releases the underlying capture device.
	Stop() error
}

// Previewer is a local track that can feed a self-view surface.
type Previewer interface {
	Preview() (RemoteStream, error)
}

// RemoteStream is the media a transport delivers for one subscription.
type RemoteStream interface {
	ParticipantID() ParticipantID
	Kind() Kind
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
	Close() error
}

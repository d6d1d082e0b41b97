package domain

import (
	"context"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// CredentialFetcher retrieves room credentials from the credential service.
// An empty roomCode asks the service to create a new room.
type CredentialFetcher interface {
	RequestJoinCredentials(ctx context.Context, roomCode string) (*Credentials, error)
}

// Transport is the media-transport provider the session controller drives.
type Transport interface {
	Join(ctx context.Context, roomID, credential string, localID int) error
	Publish(ctx context.Context, tracks []LocalTrack) error
	Subscribe(ctx context.Context, id ParticipantID, kind Kind) (RemoteStream, error)
	Leave(ctx context.Context) error
	OnParticipantPublished(fn func(id ParticipantID, kind Kind))
	OnParticipantLeft(fn func(id ParticipantID))
}

// Capturer wraps the platform device-capture calls.
type Capturer interface {
	CaptureAudioVideo(ctx context.Context) (audio, video LocalTrack, err error)
	CaptureAudio(ctx context.Context) (LocalTrack, error)
}

// Navigator is the routing shell the controller hands control back to.
type Navigator interface {
	NavigateToLobby()
}

// Surface is a visual sink for one remote video stream.
type Surface interface {
	ID() SurfaceID
	Render(stream RemoteStream)
}

// SurfaceRegistry creates and destroys render surfaces.
type SurfaceRegistry interface {
	Attach(id SurfaceID) (Surface, error)
	Detach(s Surface)
}

// AudioPlayer plays remote audio streams.
type AudioPlayer interface {
	Play(id ParticipantID, stream RemoteStream) error
	Stop(id ParticipantID)
}

// Signaler manages the WebSocket signaling connection.
type Signaler interface {
	Connect(ctx context.Context) error
	SendJoin(room, token string, uid int)
	SendSDP(sdp SDPPayload)
	SendICECandidate(candidate ICECandidatePayload)
	SendSubscribe(id ParticipantID, kind Kind)
	SendLeave()
	Close()
}

// Handler receives signaling events.
type Handler interface {
	OnJoined()
	OnJoinRejected(code int, reason string)
	OnSDP(sdp SDPPayload)
	OnRemoteICECandidate(candidate ICECandidatePayload)
	OnPublished(id ParticipantID, kind Kind)
	OnLeft(id ParticipantID)
	OnDisconnected(err error)
}

// TrackSender swaps the track feeding an RTP sender.
type TrackSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is an incoming track as seen by the peer connection.
type RemoteTrack interface {
	StreamID() string
	Kind() Kind
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
}

// Peer manages the WebRTC peer connection.
type Peer interface {
	AddTrack(track webrtc.TrackLocal) (TrackSender, error)
	SetOnTrack(fn func(track RemoteTrack))
	SetOnICECandidate(send func(candidate ICECandidatePayload))
	CreateOffer() (string, error)
	SetRemoteAnswer(sdp SDPPayload) error
	AnswerOffer(sdp SDPPayload) (string, error)
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	io.Closer
}

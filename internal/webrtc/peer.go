package webrtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

var errPeerClosed = errors.New("peer connection closed")

// Peer wraps a Pion PeerConnection used for both publishing and subscribing.
type Peer struct {
	pc *pion.PeerConnection

	remoteOnce    sync.Once
	remoteDescSet chan struct{}
	closeOnce     sync.Once
	closed        chan struct{}
}

// NewPeer creates a PeerConnection with VP8/H264/Opus registered and NACK
// interceptors installed.
func NewPeer(iceServers []domain.ICEServer) (*Peer, error) {
	m := &pion.MediaEngine{}

	videoCodecs := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeVP8,
				ClockRate:    90000,
				RTCPFeedback: videoFeedback(),
			},
			PayloadType: 96,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: videoFeedback(),
			},
			PayloadType: 102,
		},
	}
	for _, c := range videoCodecs {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)
	generatorFactory, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generatorFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:            pc,
		remoteDescSet: make(chan struct{}),
		closed:        make(chan struct{}),
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("ice_state", state.String()).Msg("ICE connection state")
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_state", state.String()).Msg("peer connection state")
	})

	return p, nil
}

func videoFeedback() []pion.RTCPFeedback {
	return []pion.RTCPFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
	}
}

// AddTrack attaches a local track and drains RTCP for it so interceptors keep running.
func (p *Peer) AddTrack(track pion.TrackLocal) (domain.TrackSender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

// SetOnTrack registers the handler for incoming remote tracks.
func (p *Peer) SetOnTrack(fn func(track domain.RemoteTrack)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).
			Str("stream_id", track.StreamID()).
			Msg("got remote track")
		fn(&remoteTrack{track: track})
	})
}

// SetOnICECandidate registers the callback for locally discovered ICE candidates.
func (p *Peer) SetOnICECandidate(send func(candidate domain.ICECandidatePayload)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			log.Debug().Str("module", "webrtc").Msg("ICE gathering complete")
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			log.Debug().Str("module", "webrtc").Msg("filtering loopback ICE candidate")
			return
		}

		payload := domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		send(payload)
	})
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	log.Debug().Str("module", "webrtc").Msg("local SDP offer set")
	return offer.SDP, nil
}

// SetRemoteAnswer applies the answer to our last offer.
func (p *Peer) SetRemoteAnswer(sdp domain.SDPPayload) error {
	answer := pion.SessionDescription{
		Type: pion.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.markRemoteSet()
	return nil
}

// AnswerOffer applies a provider-initiated offer and returns our answer.
func (p *Peer) AnswerOffer(sdp domain.SDPPayload) (string, error) {
	offer := pion.SessionDescription{
		Type: pion.SDPTypeOffer,
		SDP:  sdp.SDP,
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	p.markRemoteSet()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

func (p *Peer) markRemoteSet() {
	p.remoteOnce.Do(func() { close(p.remoteDescSet) })
}

// AddRemoteICECandidate waits for a remote description, then adds the candidate.
func (p *Peer) AddRemoteICECandidate(candidate domain.ICECandidatePayload) error {
	select {
	case <-p.remoteDescSet:
	case <-p.closed:
		return errPeerClosed
	}

	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &candidate.SDPMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.pc.Close()
	})
	return err
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}

type remoteTrack struct {
	track *pion.TrackRemote
}

func (t *remoteTrack) StreamID() string { return t.track.StreamID() }

func (t *remoteTrack) MimeType() string { return t.track.Codec().MimeType }

func (t *remoteTrack) Kind() domain.Kind {
	if t.track.Kind() == pion.RTPCodecTypeVideo {
		return domain.KindVideo
	}
	return domain.KindAudio
}

func (t *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}

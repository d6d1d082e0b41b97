package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"meetcall/internal/domain"
)

var (
	// ErrClosed is returned by operations on a provider that has left.
	ErrClosed = errors.New("transport closed")
	// ErrUnpublishable is returned when a local track has no RTP source.
	ErrUnpublishable = errors.New("track cannot be published")
	// ErrParticipantLeft is returned by Subscribe when the participant leaves
	// before its track arrives.
	ErrParticipantLeft = errors.New("participant left")
	errDisconnected    = errors.New("signaling disconnected")
)

// Publishable is a local track that can feed an RTP sender.
type Publishable interface {
	domain.LocalTrack
	TrackLocal() webrtc.TrackLocal
	BindSender(sender domain.TrackSender)
}

type subKey struct {
	id   domain.ParticipantID
	kind domain.Kind
}

// Provider drives one room over a signaling connection and a peer
// connection. It implements domain.Transport and domain.Handler.
type Provider struct {
	peer   domain.Peer
	signal domain.Signaler

	// negotiating serializes local offer/answer exchanges.
	negotiating sync.Mutex

	mu          sync.Mutex
	room        string
	joinWait    chan error
	answerWait  chan domain.SDPPayload
	pending     map[subKey]chan domain.RemoteTrack
	arrived     map[subKey]domain.RemoteTrack
	onPublished func(id domain.ParticipantID, kind domain.Kind)
	onLeft      func(id domain.ParticipantID)

	closed *atomic.Bool
	done   chan struct{}
}

// NewProvider creates a Provider over peer.
// Call SetSignaler before Join; the signaler needs the provider as its handler.
func NewProvider(peer domain.Peer) *Provider {
	p := &Provider{
		peer:    peer,
		pending: make(map[subKey]chan domain.RemoteTrack),
		arrived: make(map[subKey]domain.RemoteTrack),
		closed:  atomic.NewBool(false),
		done:    make(chan struct{}),
	}
	peer.SetOnTrack(p.onTrack)
	return p
}

// SetSignaler injects the signaler after construction.
func (p *Provider) SetSignaler(s domain.Signaler) {
	p.signal = s
	p.peer.SetOnICECandidate(s.SendICECandidate)
}

func (p *Provider) OnParticipantPublished(fn func(id domain.ParticipantID, kind domain.Kind)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPublished = fn
}

func (p *Provider) OnParticipantLeft(fn func(id domain.ParticipantID)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLeft = fn
}

// Join connects to the signaling server and waits until the room admits us.
func (p *Provider) Join(ctx context.Context, roomID, credential string, localID int) error {
	if p.closed.Load() {
		return &domain.JoinError{Room: roomID, Err: ErrClosed}
	}

	wait := make(chan error, 1)
	p.mu.Lock()
	p.room = roomID
	p.joinWait = wait
	p.mu.Unlock()

	if err := p.signal.Connect(ctx); err != nil {
		p.clearJoinWait(wait)
		return &domain.JoinError{Room: roomID, Err: err}
	}

	log.Info().Str("module", "transport").Str("room", roomID).Int("uid", localID).Msg("joining")
	p.signal.SendJoin(roomID, credential, localID)

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		p.clearJoinWait(wait)
		return &domain.JoinError{Room: roomID, Err: ctx.Err()}
	}
}

func (p *Provider) clearJoinWait(wait chan error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.joinWait == wait {
		p.joinWait = nil
	}
}

// resolveJoin hands err to a pending Join. It reports whether one was waiting.
func (p *Provider) resolveJoin(err error) bool {
	p.mu.Lock()
	wait := p.joinWait
	p.joinWait = nil
	p.mu.Unlock()
	if wait == nil {
		return false
	}
	wait <- err
	return true
}

// Publish adds the tracks to the peer connection and completes one
// offer/answer exchange with the server.
func (p *Provider) Publish(ctx context.Context, tracks []domain.LocalTrack) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if len(tracks) == 0 {
		return nil
	}

	p.negotiating.Lock()
	defer p.negotiating.Unlock()

	for _, t := range tracks {
		pt, ok := t.(Publishable)
		if !ok {
			return fmt.Errorf("%s track %s: %w", t.Kind(), t.ID(), ErrUnpublishable)
		}
		sender, err := p.peer.AddTrack(pt.TrackLocal())
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		pt.BindSender(sender)
	}

	offer, err := p.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	wait := make(chan domain.SDPPayload, 1)
	p.mu.Lock()
	p.answerWait = wait
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.answerWait == wait {
			p.answerWait = nil
		}
		p.mu.Unlock()
	}()

	p.signal.SendSDP(domain.SDPPayload{Type: "offer", SDP: offer})

	select {
	case answer := <-wait:
		if err := p.peer.SetRemoteAnswer(answer); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		log.Info().Str("module", "transport").Int("tracks", len(tracks)).Msg("published")
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe asks the server for a participant's track and waits for it to
// arrive on the peer connection.
func (p *Provider) Subscribe(ctx context.Context, id domain.ParticipantID, kind domain.Kind) (domain.RemoteStream, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	key := subKey{id: id, kind: kind}

	p.mu.Lock()
	if track, ok := p.arrived[key]; ok {
		delete(p.arrived, key)
		p.mu.Unlock()
		return newStream(id, track), nil
	}
	ch := make(chan domain.RemoteTrack, 1)
	p.pending[key] = ch
	p.mu.Unlock()

	p.signal.SendSubscribe(id, kind)

	select {
	case track, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("subscribe %s/%s: %w", id, kind, ErrParticipantLeft)
		}
		return newStream(id, track), nil
	case <-p.done:
		p.dropPending(key, ch)
		return nil, ErrClosed
	case <-ctx.Done():
		p.dropPending(key, ch)
		return nil, fmt.Errorf("subscribe %s/%s: %w", id, kind, ctx.Err())
	}
}

func (p *Provider) dropPending(key subKey, ch chan domain.RemoteTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[key] == ch {
		delete(p.pending, key)
	}
}

func (p *Provider) onTrack(track domain.RemoteTrack) {
	key := subKey{id: domain.ParticipantID(track.StreamID()), kind: track.Kind()}
	log.Info().Str("module", "transport").
		Str("participant", string(key.id)).
		Str("kind", string(key.kind)).
		Str("codec", track.MimeType()).
		Msg("remote track")

	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.pending[key]; ok {
		delete(p.pending, key)
		ch <- track
		return
	}
	p.arrived[key] = track
}

// Leave announces departure and closes the peer and signaling connections.
func (p *Provider) Leave(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.done)

	p.mu.Lock()
	p.arrived = make(map[subKey]domain.RemoteTrack)
	p.mu.Unlock()

	if p.signal != nil {
		p.signal.SendLeave()
		p.signal.Close()
	}
	if err := p.peer.Close(); err != nil {
		return fmt.Errorf("close peer: %w", err)
	}
	log.Info().Str("module", "transport").Msg("left")
	return nil
}

func (p *Provider) OnJoined() {
	if !p.resolveJoin(nil) {
		log.Warn().Str("module", "transport").Msg("joined without pending join")
	}
}

func (p *Provider) OnJoinRejected(code int, reason string) {
	p.mu.Lock()
	room := p.room
	p.mu.Unlock()
	if !p.resolveJoin(&domain.JoinError{Room: room, Code: code, Err: errors.New(reason)}) {
		log.Error().Str("module", "transport").Int("code", code).Str("error", reason).Msg("server error")
	}
}

func (p *Provider) OnSDP(sdp domain.SDPPayload) {
	switch sdp.Type {
	case "answer":
		p.mu.Lock()
		wait := p.answerWait
		p.answerWait = nil
		p.mu.Unlock()
		if wait == nil {
			log.Warn().Str("module", "transport").Msg("unexpected answer")
			return
		}
		wait <- sdp

	case "offer":
		answer, err := p.peer.AnswerOffer(sdp)
		if err != nil {
			log.Error().Err(err).Str("module", "transport").Msg("answer offer")
			return
		}
		p.signal.SendSDP(domain.SDPPayload{Type: "answer", SDP: answer})

	default:
		log.Warn().Str("module", "transport").Str("type", sdp.Type).Msg("unknown sdp type")
	}
}

func (p *Provider) OnRemoteICECandidate(candidate domain.ICECandidatePayload) {
	go func() {
		if err := p.peer.AddRemoteICECandidate(candidate); err != nil {
			log.Warn().Err(err).Str("module", "transport").Msg("add remote ICE candidate")
		}
	}()
}

func (p *Provider) OnPublished(id domain.ParticipantID, kind domain.Kind) {
	p.mu.Lock()
	fn := p.onPublished
	p.mu.Unlock()
	if fn != nil {
		fn(id, kind)
	}
}

func (p *Provider) OnLeft(id domain.ParticipantID) {
	p.mu.Lock()
	fn := p.onLeft
	for key := range p.arrived {
		if key.id == id {
			delete(p.arrived, key)
		}
	}
	for key, ch := range p.pending {
		if key.id == id {
			delete(p.pending, key)
			close(ch)
		}
	}
	p.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

func (p *Provider) OnDisconnected(err error) {
	if err == nil {
		err = errDisconnected
	}
	p.mu.Lock()
	room := p.room
	p.mu.Unlock()
	p.resolveJoin(&domain.JoinError{Room: room, Err: err})

	if !p.closed.Load() {
		log.Warn().Err(err).Str("module", "transport").Msg("signaling lost")
	}
}

// stream adapts a remote track to a RemoteStream.
type stream struct {
	id     domain.ParticipantID
	track  domain.RemoteTrack
	closed *atomic.Bool
}

func newStream(id domain.ParticipantID, track domain.RemoteTrack) *stream {
	return &stream{id: id, track: track, closed: atomic.NewBool(false)}
}

func (s *stream) ParticipantID() domain.ParticipantID { return s.id }
func (s *stream) Kind() domain.Kind                   { return s.track.Kind() }
func (s *stream) MimeType() string                    { return s.track.MimeType() }

func (s *stream) ReadRTP() (*rtp.Packet, error) {
	if s.closed.Load() {
		return nil, io.EOF
	}
	return s.track.ReadRTP()
}

func (s *stream) Close() error {
	s.closed.Store(true)
	return nil
}

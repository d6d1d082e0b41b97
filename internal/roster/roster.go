package roster

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

// Variant describes which media a remote participant currently has.
type Variant int

const (
	NoMedia Variant = iota
	AudioOnly
	VideoOnly
	AudioVideo
)

func (v Variant) String() string {
	switch v {
	case AudioOnly:
		return "audio_only"
	case VideoOnly:
		return "video_only"
	case AudioVideo:
		return "audio_video"
	default:
		return "no_media"
	}
}

func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// View is a read-only description of one participant.
type View struct {
	ID      domain.ParticipantID `json:"id"`
	Variant Variant              `json:"variant"`
	Surface domain.SurfaceID     `json:"surface,omitempty"`
}

// Subscriber requests a participant's published media.
type Subscriber interface {
	Subscribe(ctx context.Context, id domain.ParticipantID, kind domain.Kind) (domain.RemoteStream, error)
}

type participant struct {
	id      domain.ParticipantID
	audio   domain.RemoteStream
	video   domain.RemoteStream
	surface domain.Surface
}

func (p *participant) variant() Variant {
	switch {
	case p.audio != nil && p.video != nil:
		return AudioVideo
	case p.audio != nil:
		return AudioOnly
	case p.video != nil:
		return VideoOnly
	default:
		return NoMedia
	}
}

// Manager tracks the remote participants of one session and owns their
// render surfaces and audio playback.
type Manager struct {
	sub      Subscriber
	surfaces domain.SurfaceRegistry
	audio    domain.AudioPlayer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[domain.ParticipantID]*participant
	cleared bool
}

func NewManager(sub Subscriber, surfaces domain.SurfaceRegistry, audio domain.AudioPlayer) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sub:      sub,
		surfaces: surfaces,
		audio:    audio,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[domain.ParticipantID]*participant),
	}
}

// Listen registers the manager's handlers with the transport. The roster
// entry for a published event is recorded before the callback returns, so a
// left delivered after it always finds the entry. Only the subscription runs
// on its own goroutine.
func (m *Manager) Listen(t domain.Transport) {
	t.OnParticipantPublished(func(id domain.ParticipantID, kind domain.Kind) {
		if p := m.track(id); p != nil {
			go m.subscribe(p, kind)
		}
	})
	t.OnParticipantLeft(m.HandleLeft)
}

// HandlePublished subscribes to a participant's new media and attaches it.
// It blocks until the subscription resolves.
func (m *Manager) HandlePublished(id domain.ParticipantID, kind domain.Kind) {
	if p := m.track(id); p != nil {
		m.subscribe(p, kind)
	}
}

// track returns the entry for id, creating it. It returns nil once cleared.
func (m *Manager) track(id domain.ParticipantID) *participant {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cleared {
		return nil
	}
	p, ok := m.entries[id]
	if !ok {
		p = &participant{id: id}
		m.entries[id] = p
	}
	return p
}

func (m *Manager) subscribe(p *participant, kind domain.Kind) {
	id := p.id
	logger := log.With().Str("module", "roster").Str("participant", string(id)).Str("kind", string(kind)).Logger()

	stream, err := m.sub.Subscribe(m.ctx, id, kind)
	if err != nil {
		logger.Warn().Err(err).Msg("subscribe failed")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cleared || m.entries[id] != p {
		logger.Info().Msg("participant gone before media arrived")
		_ = stream.Close()
		return
	}

	switch kind {
	case domain.KindVideo:
		m.attachVideo(p, stream)
	case domain.KindAudio:
		m.attachAudio(p, stream)
	default:
		_ = stream.Close()
	}
}

// attachVideo requires m.mu.
func (m *Manager) attachVideo(p *participant, stream domain.RemoteStream) {
	m.dropVideo(p)

	surface, err := m.surfaces.Attach(domain.SurfaceIDFor(p.id))
	if err != nil {
		log.Error().Err(err).Str("module", "roster").Str("participant", string(p.id)).Msg("attach surface")
		_ = stream.Close()
		return
	}
	surface.Render(stream)
	p.video = stream
	p.surface = surface
	log.Info().Str("module", "roster").Str("participant", string(p.id)).Str("surface", string(surface.ID())).Msg("video attached")
}

// attachAudio requires m.mu.
func (m *Manager) attachAudio(p *participant, stream domain.RemoteStream) {
	m.dropAudio(p)

	if err := m.audio.Play(p.id, stream); err != nil {
		log.Error().Err(err).Str("module", "roster").Str("participant", string(p.id)).Msg("play audio")
		_ = stream.Close()
		return
	}
	p.audio = stream
}

func (m *Manager) dropVideo(p *participant) {
	if p.surface != nil {
		m.surfaces.Detach(p.surface)
		p.surface = nil
	}
	if p.video != nil {
		_ = p.video.Close()
		p.video = nil
	}
}

func (m *Manager) dropAudio(p *participant) {
	if p.audio != nil {
		m.audio.Stop(p.id)
		_ = p.audio.Close()
		p.audio = nil
	}
}

// HandleLeft removes a participant and its media. Unknown ids are ignored.
func (m *Manager) HandleLeft(id domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.entries[id]
	if !ok {
		return
	}
	delete(m.entries, id)
	m.dropVideo(p)
	m.dropAudio(p)
	log.Info().Str("module", "roster").Str("participant", string(id)).Msg("left")
}

// Clear detaches everything and ignores later events.
func (m *Manager) Clear() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = true
	for id, p := range m.entries {
		m.dropVideo(p)
		m.dropAudio(p)
		delete(m.entries, id)
	}
}

// Snapshot lists participants ordered by id.
func (m *Manager) Snapshot() []View {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]View, 0, len(m.entries))
	for _, p := range m.entries {
		v := View{ID: p.id, Variant: p.variant()}
		if p.surface != nil {
			v.Surface = p.surface.ID()
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

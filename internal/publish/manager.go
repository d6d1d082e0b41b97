package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"meetcall/internal/domain"
)

// ErrNoTrack is returned when no track of the requested kind is held.
var ErrNoTrack = errors.New("no local track")

// TrackState describes one local media slot.
type TrackState struct {
	Present     bool `json:"present"`
	Enabled     bool `json:"enabled"`
	Unavailable bool `json:"unavailable"`
}

// State is a snapshot of the local media.
type State struct {
	Audio TrackState `json:"audio"`
	Video TrackState `json:"video"`
}

type slot struct {
	track       domain.LocalTrack
	unavailable bool
}

// Manager owns the local tracks of one session.
type Manager struct {
	transport domain.Transport

	mu    sync.Mutex
	slots map[domain.Kind]*slot
}

func NewManager(t domain.Transport) *Manager {
	return &Manager{
		transport: t,
		slots: map[domain.Kind]*slot{
			domain.KindAudio: {},
			domain.KindVideo: {},
		},
	}
}

// Hold takes ownership of a captured track. A track already held for the
// same kind is released.
func (m *Manager) Hold(track domain.LocalTrack) error {
	s, ok := m.slots[track.Kind()]
	if !ok {
		return fmt.Errorf("hold %q track: unknown kind", track.Kind())
	}

	m.mu.Lock()
	prev := s.track
	s.track = track
	s.unavailable = false
	m.mu.Unlock()

	if prev != nil && prev != track {
		stop(prev)
	}
	return nil
}

// Publish hands every held track to the transport.
func (m *Manager) Publish(ctx context.Context) error {
	tracks := m.held()
	if len(tracks) == 0 {
		return nil
	}
	if err := m.transport.Publish(ctx, tracks); err != nil {
		return fmt.Errorf("publish %d tracks: %w", len(tracks), err)
	}
	return nil
}

func (m *Manager) held() []domain.LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tracks []domain.LocalTrack
	for _, k := range []domain.Kind{domain.KindAudio, domain.KindVideo} {
		if t := m.slots[k].track; t != nil {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// Has reports whether a track of kind is held.
func (m *Manager) Has(kind domain.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[kind]
	return ok && s.track != nil
}

// SetEnabled mutes or unmutes the held track of kind.
func (m *Manager) SetEnabled(kind domain.Kind, enabled bool) error {
	m.mu.Lock()
	s, ok := m.slots[kind]
	var track domain.LocalTrack
	if ok {
		track = s.track
	}
	m.mu.Unlock()

	if track == nil {
		return fmt.Errorf("%s: %w", kind, ErrNoTrack)
	}
	return track.SetEnabled(enabled)
}

// MarkUnavailable records that kind could not be captured for this session.
func (m *Manager) MarkUnavailable(kind domain.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[kind]; ok {
		s.unavailable = true
	}
}

// Release stops and forgets the track of kind.
func (m *Manager) Release(kind domain.Kind) {
	m.mu.Lock()
	s, ok := m.slots[kind]
	var track domain.LocalTrack
	if ok {
		track = s.track
		s.track = nil
	}
	m.mu.Unlock()

	if track != nil {
		stop(track)
	}
}

// ReleaseAll stops every held track.
func (m *Manager) ReleaseAll() {
	m.Release(domain.KindAudio)
	m.Release(domain.KindVideo)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Audio: m.slots[domain.KindAudio].state(),
		Video: m.slots[domain.KindVideo].state(),
	}
}

func (s *slot) state() TrackState {
	st := TrackState{Unavailable: s.unavailable}
	if s.track != nil {
		st.Present = true
		st.Enabled = s.track.Enabled()
	}
	return st
}

func stop(t domain.LocalTrack) {
	if err := t.Stop(); err != nil {
		log.Warn().Err(err).Str("module", "publish").Str("track", t.ID()).Msg("stop track")
		return
	}
	log.Debug().Str("module", "publish").Str("track", t.ID()).Str("kind", string(t.Kind())).Msg("released")
}

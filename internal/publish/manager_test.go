package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"meetcall/internal/domain"
)

// mockTrack records enable and stop calls.
type mockTrack struct {
	id      string
	kind    domain.Kind
	enabled bool
	stopped int
}

func newMockTrack(id string, kind domain.Kind) *mockTrack {
	return &mockTrack{id: id, kind: kind, enabled: true}
}

func (t *mockTrack) ID() string        { return t.id }
func (t *mockTrack) Kind() domain.Kind { return t.kind }
func (t *mockTrack) Enabled() bool     { return t.enabled }
func (t *mockTrack) Stop() error       { t.stopped++; return nil }

func (t *mockTrack) SetEnabled(enabled bool) error {
	t.enabled = enabled
	return nil
}

// mockTransport records published tracks.
type mockTransport struct {
	domain.Transport
	published []domain.LocalTrack
	err       error
}

func (m *mockTransport) Publish(_ context.Context, tracks []domain.LocalTrack) error {
	m.published = tracks
	return m.err
}

func TestPublish_HandsHeldTracksToTransport(t *testing.T) {
	tr := &mockTransport{}
	m := NewManager(tr)
	audio := newMockTrack("mic", domain.KindAudio)
	video := newMockTrack("cam", domain.KindVideo)
	require.NoError(t, m.Hold(video))
	require.NoError(t, m.Hold(audio))

	require.NoError(t, m.Publish(context.Background()))

	require.Equal(t, []domain.LocalTrack{audio, video}, tr.published)
}

func TestPublish_NothingHeldSkipsTransport(t *testing.T) {
	tr := &mockTransport{err: errors.New("must not be called")}
	m := NewManager(tr)

	require.NoError(t, m.Publish(context.Background()))
	require.Nil(t, tr.published)
}

func TestPublish_WrapsTransportError(t *testing.T) {
	boom := errors.New("negotiation failed")
	m := NewManager(&mockTransport{err: boom})
	require.NoError(t, m.Hold(newMockTrack("mic", domain.KindAudio)))

	require.ErrorIs(t, m.Publish(context.Background()), boom)
}

func TestHold_ReplacesAndReleasesPrevious(t *testing.T) {
	m := NewManager(&mockTransport{})
	first := newMockTrack("mic-1", domain.KindAudio)
	second := newMockTrack("mic-2", domain.KindAudio)

	require.NoError(t, m.Hold(first))
	require.NoError(t, m.Hold(second))

	require.Equal(t, 1, first.stopped)
	require.Equal(t, 0, second.stopped)
}

func TestSetEnabled(t *testing.T) {
	m := NewManager(&mockTransport{})
	audio := newMockTrack("mic", domain.KindAudio)
	require.NoError(t, m.Hold(audio))

	require.NoError(t, m.SetEnabled(domain.KindAudio, false))
	require.False(t, m.State().Audio.Enabled)

	err := m.SetEnabled(domain.KindVideo, false)
	require.ErrorIs(t, err, ErrNoTrack)
}

func TestMarkUnavailable_DistinctFromOff(t *testing.T) {
	m := NewManager(&mockTransport{})
	require.NoError(t, m.Hold(newMockTrack("mic", domain.KindAudio)))

	m.MarkUnavailable(domain.KindVideo)

	st := m.State()
	require.Equal(t, TrackState{Present: true, Enabled: true}, st.Audio)
	require.Equal(t, TrackState{Unavailable: true}, st.Video)
}

func TestReleaseAll_StopsEveryTrack(t *testing.T) {
	m := NewManager(&mockTransport{})
	audio := newMockTrack("mic", domain.KindAudio)
	video := newMockTrack("cam", domain.KindVideo)
	require.NoError(t, m.Hold(audio))
	require.NoError(t, m.Hold(video))

	m.ReleaseAll()
	m.ReleaseAll()

	require.Equal(t, 1, audio.stopped)
	require.Equal(t, 1, video.stopped)
	require.False(t, m.Has(domain.KindAudio))
	require.False(t, m.Has(domain.KindVideo))
}

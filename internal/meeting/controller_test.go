package meeting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"meetcall/internal/domain"
)

// mockTrack is a local track that records Stop.
type mockTrack struct {
	kind    domain.Kind
	mu      sync.Mutex
	enabled bool
	stopped int
}

func newMockTrack(kind domain.Kind) *mockTrack {
	return &mockTrack{kind: kind, enabled: true}
}

func (t *mockTrack) ID() string        { return "mock-" + string(t.kind) }
func (t *mockTrack) Kind() domain.Kind { return t.kind }

func (t *mockTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *mockTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	return nil
}

func (t *mockTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
	return nil
}

func (t *mockTrack) stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *mockTrack) Preview() (domain.RemoteStream, error) {
	return &mockStream{id: "local", kind: t.kind}, nil
}

// mockCapturer hands out canned tracks, optionally after gate opens.
type mockCapturer struct {
	mu        sync.Mutex
	gate      chan struct{}
	avErr     error
	audioErr  error
	audio     *mockTrack
	video     *mockTrack
	avCalls   int
	audioOnly int
}

func (m *mockCapturer) CaptureAudioVideo(context.Context) (domain.LocalTrack, domain.LocalTrack, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avCalls++
	if m.avErr != nil {
		return nil, nil, m.avErr
	}
	m.audio, m.video = newMockTrack(domain.KindAudio), newMockTrack(domain.KindVideo)
	return m.audio, m.video, nil
}

func (m *mockCapturer) CaptureAudio(context.Context) (domain.LocalTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioOnly++
	if m.audioErr != nil {
		return nil, m.audioErr
	}
	m.audio = newMockTrack(domain.KindAudio)
	return m.audio, nil
}

func (m *mockCapturer) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avCalls, m.audioOnly
}

// mockStream is a remote stream with no packets.
type mockStream struct {
	id   domain.ParticipantID
	kind domain.Kind
}

func (s *mockStream) ParticipantID() domain.ParticipantID { return s.id }
func (s *mockStream) Kind() domain.Kind                   { return s.kind }
func (s *mockStream) MimeType() string                    { return "video/VP8" }
func (s *mockStream) ReadRTP() (*rtp.Packet, error)       { return nil, errors.New("eof") }
func (s *mockStream) Close() error                        { return nil }

// mockTransport records provider calls.
type mockTransport struct {
	mu          sync.Mutex
	joinGate    chan struct{}
	joinErr     error
	publishErr  error
	joins       []string
	tracks      []domain.LocalTrack
	leaves      int
	onPublished func(domain.ParticipantID, domain.Kind)
	onLeft      func(domain.ParticipantID)
}

func (m *mockTransport) Join(ctx context.Context, roomID, credential string, localID int) error {
	m.mu.Lock()
	m.joins = append(m.joins, roomID)
	gate := m.joinGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return m.joinErr
}

func (m *mockTransport) Publish(_ context.Context, tracks []domain.LocalTrack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, tracks...)
	return m.publishErr
}

func (m *mockTransport) Subscribe(_ context.Context, id domain.ParticipantID, kind domain.Kind) (domain.RemoteStream, error) {
	return &mockStream{id: id, kind: kind}, nil
}

func (m *mockTransport) Leave(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves++
	return nil
}

func (m *mockTransport) OnParticipantPublished(fn func(domain.ParticipantID, domain.Kind)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPublished = fn
}

func (m *mockTransport) OnParticipantLeft(fn func(domain.ParticipantID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLeft = fn
}

func (m *mockTransport) leaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaves
}

func (m *mockTransport) handlersRegistered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onPublished != nil && m.onLeft != nil
}

// mockSurface and mockRegistry track live surfaces by id.
type mockSurface struct{ id domain.SurfaceID }

func (s *mockSurface) ID() domain.SurfaceID       { return s.id }
func (s *mockSurface) Render(domain.RemoteStream) {}

type mockRegistry struct {
	mu   sync.Mutex
	live map[domain.SurfaceID]int
}

func (r *mockRegistry) Attach(id domain.SurfaceID) (domain.Surface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[id]++
	return &mockSurface{id: id}, nil
}

func (r *mockRegistry) Detach(s domain.Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[s.ID()]--
	if r.live[s.ID()] == 0 {
		delete(r.live, s.ID())
	}
}

func (r *mockRegistry) count(id domain.SurfaceID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[id]
}

type mockPlayer struct{}

func (mockPlayer) Play(domain.ParticipantID, domain.RemoteStream) error { return nil }
func (mockPlayer) Stop(domain.ParticipantID)                            {}

type mockNavigator struct {
	mu    sync.Mutex
	calls int
}

func (n *mockNavigator) NavigateToLobby() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
}

func (n *mockNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type harness struct {
	c         *Controller
	transport *mockTransport
	capturer  *mockCapturer
	surfaces  *mockRegistry
	nav       *mockNavigator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: &mockTransport{},
		capturer:  &mockCapturer{},
		surfaces:  &mockRegistry{live: make(map[domain.SurfaceID]int)},
		nav:       &mockNavigator{},
	}
	h.c = New(Config{RoomID: "room-42", LocalID: 7, ErrorTTL: 50 * time.Millisecond}, Deps{
		Transport: h.transport,
		Capturer:  h.capturer,
		Surfaces:  h.surfaces,
		Audio:     mockPlayer{},
		Navigator: h.nav,
	})
	t.Cleanup(h.c.Close)
	return h
}

func TestJoin_PublishesAudioAndVideo(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Join(context.Background()))

	snap := h.c.Snapshot()
	require.Equal(t, Active, snap.State)
	require.False(t, snap.Joining)
	require.True(t, snap.Local.Audio.Present)
	require.True(t, snap.Local.Video.Present)
	require.Nil(t, snap.Error)
	require.Len(t, h.transport.tracks, 2)
	require.NotEmpty(t, h.c.SessionID())
}

func TestJoin_RegistersHandlersBeforeJoin(t *testing.T) {
	h := newHarness(t)
	h.transport.joinGate = make(chan struct{})

	go func() { _ = h.c.Join(context.Background()) }()
	require.Eventually(t, func() bool {
		h.transport.mu.Lock()
		defer h.transport.mu.Unlock()
		return len(h.transport.joins) == 1
	}, time.Second, 5*time.Millisecond)

	require.True(t, h.transport.handlersRegistered())
	require.True(t, h.c.Snapshot().Joining)
	close(h.transport.joinGate)
}

func TestJoin_FailureTerminatesWithoutCapture(t *testing.T) {
	h := newHarness(t)
	h.transport.joinErr = &domain.JoinError{Room: "room-42", Code: 401, Err: errors.New("invalid token")}

	err := h.c.Join(context.Background())

	var joinErr *domain.JoinError
	require.ErrorAs(t, err, &joinErr)
	snap := h.c.Snapshot()
	require.Equal(t, Terminated, snap.State)
	require.False(t, snap.Joining)
	require.NotNil(t, snap.Error)
	require.Equal(t, "Failed to join meeting: invalid token", snap.Error.Message)
	require.False(t, snap.Error.Transient)
	av, audio := h.capturer.calls()
	require.Zero(t, av+audio)
}

func TestJoin_OnlyFromIdle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background()))

	require.ErrorIs(t, h.c.Join(context.Background()), ErrInvalidState)
}

func TestJoin_DeviceUnavailableFallsBackToAudio(t *testing.T) {
	h := newHarness(t)
	h.capturer.avErr = &domain.DeviceError{Code: domain.CodeNotReadable, Kind: domain.KindVideo}

	require.NoError(t, h.c.Join(context.Background()))

	snap := h.c.Snapshot()
	require.Equal(t, Active, snap.State)
	require.True(t, snap.Local.Audio.Present)
	require.False(t, snap.Local.Video.Present)
	require.True(t, snap.Local.Video.Unavailable)
	require.NotNil(t, snap.Error)
	require.True(t, snap.Error.Transient)
	require.Equal(t, "Camera access denied or in use. Joining with audio only...", snap.Error.Message)
	require.Len(t, h.transport.tracks, 1)

	require.Eventually(t, func() bool { return h.c.Snapshot().Error == nil }, time.Second, 5*time.Millisecond,
		"transient error should clear after its TTL")
}

func TestJoin_BothCapturesFail(t *testing.T) {
	h := newHarness(t)
	h.capturer.avErr = &domain.DeviceError{Code: domain.CodeNotFound}
	h.capturer.audioErr = &domain.DeviceError{Code: domain.CodeNotFound, Kind: domain.KindAudio}

	require.NoError(t, h.c.Join(context.Background()))

	snap := h.c.Snapshot()
	require.Equal(t, Active, snap.State)
	require.False(t, snap.Local.Audio.Present)
	require.False(t, snap.Local.Video.Present)
	require.Equal(t, "Could not access microphone or camera. Please check permissions.", snap.Error.Message)
	require.False(t, snap.Error.Transient)
	require.Empty(t, h.transport.tracks)
}

func TestJoin_PermissionDeniedSkipsFallback(t *testing.T) {
	h := newHarness(t)
	h.capturer.avErr = &domain.DeviceError{Code: domain.CodePermissionDenied}

	require.NoError(t, h.c.Join(context.Background()))

	snap := h.c.Snapshot()
	require.Equal(t, Active, snap.State)
	require.Equal(t, "Could not access media devices. Please check your permissions.", snap.Error.Message)
	_, audioOnly := h.capturer.calls()
	require.Zero(t, audioOnly)
}

func TestJoin_PublishFailureReleasesTracks(t *testing.T) {
	h := newHarness(t)
	h.transport.publishErr = errors.New("negotiation failed")

	require.NoError(t, h.c.Join(context.Background()))

	snap := h.c.Snapshot()
	require.Equal(t, Active, snap.State)
	require.Equal(t, "Could not publish local media.", snap.Error.Message)
	require.Equal(t, 1, h.capturer.audio.stops())
	require.Equal(t, 1, h.capturer.video.stops())
	require.False(t, snap.Local.Audio.Present)
	require.Empty(t, snap.Preview)
	require.Zero(t, h.surfaces.count(domain.LocalSurfaceID))
}

func TestJoin_ShowsSelfViewUntilLeave(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background()))

	require.Equal(t, domain.LocalSurfaceID, h.c.Snapshot().Preview)
	require.Equal(t, 1, h.surfaces.count(domain.LocalSurfaceID))

	require.NoError(t, h.c.Leave(context.Background()))

	require.Empty(t, h.c.Snapshot().Preview)
	require.Zero(t, h.surfaces.count(domain.LocalSurfaceID))
}

func TestJoin_AudioOnlyHasNoSelfView(t *testing.T) {
	h := newHarness(t)
	h.capturer.avErr = &domain.DeviceError{Code: domain.CodeNotReadable}

	require.NoError(t, h.c.Join(context.Background()))

	require.Empty(t, h.c.Snapshot().Preview)
	require.Zero(t, h.surfaces.count(domain.LocalSurfaceID))
}

func TestLeave_FromIdleIsNoop(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.c.Leave(context.Background()))

	require.Equal(t, Idle, h.c.Snapshot().State)
	require.Zero(t, h.transport.leaveCount())
	require.Zero(t, h.nav.count())
}

func TestLeave_ReleasesTracksAndNavigates(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background()))

	require.NoError(t, h.c.Leave(context.Background()))
	require.NoError(t, h.c.Leave(context.Background()))

	require.Equal(t, Terminated, h.c.Snapshot().State)
	require.Equal(t, 1, h.capturer.audio.stops())
	require.Equal(t, 1, h.capturer.video.stops())
	require.Equal(t, 1, h.transport.leaveCount())
	require.Equal(t, 1, h.nav.count())
}

func TestLeave_DuringJoinEndsSession(t *testing.T) {
	h := newHarness(t)
	h.transport.joinGate = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- h.c.Join(context.Background()) }()
	require.Eventually(t, func() bool { return h.c.Snapshot().State == Joining }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.Leave(context.Background()))
	close(h.transport.joinGate)

	require.ErrorIs(t, <-errc, ErrSessionEnded)
	require.Equal(t, Terminated, h.c.Snapshot().State)
	av, _ := h.capturer.calls()
	require.Zero(t, av, "no capture after leave")
}

func TestLeave_DuringCaptureReleasesLateTracks(t *testing.T) {
	h := newHarness(t)
	h.capturer.gate = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- h.c.Join(context.Background()) }()
	require.Eventually(t, func() bool { return h.c.Snapshot().State == PublishingMedia }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.Leave(context.Background()))
	close(h.capturer.gate)

	require.ErrorIs(t, <-errc, ErrSessionEnded)
	require.Equal(t, 1, h.capturer.audio.stops())
	require.Equal(t, 1, h.capturer.video.stops())
	require.Empty(t, h.transport.tracks)
	require.Equal(t, Terminated, h.c.Snapshot().State)
}

func TestToggleMute(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background()))

	muted, err := h.c.ToggleMute()
	require.NoError(t, err)
	require.True(t, muted)
	require.False(t, h.c.Snapshot().Local.Audio.Enabled)

	muted, err = h.c.ToggleMute()
	require.NoError(t, err)
	require.False(t, muted)
}

func TestToggleCamera(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background()))

	off, err := h.c.ToggleCamera()
	require.NoError(t, err)
	require.True(t, off)
	require.False(t, h.capturer.video.Enabled())
}

func TestToggleMute_WithoutAudioTrack(t *testing.T) {
	h := newHarness(t)
	h.capturer.avErr = &domain.DeviceError{Code: domain.CodePermissionDenied}
	require.NoError(t, h.c.Join(context.Background()))
	before := h.c.Snapshot().Local

	_, err := h.c.ToggleMute()

	require.ErrorIs(t, err, ErrNoAudioTrack)
	snap := h.c.Snapshot()
	require.Equal(t, before, snap.Local)
	require.True(t, snap.Error.Transient)
}

func TestToggleCamera_AudioOnlyFallback(t *testing.T) {
	h := newHarness(t)
	h.capturer.avErr = &domain.DeviceError{Code: domain.CodeNotReadable}
	require.NoError(t, h.c.Join(context.Background()))

	_, err := h.c.ToggleCamera()

	require.ErrorIs(t, err, ErrNoVideoTrack)
}

func TestToggle_InvalidBeforeJoin(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.ToggleMute()

	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRemoteParticipantLifecycle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background()))
	require.Equal(t, []string{"room-42"}, h.transport.joins)

	h.transport.onPublished("9", domain.KindVideo)
	require.Eventually(t, func() bool { return h.surfaces.count("remote-9") == 1 }, time.Second, 5*time.Millisecond)
	parts := h.c.Snapshot().Participants
	require.Len(t, parts, 1)
	require.Equal(t, domain.SurfaceID("remote-9"), parts[0].Surface)

	h.transport.onLeft("9")

	require.Zero(t, h.surfaces.count("remote-9"))
	require.Empty(t, h.c.Snapshot().Participants)
}

func TestLeave_ClearsRoster(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background()))
	h.transport.onPublished("9", domain.KindVideo)
	require.Eventually(t, func() bool { return h.surfaces.count("remote-9") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.Leave(context.Background()))

	require.Zero(t, h.surfaces.count("remote-9"))
	require.Empty(t, h.c.Snapshot().Participants)
}

func TestClose_FromIdleRefusesJoin(t *testing.T) {
	h := newHarness(t)

	h.c.Close()

	require.ErrorIs(t, h.c.Join(context.Background()), ErrClosed)
	require.Zero(t, h.transport.leaveCount())
}

func TestClose_RacingJoinReleasesDevices(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t)

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_ = h.c.Join(context.Background())
		}()
		go func() {
			defer wg.Done()
			<-start
			h.c.Close()
		}()
		close(start)
		wg.Wait()

		h.capturer.mu.Lock()
		audio, video := h.capturer.audio, h.capturer.video
		h.capturer.mu.Unlock()
		if audio != nil {
			require.Equal(t, 1, audio.stops(), "run %d", i)
			require.Equal(t, 1, video.stops(), "run %d", i)
		}
		require.ErrorIs(t, h.c.Join(context.Background()), ErrClosed)
		require.NotEqual(t, Active, h.c.Snapshot().State)
	}
}

func TestClose_LeavesActiveSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Join(context.Background()))

	h.c.Close()
	h.c.Close()

	require.Equal(t, Terminated, h.c.Snapshot().State)
	require.Equal(t, 1, h.transport.leaveCount())
	require.Equal(t, 1, h.nav.count())
}

func TestBanner_NewerErrorSurvivesOlderTTL(t *testing.T) {
	b := newBanner(30 * time.Millisecond)
	defer b.close()

	b.show("first", true)
	b.show("second", false)
	time.Sleep(60 * time.Millisecond)

	require.Equal(t, "second", b.current().Message)
}

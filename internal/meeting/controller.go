package meeting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"meetcall/internal/device"
	"meetcall/internal/domain"
	"meetcall/internal/publish"
	"meetcall/internal/roster"
)

var (
	ErrInvalidState = errors.New("operation not valid in current state")
	ErrNoAudioTrack = errors.New("no local audio track")
	ErrNoVideoTrack = errors.New("no local video track")
	// ErrSessionEnded is returned by Join when Leave ran while it was in flight.
	ErrSessionEnded = errors.New("session ended")
	ErrClosed       = errors.New("controller closed")
)

// User-visible messages.
const (
	msgAudioOnlyFallback = "Camera access denied or in use. Joining with audio only..."
	msgNoDevices         = "Could not access microphone or camera. Please check permissions."
	msgDeviceAccess      = "Could not access media devices. Please check your permissions."
	msgPublishFailed     = "Could not publish local media."
	msgJoinFailedPrefix  = "Failed to join meeting: "
	msgNoMicrophone      = "No microphone is available."
	msgNoCamera          = "No camera is available."
)

// State is the lifecycle state of a session.
type State int

const (
	Idle State = iota
	Joining
	PublishingMedia
	Active
	Leaving
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case PublishingMedia:
		return "publishing_media"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config identifies the session a controller runs.
type Config struct {
	RoomID string
	// Credential is the room access token; empty means none.
	Credential string
	LocalID    int
	ErrorTTL   time.Duration
}

// Deps are the collaborators a controller drives.
type Deps struct {
	Transport domain.Transport
	Capturer  domain.Capturer
	Surfaces  domain.SurfaceRegistry
	Audio     domain.AudioPlayer
	Navigator domain.Navigator
}

// Snapshot is an immutable view of a session.
type Snapshot struct {
	SessionID    string           `json:"session_id"`
	RoomID       string           `json:"room_id"`
	LocalID      int              `json:"local_id"`
	State        State            `json:"state"`
	Joining      bool             `json:"joining"`
	Local        publish.State    `json:"local"`
	Preview      domain.SurfaceID `json:"preview,omitempty"`
	Participants []roster.View    `json:"participants"`
	Error        *ErrorState      `json:"error,omitempty"`
}

// Controller runs exactly one session: join, publish, steady state, leave.
type Controller struct {
	cfg       Config
	sessionID string

	transport domain.Transport
	acquirer  *device.Acquirer
	tracks    *publish.Manager
	roster    *roster.Manager
	surfaces  domain.SurfaceRegistry
	nav       domain.Navigator
	banner    *banner
	log       zerolog.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	closed  bool
	preview domain.Surface
}

func New(cfg Config, deps Deps) *Controller {
	sid := uuid.NewString()
	return &Controller{
		cfg:       cfg,
		sessionID: sid,
		transport: deps.Transport,
		acquirer:  device.NewAcquirer(deps.Capturer),
		tracks:    publish.NewManager(deps.Transport),
		roster:    roster.NewManager(deps.Transport, deps.Surfaces, deps.Audio),
		surfaces:  deps.Surfaces,
		nav:       deps.Navigator,
		banner:    newBanner(cfg.ErrorTTL),
		log: log.With().
			Str("module", "meeting").
			Str("sid", sid).
			Str("room", cfg.RoomID).
			Logger(),
	}
}

func (c *Controller) SessionID() string { return c.sessionID }

// Join enters the room and publishes whatever local media can be captured.
// Device failures degrade the session but do not fail Join.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Idle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("join from %s: %w", st, ErrInvalidState)
	}
	c.state = Joining
	gen := c.gen
	c.mu.Unlock()

	// Handlers go in before the join so no early publication is missed.
	c.roster.Listen(c.transport)

	c.log.Info().Int("uid", c.cfg.LocalID).Bool("credential", c.cfg.Credential != "").Msg("joining")
	err := c.transport.Join(ctx, c.cfg.RoomID, c.cfg.Credential, c.cfg.LocalID)
	if !c.current(gen) {
		return ErrSessionEnded
	}
	if err != nil {
		c.log.Error().Err(err).Msg("join failed")
		c.banner.show(msgJoinFailedPrefix+joinReason(err), false)
		c.advance(gen, Terminated)
		return fmt.Errorf("join meeting: %w", err)
	}

	c.advance(gen, PublishingMedia)
	if err := c.acquireAndPublish(ctx, gen); err != nil {
		return err
	}
	if !c.advance(gen, Active) {
		return ErrSessionEnded
	}
	c.log.Info().Msg("active")
	return nil
}

func joinReason(err error) string {
	var joinErr *domain.JoinError
	if errors.As(err, &joinErr) && joinErr.Err != nil {
		return joinErr.Err.Error()
	}
	return err.Error()
}

// acquireAndPublish runs the capture fallback policy. It fails only when
// the session ended underneath it.
func (c *Controller) acquireAndPublish(ctx context.Context, gen uint64) error {
	out := c.acquirer.AcquireAudioVideo(ctx)
	if !c.current(gen) {
		release(out)
		return ErrSessionEnded
	}

	switch out.Class {
	case device.Success:
		if !c.hold(gen, out.Audio, out.Video) {
			return ErrSessionEnded
		}
		c.startPreview(gen, out.Video)

	case device.DeviceUnavailable:
		c.log.Warn().Err(out.Err).Msg("camera unavailable, trying audio only")
		fallback := c.acquirer.AcquireAudioOnly(ctx)
		if !c.current(gen) {
			release(fallback)
			return ErrSessionEnded
		}
		if fallback.Class != device.Success {
			c.log.Error().Err(fallback.Err).Stringer("class", fallback.Class).Msg("audio capture failed")
			c.banner.show(msgNoDevices, false)
			return nil
		}
		if !c.hold(gen, fallback.Audio) {
			return ErrSessionEnded
		}
		c.tracks.MarkUnavailable(domain.KindVideo)
		c.banner.show(msgAudioOnlyFallback, true)

	default:
		c.log.Error().Err(out.Err).Stringer("class", out.Class).Msg("device access failed")
		c.banner.show(msgDeviceAccess, false)
		return nil
	}

	err := c.tracks.Publish(ctx)
	if !c.current(gen) {
		c.tracks.ReleaseAll()
		return ErrSessionEnded
	}
	if err != nil {
		c.log.Error().Err(err).Msg("publish failed")
		c.stopPreview()
		c.tracks.ReleaseAll()
		c.banner.show(msgPublishFailed, false)
	}
	return nil
}

// hold hands captured tracks to the publish manager. When Leave ran
// meanwhile the tracks are released and hold reports false.
func (c *Controller) hold(gen uint64, tracks ...domain.LocalTrack) bool {
	for _, t := range tracks {
		if err := c.tracks.Hold(t); err != nil {
			c.log.Error().Err(err).Msg("hold track")
			_ = t.Stop()
		}
	}
	if !c.current(gen) {
		c.tracks.ReleaseAll()
		return false
	}
	return true
}

// startPreview shows the local camera on the self-view surface. A track
// without a preview source leaves the session without one.
func (c *Controller) startPreview(gen uint64, track domain.LocalTrack) {
	pv, ok := track.(domain.Previewer)
	if !ok {
		return
	}
	stream, err := pv.Preview()
	if err != nil {
		c.log.Debug().Err(err).Msg("no self-view")
		return
	}
	surface, err := c.surfaces.Attach(domain.LocalSurfaceID)
	if err != nil {
		c.log.Warn().Err(err).Msg("attach self-view")
		_ = stream.Close()
		return
	}
	surface.Render(stream)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.surfaces.Detach(surface)
		return
	}
	c.preview = surface
	c.mu.Unlock()
}

func (c *Controller) stopPreview() {
	c.mu.Lock()
	s := c.preview
	c.preview = nil
	c.mu.Unlock()
	if s != nil {
		c.surfaces.Detach(s)
	}
}

func release(out device.Outcome) {
	for _, t := range []domain.LocalTrack{out.Audio, out.Video} {
		if t != nil {
			_ = t.Stop()
		}
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// advance moves to next if gen is still current.
func (c *Controller) advance(gen uint64, next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.log.Debug().Stringer("from", c.state).Stringer("to", next).Msg("state")
	c.state = next
	return true
}

// Leave tears the session down and returns to the lobby. It is a no-op
// unless a join is in flight or the session is active.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Joining, PublishingMedia, Active:
	default:
		c.mu.Unlock()
		return nil
	}
	c.state = Leaving
	c.gen++
	c.mu.Unlock()

	c.log.Info().Msg("leaving")
	c.stopPreview()
	c.tracks.ReleaseAll()
	c.roster.Clear()
	if err := c.transport.Leave(ctx); err != nil {
		c.log.Warn().Err(err).Msg("transport leave")
	}

	c.mu.Lock()
	c.state = Terminated
	c.mu.Unlock()

	c.nav.NavigateToLobby()
	return nil
}

// ToggleMute flips the microphone and reports whether it is now muted.
func (c *Controller) ToggleMute() (bool, error) {
	enabled, err := c.toggle(domain.KindAudio, ErrNoAudioTrack, msgNoMicrophone)
	return !enabled, err
}

// ToggleCamera flips the camera and reports whether it is now off.
func (c *Controller) ToggleCamera() (bool, error) {
	enabled, err := c.toggle(domain.KindVideo, ErrNoVideoTrack, msgNoCamera)
	return !enabled, err
}

// toggle returns the track's enabled flag after the call.
func (c *Controller) toggle(kind domain.Kind, missing error, msg string) (bool, error) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != PublishingMedia && st != Active {
		return false, fmt.Errorf("toggle %s in %s: %w", kind, st, ErrInvalidState)
	}

	local := c.tracks.State()
	slot := local.Audio
	if kind == domain.KindVideo {
		slot = local.Video
	}
	if !slot.Present {
		c.banner.show(msg, true)
		return false, missing
	}

	next := !slot.Enabled
	if err := c.tracks.SetEnabled(kind, next); err != nil {
		if errors.Is(err, publish.ErrNoTrack) {
			c.banner.show(msg, true)
			return false, missing
		}
		return slot.Enabled, fmt.Errorf("toggle %s: %w", kind, err)
	}
	c.log.Info().Str("kind", string(kind)).Bool("enabled", next).Msg("toggled")
	return next, nil
}

// Close tears down from any state and refuses later joins.
func (c *Controller) Close() {
	// Refuse new joins first; a join already past the check is in Joining
	// and Leave tears it down.
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.Leave(context.Background()); err != nil {
		c.log.Warn().Err(err).Msg("leave on close")
	}
	c.banner.close()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	st := c.state
	var preview domain.SurfaceID
	if c.preview != nil {
		preview = c.preview.ID()
	}
	c.mu.Unlock()

	return Snapshot{
		SessionID:    c.sessionID,
		RoomID:       c.cfg.RoomID,
		LocalID:      c.cfg.LocalID,
		State:        st,
		Joining:      st == Joining || st == PublishingMedia,
		Local:        c.tracks.State(),
		Preview:      preview,
		Participants: c.roster.Snapshot(),
		Error:        c.banner.current(),
	}
}

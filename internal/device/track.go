package device

import (
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"meetcall/internal/domain"
)

// Track is a device-backed local track. Disabling it detaches the source
// from its RTP sender so the publication stays negotiated.
type Track struct {
	id     string
	kind   domain.Kind
	local  webrtc.TrackLocal
	source io.Closer

	// preview opens a self-view stream; nil when the source has none.
	preview func() (domain.RemoteStream, error)

	mu       sync.Mutex
	enabled  bool
	sender   domain.TrackSender
	stopOnce sync.Once
	stopErr  error
}

// NewTrack wraps a capture source. source is closed by Stop and may be nil
// when local owns no device.
func NewTrack(kind domain.Kind, local webrtc.TrackLocal, source io.Closer) *Track {
	return &Track{
		id:      local.ID(),
		kind:    kind,
		local:   local,
		source:  source,
		enabled: true,
	}
}

func (t *Track) ID() string                    { return t.id }
func (t *Track) Kind() domain.Kind             { return t.kind }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

// Preview opens a second encoded reader on the capture source.
func (t *Track) Preview() (domain.RemoteStream, error) {
	if t.preview == nil {
		return nil, ErrNoPreview
	}
	return t.preview()
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// BindSender records the RTP sender carrying this track once it is published.
func (t *Track) BindSender(sender domain.TrackSender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sender = sender
	if !t.enabled {
		_ = sender.ReplaceTrack(nil)
	}
}

func (t *Track) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled == enabled {
		return nil
	}
	if t.sender != nil {
		var next webrtc.TrackLocal
		if enabled {
			next = t.local
		}
		if err := t.sender.ReplaceTrack(next); err != nil {
			return fmt.Errorf("%s track %s: replace: %w", t.kind, t.id, err)
		}
	}
	t.enabled = enabled
	return nil
}

// Stop releases the capture device. Later calls return the first result.
func (t *Track) Stop() error {
	t.stopOnce.Do(func() {
		if t.source != nil {
			t.stopErr = t.source.Close()
		}
	})
	return t.stopErr
}

package controls

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout is how long controls stay visible after the last activity.
const DefaultTimeout = 3 * time.Second

// Visibility shows controls on activity and hides them after a quiet period.
type Visibility struct {
	timeout  time.Duration
	onChange func(visible bool)

	mu      sync.Mutex
	visible bool
	timer   *time.Timer
	gen     uint64
	closed  bool
}

// New creates a hidden Visibility. onChange may be nil and is called
// without the internal lock held.
func New(timeout time.Duration, onChange func(visible bool)) *Visibility {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Visibility{timeout: timeout, onChange: onChange}
}

// Activity shows the controls and restarts the countdown.
func (v *Visibility) Activity() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.gen++
	gen := v.gen
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(v.timeout, func() { v.expire(gen) })
	changed := !v.visible
	v.visible = true
	v.mu.Unlock()

	if changed {
		v.notify(true)
	}
}

func (v *Visibility) expire(gen uint64) {
	v.mu.Lock()
	if v.closed || gen != v.gen || !v.visible {
		v.mu.Unlock()
		return
	}
	v.visible = false
	v.timer = nil
	v.mu.Unlock()

	v.notify(false)
}

func (v *Visibility) notify(visible bool) {
	log.Debug().Str("module", "controls").Bool("visible", visible).Msg("visibility changed")
	if v.onChange != nil {
		v.onChange(visible)
	}
}

func (v *Visibility) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

// Close stops the countdown. Later activity and pending expiries are ignored.
func (v *Visibility) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

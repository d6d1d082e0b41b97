package meeting

import (
	"sync"
	"time"
)

// DefaultErrorTTL is how long a transient error stays visible.
const DefaultErrorTTL = 5 * time.Second

// ErrorState is the most recent user-visible error.
type ErrorState struct {
	Message   string    `json:"message"`
	Transient bool      `json:"transient"`
	At        time.Time `json:"at"`
}

// banner holds one error at a time. A transient error clears itself after
// ttl unless a newer error replaced it.
type banner struct {
	ttl time.Duration

	mu     sync.Mutex
	cur    *ErrorState
	timer  *time.Timer
	gen    uint64
	closed bool
}

func newBanner(ttl time.Duration) *banner {
	if ttl <= 0 {
		ttl = DefaultErrorTTL
	}
	return &banner{ttl: ttl}
}

func (b *banner) show(msg string, transient bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.cur = &ErrorState{Message: msg, Transient: transient, At: time.Now()}

	if transient && !b.closed {
		gen := b.gen
		b.timer = time.AfterFunc(b.ttl, func() { b.expire(gen) })
	}
}

func (b *banner) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen == b.gen {
		b.cur = nil
		b.timer = nil
	}
}

func (b *banner) current() *ErrorState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur == nil {
		return nil
	}
	e := *b.cur
	return &e
}

func (b *banner) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

package controls

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// changeLog records visibility transitions.
type changeLog struct {
	mu      sync.Mutex
	changes []bool
}

func (c *changeLog) record(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, visible)
}

func (c *changeLog) get() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.changes...)
}

func TestActivity_ShowsThenHides(t *testing.T) {
	log := &changeLog{}
	v := New(30*time.Millisecond, log.record)
	defer v.Close()

	require.False(t, v.Visible())
	v.Activity()
	require.True(t, v.Visible())

	require.Eventually(t, func() bool { return !v.Visible() }, time.Second, 5*time.Millisecond)
	require.Equal(t, []bool{true, false}, log.get())
}

func TestActivity_RestartsCountdown(t *testing.T) {
	log := &changeLog{}
	v := New(80*time.Millisecond, log.record)
	defer v.Close()

	v.Activity()
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		v.Activity()
	}
	require.True(t, v.Visible(), "repeated activity must keep controls visible")
	require.Equal(t, []bool{true}, log.get())

	require.Eventually(t, func() bool { return !v.Visible() }, time.Second, 5*time.Millisecond)
}

func TestClose_IgnoresLaterActivityAndPendingExpiry(t *testing.T) {
	log := &changeLog{}
	v := New(20*time.Millisecond, log.record)

	v.Activity()
	v.Close()
	time.Sleep(50 * time.Millisecond)
	v.Activity()

	require.Equal(t, []bool{true}, log.get())
	require.True(t, v.Visible(), "close freezes the last state")
}

func TestNew_DefaultTimeout(t *testing.T) {
	v := New(0, nil)
	defer v.Close()

	require.Equal(t, DefaultTimeout, v.timeout)
	v.Activity()
	require.True(t, v.Visible())
}

package idle

import (
	"sync"
	"time"
)

// Monitor tracks the instant of the last observed user interaction. Any
// external signal counts: an explicit UI call, a successful heartbeat, a
// command typed at a prompt. The monitor does not care about the source.
type Monitor struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewMonitor creates a monitor whose idle clock starts at zero. A nil clock
// means time.Now; tests inject their own.
func NewMonitor(now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{now: now, last: now()}
}

// Record marks activity. Safe to call at arbitrarily high frequency: it
// only moves the last-activity instant forward, never backward.
func (m *Monitor) Record() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t := m.now(); t.After(m.last) {
		m.last = t
	}
}

// Idle returns the elapsed time since the last recorded activity. It is
// non-negative and monotonically non-decreasing between Record calls.
func (m *Monitor) Idle() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.now().Sub(m.last)
	if d < 0 {
		return 0
	}
	return d
}

// LastActivity returns the last recorded activity instant.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Package idle tracks user inactivity and derives the session timeout phase
// from it: a staged warning, a blocking countdown, and finally a forced
// logout.
package idle

import (
	"fmt"
	"time"
)

// Phase is the timeout phase derived from elapsed inactivity. It has no
// stored identity; it is recomputed from the idle duration on every tick.
type Phase int

const (
	// PhaseActive: recent activity, nothing to show.
	PhaseActive Phase = iota
	// PhaseWarning: a non-blocking notice with a countdown.
	PhaseWarning
	// PhaseCritical: a blocking modal; the user must extend or be logged out.
	PhaseCritical
	// PhaseExpired: the session is over. Only a successful extend leaves it.
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseWarning:
		return "warning"
	case PhaseCritical:
		return "critical"
	case PhaseExpired:
		return "expired"
	default:
		return "active"
	}
}

// Thresholds are the ordered idle durations separating the phases, plus the
// display windows for the warning and modal countdowns.
type Thresholds struct {
	Warn   time.Duration // idle >= Warn   -> Warning
	Modal  time.Duration // idle >= Modal  -> Critical
	Logout time.Duration // idle >= Logout -> Expired

	WarnWindow  time.Duration // countdown shown while in Warning
	ModalWindow time.Duration // countdown shown while in Critical
}

// DefaultThresholds are the design's reference values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Warn:        2 * time.Minute,
		Modal:       3 * time.Minute,
		Logout:      5 * time.Minute,
		WarnWindow:  60 * time.Second,
		ModalWindow: 30 * time.Second,
	}
}

// Validate checks the required ordering warn < modal < logout.
func (t Thresholds) Validate() error {
	if t.Warn <= 0 {
		return fmt.Errorf("warn threshold must be positive, got %s", t.Warn)
	}
	if t.Modal <= t.Warn {
		return fmt.Errorf("modal threshold (%s) must exceed warn threshold (%s)", t.Modal, t.Warn)
	}
	if t.Logout <= t.Modal {
		return fmt.Errorf("logout threshold (%s) must exceed modal threshold (%s)", t.Logout, t.Modal)
	}
	return nil
}

// PhaseAt maps an idle duration onto the corresponding phase. Pure and
// monotonic: a larger idle duration never maps to an earlier phase.
func (t Thresholds) PhaseAt(idle time.Duration) Phase {
	switch {
	case idle >= t.Logout:
		return PhaseExpired
	case idle >= t.Modal:
		return PhaseCritical
	case idle >= t.Warn:
		return PhaseWarning
	default:
		return PhaseActive
	}
}

// CountdownAt returns the countdown to display for the given idle duration:
// time left in the warning window, time left in the modal window, time until
// the warning while active, and zero once expired. Never negative.
func (t Thresholds) CountdownAt(idle time.Duration) time.Duration {
	var d time.Duration
	switch t.PhaseAt(idle) {
	case PhaseActive:
		d = t.Warn - idle
	case PhaseWarning:
		d = t.Warn + t.WarnWindow - idle
	case PhaseCritical:
		d = t.Modal + t.ModalWindow - idle
	case PhaseExpired:
		return 0
	}
	if d < 0 {
		return 0
	}
	return d
}

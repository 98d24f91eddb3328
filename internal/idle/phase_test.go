package idle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseAt(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		idle time.Duration
		want Phase
	}{
		{0, PhaseActive},
		{119 * time.Second, PhaseActive},
		{120 * time.Second, PhaseWarning},
		{150 * time.Second, PhaseWarning},
		{179 * time.Second, PhaseWarning},
		{180 * time.Second, PhaseCritical},
		{299 * time.Second, PhaseCritical},
		{300 * time.Second, PhaseExpired},
		{301 * time.Second, PhaseExpired},
		{time.Hour, PhaseExpired},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, th.PhaseAt(tc.idle), "idle=%s", tc.idle)
	}
}

func TestPhaseAtIsMonotonic(t *testing.T) {
	th := DefaultThresholds()

	prev := PhaseActive
	for idle := time.Duration(0); idle <= 6*time.Minute; idle += time.Second {
		phase := th.PhaseAt(idle)
		assert.GreaterOrEqual(t, phase, prev, "phase regressed at idle=%s", idle)
		prev = phase
	}
}

func TestCountdownAt(t *testing.T) {
	th := DefaultThresholds()

	// Warning countdown: warn + warnWindow - idle
	assert.Equal(t, 60*time.Second, th.CountdownAt(120*time.Second))
	assert.Equal(t, 30*time.Second, th.CountdownAt(150*time.Second))

	// Critical countdown: modal + modalWindow - idle
	assert.Equal(t, 30*time.Second, th.CountdownAt(180*time.Second))
	assert.Equal(t, 20*time.Second, th.CountdownAt(190*time.Second))

	// Active counts down to the warning threshold.
	assert.Equal(t, 2*time.Minute, th.CountdownAt(0))
	assert.Equal(t, time.Second, th.CountdownAt(119*time.Second))

	// Expired has nothing left to count.
	assert.Equal(t, time.Duration(0), th.CountdownAt(300*time.Second))
	assert.Equal(t, time.Duration(0), th.CountdownAt(time.Hour))

	// Never negative, even past the display window.
	assert.Equal(t, time.Duration(0), th.CountdownAt(250*time.Second))
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	bad := DefaultThresholds()
	bad.Warn = 0
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.Modal = bad.Warn
	assert.Error(t, bad.Validate())

	bad = DefaultThresholds()
	bad.Logout = bad.Modal
	assert.Error(t, bad.Validate())
}

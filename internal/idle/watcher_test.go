package idle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, cfg WatcherConfig) (*Watcher, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	cfg.Monitor = NewMonitor(clock.Now)
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}

	w, err := NewWatcher(cfg)
	require.NoError(t, err)
	return w, clock
}

func TestWatcherRequiresValidThresholds(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{
		Monitor:    NewMonitor(nil),
		Thresholds: Thresholds{Warn: time.Minute, Modal: time.Minute, Logout: time.Minute},
	})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Thresholds: DefaultThresholds()})
	assert.Error(t, err)
}

func TestWatcherExpireFiresExactlyOncePerEpisode(t *testing.T) {
	var expirations int32
	w, clock := newTestWatcher(t, WatcherConfig{
		OnExpire: func(context.Context) { atomic.AddInt32(&expirations, 1) },
	})
	ctx := context.Background()

	clock.Advance(5 * time.Minute)

	// The phase stays Expired on every tick, but the logout trigger must
	// fire only once while the episode lasts.
	for i := 0; i < 10; i++ {
		w.evaluate(ctx)
		clock.Advance(time.Second)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&expirations))

	// New episode after an activity reset: the trigger is armed again.
	w.monitor.Record()
	w.evaluate(ctx)
	assert.Equal(t, PhaseActive, w.Status().Phase)

	clock.Advance(5 * time.Minute)
	for i := 0; i < 5; i++ {
		w.evaluate(ctx)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&expirations))
}

func TestWatcherActivityCollapsesAnyPhaseToActive(t *testing.T) {
	w, clock := newTestWatcher(t, WatcherConfig{})
	ctx := context.Background()

	// recordActivity at idle = 4 minutes (CriticalModal) must yield Active
	// on the next recomputation.
	clock.Advance(4 * time.Minute)
	w.evaluate(ctx)
	assert.Equal(t, PhaseCritical, w.Status().Phase)

	w.monitor.Record()
	w.evaluate(ctx)
	assert.Equal(t, PhaseActive, w.Status().Phase)
}

func TestWatcherStatusProgression(t *testing.T) {
	w, clock := newTestWatcher(t, WatcherConfig{})

	assert.Equal(t, PhaseActive, w.Status().Phase)

	clock.Advance(119 * time.Second)
	assert.Equal(t, PhaseActive, w.Status().Phase)

	clock.Advance(time.Second) // 120s
	st := w.Status()
	assert.Equal(t, PhaseWarning, st.Phase)
	assert.Equal(t, 60*time.Second, st.Countdown)

	clock.Advance(60 * time.Second) // 180s
	st = w.Status()
	assert.Equal(t, PhaseCritical, st.Phase)
	assert.Equal(t, 30*time.Second, st.Countdown)

	clock.Advance(120 * time.Second) // 300s
	st = w.Status()
	assert.Equal(t, PhaseExpired, st.Phase)
	assert.Equal(t, time.Duration(0), st.Countdown)
}

func TestWatcherExtendRecordsActivityOnSuccess(t *testing.T) {
	w, clock := newTestWatcher(t, WatcherConfig{
		Heartbeat: func(context.Context) error { return nil },
	})
	ctx := context.Background()

	// Extend from CriticalModal at idle=190s resets to Active (idle 0).
	clock.Advance(190 * time.Second)
	w.evaluate(ctx)
	assert.Equal(t, PhaseCritical, w.Status().Phase)

	require.NoError(t, w.Extend(ctx))
	assert.Equal(t, time.Duration(0), w.monitor.Idle())

	w.evaluate(ctx)
	assert.Equal(t, PhaseActive, w.Status().Phase)
}

func TestWatcherExtendDoesNotResetOnHeartbeatFailure(t *testing.T) {
	heartbeatErr := errors.New("backend unavailable")
	w, clock := newTestWatcher(t, WatcherConfig{
		Heartbeat: func(context.Context) error { return heartbeatErr },
	})

	clock.Advance(4 * time.Minute)

	err := w.Extend(context.Background())
	assert.ErrorIs(t, err, heartbeatErr)
	assert.Equal(t, 4*time.Minute, w.monitor.Idle())
	assert.Equal(t, PhaseCritical, w.Status().Phase)
}

func TestWatcherExtendCoalescesConcurrentCalls(t *testing.T) {
	var heartbeats int32
	release := make(chan struct{})
	started := make(chan struct{})

	w, _ := newTestWatcher(t, WatcherConfig{
		Heartbeat: func(context.Context) error {
			atomic.AddInt32(&heartbeats, 1)
			close(started)
			<-release
			return nil
		},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Extend(ctx)
	}()

	<-started

	// While a heartbeat is in flight, further extends are ignored.
	for i := 0; i < 5; i++ {
		assert.NoError(t, w.Extend(ctx))
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&heartbeats))
}

func TestWatcherExtendRecoversFromExpired(t *testing.T) {
	var expirations int32
	w, clock := newTestWatcher(t, WatcherConfig{
		Heartbeat: func(context.Context) error { return nil },
		OnExpire:  func(context.Context) { atomic.AddInt32(&expirations, 1) },
	})
	ctx := context.Background()

	clock.Advance(6 * time.Minute)
	w.evaluate(ctx)
	assert.Equal(t, PhaseExpired, w.Status().Phase)
	assert.Equal(t, int32(1), atomic.LoadInt32(&expirations))

	require.NoError(t, w.Extend(ctx))
	w.evaluate(ctx)
	assert.Equal(t, PhaseActive, w.Status().Phase)

	// The machine behaves as freshly reset: the whole staircase again.
	clock.Advance(5 * time.Minute)
	w.evaluate(ctx)
	assert.Equal(t, int32(2), atomic.LoadInt32(&expirations))
}

func TestWatcherStatusNotifications(t *testing.T) {
	var mu sync.Mutex
	var phases []Phase

	w, clock := newTestWatcher(t, WatcherConfig{
		OnStatus: func(st Status) {
			mu.Lock()
			phases = append(phases, st.Phase)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	w.evaluate(ctx) // Active, no change: no notification
	clock.Advance(2 * time.Minute)
	w.evaluate(ctx) // Warning
	clock.Advance(time.Minute)
	w.evaluate(ctx) // Critical
	w.evaluate(ctx) // still Critical: countdown tick notification

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseWarning, PhaseCritical, PhaseCritical}, phases)
}

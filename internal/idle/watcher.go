package idle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultInterval = time.Second

// Status is a snapshot of the timeout state machine.
type Status struct {
	Phase     Phase
	Countdown time.Duration
	Idle      time.Duration
}

// WatcherConfig wires a Watcher.
type WatcherConfig struct {
	Monitor    *Monitor
	Thresholds Thresholds

	// Interval between recomputations. Coarse is fine; it only affects
	// countdown smoothness, never which phase is derived. Defaults to 1s.
	Interval time.Duration

	// Heartbeat is the authenticated no-op call issued by Extend, routed
	// through the gateway so a stale token is refreshed along the way.
	Heartbeat func(ctx context.Context) error

	// OnExpire is the forced-logout path, fired at most once per idle
	// episode when the phase reaches Expired.
	OnExpire func(ctx context.Context)

	// OnStatus, when set, receives a snapshot on every phase change and on
	// every tick spent outside the Active phase (for countdown display).
	OnStatus func(Status)
}

// Watcher drives the timeout state machine from a periodic tick. The phase
// is recomputed from the idle duration on every tick rather than cached, so
// any activity reset collapses it back to Active on the next evaluation no
// matter which phase was current.
type Watcher struct {
	monitor    *Monitor
	thresholds Thresholds
	interval   time.Duration
	heartbeat  func(ctx context.Context) error
	onExpire   func(ctx context.Context)
	onStatus   func(Status)

	mu          sync.Mutex
	lastPhase   Phase
	expireFired bool
	extending   bool
}

func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Monitor == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	return &Watcher{
		monitor:    cfg.Monitor,
		thresholds: cfg.Thresholds,
		interval:   interval,
		heartbeat:  cfg.Heartbeat,
		onExpire:   cfg.OnExpire,
		onStatus:   cfg.OnStatus,
	}, nil
}

// Run evaluates the state machine once immediately and then on every tick
// until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.evaluate(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping idle watcher")
			return ctx.Err()
		case <-ticker.C:
			w.evaluate(ctx)
		}
	}
}

// Status returns the current snapshot without waiting for a tick.
func (w *Watcher) Status() Status {
	idle := w.monitor.Idle()
	return Status{
		Phase:     w.thresholds.PhaseAt(idle),
		Countdown: w.thresholds.CountdownAt(idle),
		Idle:      idle,
	}
}

// evaluate recomputes the phase and drives the side effects: status
// notifications and the once-per-episode expiry trigger. While idle stays
// past the logout threshold the phase keeps being Expired on every tick,
// but OnExpire must not fire again until activity starts a new episode.
func (w *Watcher) evaluate(ctx context.Context) {
	st := w.Status()

	w.mu.Lock()
	phaseChanged := st.Phase != w.lastPhase
	w.lastPhase = st.Phase

	fireExpire := false
	if st.Phase == PhaseExpired {
		if !w.expireFired {
			w.expireFired = true
			fireExpire = true
		}
	} else {
		// Activity reset ended the idle episode; arm the trigger again.
		w.expireFired = false
	}
	w.mu.Unlock()

	if phaseChanged {
		log.Debug().
			Stringer("phase", st.Phase).
			Dur("idle", st.Idle).
			Msg("idle phase changed")
	}

	if w.onStatus != nil && (phaseChanged || st.Phase != PhaseActive) {
		w.onStatus(st)
	}

	if fireExpire {
		log.Info().Dur("idle", st.Idle).Msg("idle limit reached, forcing logout")
		if w.onExpire != nil {
			w.onExpire(ctx)
		}
	}
}

// Extend issues the authenticated heartbeat and, only if it succeeds,
// records activity — collapsing the phase back to Active on the next
// evaluation, including out of Expired. Concurrent calls while one is in
// flight are ignored.
func (w *Watcher) Extend(ctx context.Context) error {
	w.mu.Lock()
	if w.extending {
		w.mu.Unlock()
		return nil
	}
	w.extending = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.extending = false
		w.mu.Unlock()
	}()

	if w.heartbeat != nil {
		if err := w.heartbeat(ctx); err != nil {
			return fmt.Errorf("session extend failed: %w", err)
		}
	}

	w.monitor.Record()
	log.Debug().Msg("session extended")
	return nil
}

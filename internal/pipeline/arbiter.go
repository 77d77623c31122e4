package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zokiio/halfduplex-voice/internal/conditioner"
)

// Arbiter owns the half-duplex mode. Observe must be called from a single
// context, one decoded frame at a time. The device handoff runs under a
// mutex that capture also takes through Exclusive, so a capture read never
// interleaves with a switch.
type Arbiter struct {
	cfg   ArbiterConfig
	sw    Switch
	sleep func(time.Duration)
	log   zerolog.Logger

	// OnTransition is called after every committed mode change.
	OnTransition func(from, to DeviceMode)

	mu     sync.Mutex
	mode   atomic.Int32
	silent atomic.Int64
	active atomic.Int64
}

// NewArbiter creates an arbiter in listening mode that switches paths
// through sw.
func NewArbiter(cfg ArbiterConfig, sw Switch, log zerolog.Logger) *Arbiter {
	return &Arbiter{
		cfg:   cfg,
		sw:    sw,
		sleep: time.Sleep,
		log:   log,
	}
}

func (a *Arbiter) Mode() DeviceMode {
	return DeviceMode(a.mode.Load())
}

func (a *Arbiter) State() ActivityState {
	return ActivityState{
		ConsecutiveSilentFrames: int(a.silent.Load()),
		ConsecutiveActiveFrames: int(a.active.Load()),
		Mode:                    a.Mode(),
	}
}

// Exclusive runs fn with the current mode while no handoff can start.
func (a *Arbiter) Exclusive(fn func(mode DeviceMode)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.Mode())
}

// Observe updates the hysteresis counters from one decoded frame, commits a
// transition when a threshold is met, and returns the resulting mode.
func (a *Arbiter) Observe(frame []int16) DeviceMode {
	if conditioner.IsActive(frame, a.cfg.NoiseFloor) {
		a.silent.Store(0)
		n := saturatingInc(&a.active)
		if a.Mode() == Listening && n >= int64(a.cfg.ConfirmFrames) {
			a.commit(Speaking)
		}
		return a.Mode()
	}

	a.active.Store(0)
	n := saturatingInc(&a.silent)
	if a.Mode() == Speaking && n >= int64(a.cfg.SilenceFrames) {
		a.commit(Listening)
	}
	return a.Mode()
}

// commit hands the transducer over: deactivate the current path, settle,
// activate the other path, then publish the new mode. A failed deactivate
// aborts so both paths are never live together. A failed activate restores
// the previous path. Either way the counters stay past threshold and the
// next frame retries.
func (a *Arbiter) commit(to DeviceMode) {
	a.mu.Lock()
	defer a.mu.Unlock()

	from := a.Mode()
	if from == to {
		return
	}

	deactivate, activate, restore := a.sw.DeactivateOutput, a.sw.ActivateInput, a.sw.ActivateOutput
	if to == Speaking {
		deactivate, activate, restore = a.sw.DeactivateInput, a.sw.ActivateOutput, a.sw.ActivateInput
	}

	if err := deactivate(); err != nil {
		a.log.Error().Err(err).Stringer("from", from).Stringer("to", to).Msg("handoff aborted: deactivate failed")
		return
	}
	if a.cfg.Settle > 0 {
		a.sleep(a.cfg.Settle)
	}
	if err := activate(); err != nil {
		a.log.Error().Err(err).Stringer("from", from).Stringer("to", to).Msg("handoff failed: activate failed, restoring")
		if rerr := restore(); rerr != nil {
			a.log.Error().Err(rerr).Stringer("mode", from).Msg("restore after failed handoff")
		}
		return
	}

	a.mode.Store(int32(to))
	a.log.Info().Stringer("from", from).Stringer("to", to).Msg("mode transition")
	if a.OnTransition != nil {
		a.OnTransition(from, to)
	}
}

func saturatingInc(v *atomic.Int64) int64 {
	n := v.Load()
	if n < 1<<30 {
		n++
		v.Store(n)
	}
	return n
}

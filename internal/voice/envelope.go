package voice

import "github.com/cbegin/visynth-go/internal/control"

// ADSR holds envelope timing in seconds and the sustain level as a ratio of
// the attack peak. One live instance is shared across all voices; schedule
// calls read it at note-event time, so a parameter change affects only
// future notes.
type ADSR struct {
	Attack  float64
	Decay   float64
	Sustain float64
	Release float64
}

func DefaultADSR() ADSR {
	return ADSR{Attack: 0.01, Decay: 0.12, Sustain: 0.7, Release: 0.3}
}

// Stage floors. Supplied values below these are clamped up; instantaneous
// gain changes are audible clicks.
const (
	minAttack  = 0.003
	minDecay   = 0.003
	minRelease = 0.015

	// releaseFloor is the resting gain of an idle voice. Never hard zero:
	// oscillators stay running between notes.
	releaseFloor = 1e-4
)

// ScheduleAttackDecay ramps amp from its current value to peak over the
// attack, then down to the sustain level over the decay. The in-flight curve
// is held at t0 first, so rapid retriggering never snaps to zero.
func ScheduleAttackDecay(amp *control.Param, t0 float64, env ADSR, peak float64) {
	a := env.Attack
	if a < minAttack {
		a = minAttack
	}
	d := env.Decay
	if d < minDecay {
		d = minDecay
	}
	sustain := peak * clamp(env.Sustain, 0, 1)
	if sustain < releaseFloor {
		sustain = releaseFloor
	}
	amp.CancelAndHoldAt(t0)
	amp.LinearRampTo(peak, t0+a)
	amp.LinearRampTo(sustain, t0+a+d)
}

// ScheduleRelease ramps amp from its current value down to the release floor.
func ScheduleRelease(amp *control.Param, t0 float64, env ADSR) {
	r := env.Release
	if r < minRelease {
		r = minRelease
	}
	amp.CancelAndHoldAt(t0)
	amp.LinearRampTo(releaseFloor, t0+r)
}

// ScheduleSilence forces amp to the floor over the minimum release time,
// bypassing the configured release. Used for panic/all-off.
func ScheduleSilence(amp *control.Param, t0 float64) {
	amp.CancelAndHoldAt(t0)
	amp.LinearRampTo(releaseFloor, t0+minRelease)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

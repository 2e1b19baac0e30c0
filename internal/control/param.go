// Package control implements sample-clock scheduled control values.
//
// A Param is a piecewise-linear automation curve: operations are scheduled
// against the audio clock and the audio thread evaluates the curve per
// sample. CancelAndHoldAt samples the in-flight curve before discarding
// future points, so a reschedule never introduces a value discontinuity.
package control

import "sync"

type eventKind int

const (
	kindSet  eventKind = iota // step to value at time
	kindRamp                  // linear ramp from the previous event to (time, value)
)

type event struct {
	time  float64
	value float64
	kind  eventKind
}

// Param is a scheduled control value. Safe for concurrent use: the control
// path schedules, the audio thread renders.
type Param struct {
	mu      sync.Mutex
	initial float64
	events  []event
}

func NewParam(initial float64) *Param {
	return &Param{initial: initial}
}

// SetValueAt schedules an instantaneous step at time t.
func (p *Param) SetValueAt(v, t float64) {
	p.mu.Lock()
	p.insert(event{time: t, value: v, kind: kindSet})
	p.mu.Unlock()
}

// LinearRampTo schedules a linear ramp ending at (t, v). The ramp starts at
// the previous scheduled event; anchor with SetValueAt or CancelAndHoldAt
// first for a defined start point.
func (p *Param) LinearRampTo(v, t float64) {
	p.mu.Lock()
	p.insert(event{time: t, value: v, kind: kindRamp})
	p.mu.Unlock()
}

// CancelAndHoldAt discards every scheduled point after t and pins the curve
// to its interpolated value at t. The held point is installed as a ramp end
// so the curve up to t is unchanged.
func (p *Param) CancelAndHoldAt(t float64) {
	p.mu.Lock()
	v := p.valueAtLocked(t)
	kept := p.events[:0]
	for _, ev := range p.events {
		if ev.time <= t {
			kept = append(kept, ev)
		}
	}
	p.events = kept
	p.insert(event{time: t, value: v, kind: kindRamp})
	p.mu.Unlock()
}

// ValueAt evaluates the curve at time t.
func (p *Param) ValueAt(t float64) float64 {
	p.mu.Lock()
	v := p.valueAtLocked(t)
	p.mu.Unlock()
	return v
}

// Render fills dst with per-sample values starting at time t0. Events fully
// in the past are pruned, keeping one anchor point.
func (p *Param) Render(dst []float64, t0, sampleRate float64) {
	p.mu.Lock()
	p.pruneBefore(t0)
	dt := 1.0 / sampleRate
	for i := range dst {
		dst[i] = p.valueAtLocked(t0 + float64(i)*dt)
	}
	p.mu.Unlock()
}

func (p *Param) insert(ev event) {
	i := len(p.events)
	for i > 0 && p.events[i-1].time > ev.time {
		i--
	}
	p.events = append(p.events, event{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = ev
}

func (p *Param) valueAtLocked(t float64) float64 {
	prevValue := p.initial
	prevTime := 0.0
	for _, ev := range p.events {
		if ev.time <= t {
			prevValue = ev.value
			prevTime = ev.time
			continue
		}
		// First future event. A ramp interpolates toward its endpoint; a
		// step holds the previous value until its time arrives.
		if ev.kind == kindRamp && ev.time > prevTime {
			frac := (t - prevTime) / (ev.time - prevTime)
			return prevValue + (ev.value-prevValue)*frac
		}
		return prevValue
	}
	return prevValue
}

func (p *Param) pruneBefore(t float64) {
	// Keep the latest event at or before t as the anchor for interpolation.
	anchor := -1
	for i, ev := range p.events {
		if ev.time <= t {
			anchor = i
		}
	}
	if anchor > 0 {
		p.events = append(p.events[:0], p.events[anchor:]...)
	}
}

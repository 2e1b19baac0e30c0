package arp

import (
	"math/rand"
	"sync"

	"github.com/cbegin/visynth-go/internal/notes"
)

// Gate is the minimal interface the arpeggiator drives. It is exposed by the
// voice pool; the arpeggiator never touches voice internals.
type Gate interface {
	NoteOn(midi int, when, velocity float64)
	NoteOff(midi int, when float64)
	Now() float64
}

// Pattern selects the step ordering derived from the captured chord.
type Pattern string

const (
	PatternUp     Pattern = "up"
	PatternDown   Pattern = "down"
	PatternUpDown Pattern = "updown"
	PatternRandom Pattern = "random"
	PatternChord  Pattern = "chord"
)

// Params is the arpeggiator's live parameter set.
type Params struct {
	On        bool
	Hold      bool
	Pattern   Pattern
	Octaves   int     // 1..4 octave spread
	GateRatio float64 // fraction of the step the note sounds
	Sync      bool    // tempo-synced vs free-rate
	BPM       float64
	Division  float64 // step length in beats when synced
	RateHz    float64 // steps per second when free
}

func DefaultParams() Params {
	return Params{
		Pattern:   PatternUp,
		Octaves:   1,
		GateRatio: 0.6,
		Sync:      true,
		BPM:       120,
		Division:  0.25,
		RateHz:    8,
	}
}

const (
	// lookaheadSec schedules steps this far ahead of the audio clock so the
	// polling tick's jitter never lands inside a step boundary.
	lookaheadSec = 0.080
	// minGapSec is the guaranteed silence before the next step.
	minGapSec  = 0.012
	minGateSec = 0.005
)

// Arpeggiator consumes note-hub events, captures chords, and drives a Gate
// with time-quantized steps. Tick is a bridge between the wall-clock input
// timeline and the audio clock: it tolerates an imprecise cadence because
// every step is scheduled relative to gate.Now(), never the call time.
type Arpeggiator struct {
	mu      sync.Mutex
	gate    Gate
	hub     *notes.Hub
	capture *Capture
	params  Params

	base     []int // captured chord, deterministic order
	velocity map[int]float64
	order    []int // pattern-expanded step order
	latched  map[int]bool

	running      bool
	stepIndex    int
	nextStepTime float64
	sounding     map[int]bool // notes with a scheduled gate on/off in flight

	rng      *rand.Rand
	unsub    func()
	disposed bool
}

func New(gate Gate, hub *notes.Hub) *Arpeggiator {
	a := &Arpeggiator{
		gate:     gate,
		hub:      hub,
		capture:  NewCapture(DefaultWindowMs, DefaultBucketMs),
		params:   DefaultParams(),
		velocity: make(map[int]float64),
		latched:  make(map[int]bool),
		sounding: make(map[int]bool),
		rng:      rand.New(rand.NewSource(1)),
	}
	a.unsub = hub.On(a.onHubEvent)
	return a
}

func (a *Arpeggiator) onHubEvent(ev notes.Event) {
	if ev.Source == "arp" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed || !a.params.On {
		return
	}
	switch ev.Kind {
	case notes.NoteOn:
		tMs := ev.Time * 1000
		if !a.capture.Active() {
			a.capture.Begin(tMs)
		}
		a.capture.Push(ev.MIDI, tMs)
		a.velocity[ev.MIDI] = ev.Velocity
	case notes.NoteOff:
		if a.params.Hold {
			return
		}
		// Drop the released note, preserving the others' order.
		a.base = MergeEditOne(a.base, a.liveHeldLocked(), nil)
		a.rebuildOrderLocked()
	}
}

// SetParams replaces the live parameter set, applying transition rules:
// pattern/octave changes rebuild the step order, disabling hold re-derives
// the chord from the live held set, and disabling the arpeggiator entirely
// forces a panic-off. Tempo changes retime only future steps — the already
// scheduled nextStepTime is left alone so there is no discontinuous jump.
func (a *Arpeggiator) SetParams(p Params) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.params
	a.params = p

	if prev.On && !p.On {
		a.panicOffLocked(a.gate.Now())
		return
	}
	if !prev.On && p.On {
		a.adoptHeldLocked()
		return
	}
	if prev.Hold && !p.Hold {
		a.latched = make(map[int]bool)
		a.base = MergeEditOne(a.base, a.liveHeldLocked(), nil)
		a.rebuildOrderLocked()
		return
	}
	if prev.Pattern != p.Pattern || prev.Octaves != p.Octaves {
		a.rebuildOrderLocked()
	}
}

func (a *Arpeggiator) Params() Params {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// Tick runs one scheduler pass: finalize an elapsed capture window, then
// schedule every step that falls inside the lookahead window. Call at a
// fixed short interval (~25ms); bounded catch-up makes the cadence
// non-critical.
func (a *Arpeggiator) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return
	}
	now := a.gate.Now()

	if a.capture.Elapsed(now * 1000) {
		a.mergeCaptureLocked(a.capture.Finalize())
	}

	if !a.params.On || len(a.order) == 0 {
		a.running = false
		return
	}
	if !a.running {
		a.running = true
		a.nextStepTime = now
	}
	for a.nextStepTime < now+lookaheadSec {
		a.triggerStepLocked(a.nextStepTime)
		a.nextStepTime += a.stepDurationLocked()
	}
}

// Running reports whether the step scheduler is active.
func (a *Arpeggiator) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Order returns a copy of the current pattern-expanded step order.
func (a *Arpeggiator) Order() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, len(a.order))
	copy(out, a.order)
	return out
}

// PanicOff forces every scheduled and latched note off and drops the
// captured chord, hold included. The arpeggiator stays enabled; the next
// capture starts from nothing.
func (a *Arpeggiator) PanicOff() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return
	}
	a.panicOffLocked(a.gate.Now())
}

// Dispose unsubscribes from the hub and panics all notes off. Idempotent;
// no step is scheduled afterwards.
func (a *Arpeggiator) Dispose() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed {
		return
	}
	a.panicOffLocked(a.gate.Now())
	a.disposed = true
	if a.unsub != nil {
		a.unsub()
		a.unsub = nil
	}
}

// adoptHeldLocked seeds the chord from the notes already down in the hub,
// so enabling the arpeggiator mid-hold starts sequencing without a fresh
// press. Note-ons that arrived while the arpeggiator was off never reached
// the capture path, hence the snapshot.
func (a *Arpeggiator) adoptHeldLocked() {
	snap := a.hub.Snapshot(a.gate.Now())
	base := make([]int, 0, len(snap.Held))
	for _, h := range snap.Held {
		external := false
		for _, s := range h.Sources {
			if s != "arp" {
				external = true
			}
		}
		if !external {
			continue
		}
		base = append(base, h.MIDI)
		a.velocity[h.MIDI] = h.Velocity
	}
	a.base = base
	if a.params.Hold {
		a.latched = make(map[int]bool, len(base))
		for _, m := range base {
			a.latched[m] = true
		}
	}
	a.rebuildOrderLocked()
}

func (a *Arpeggiator) liveHeldLocked() map[int]bool {
	snap := a.hub.Snapshot(a.gate.Now())
	held := make(map[int]bool, len(snap.Held))
	for _, h := range snap.Held {
		ok := false
		for _, s := range h.Sources {
			if s != "arp" {
				ok = true
			}
		}
		if ok {
			held[h.MIDI] = true
		}
	}
	return held
}

func (a *Arpeggiator) mergeCaptureLocked(captured []int) {
	if len(captured) == 0 {
		return
	}
	held := a.liveHeldLocked()
	if a.params.Hold {
		if len(a.base) == 0 || !anyHeld(a.latched, held) {
			// Fresh latch: the new chord replaces the old one.
			a.base = captured
		} else {
			union := make(map[int]bool, len(held)+len(captured))
			for m := range held {
				union[m] = true
			}
			for _, m := range captured {
				union[m] = true
			}
			a.base = MergeEditOne(a.base, union, captured)
		}
		a.latched = make(map[int]bool, len(a.base))
		for _, m := range a.base {
			a.latched[m] = true
		}
	} else {
		a.base = MergeEditOne(a.base, held, captured)
	}
	a.rebuildOrderLocked()
}

func anyHeld(latched, held map[int]bool) bool {
	for m := range latched {
		if held[m] {
			return true
		}
	}
	return false
}

// rebuildOrderLocked expands the base chord across the octave spread and
// applies the pattern. Random shuffles once per rebuild, not per step.
func (a *Arpeggiator) rebuildOrderLocked() {
	octaves := a.params.Octaves
	if octaves < 1 {
		octaves = 1
	}
	expanded := make([]int, 0, len(a.base)*octaves)
	for oct := 0; oct < octaves; oct++ {
		for _, m := range a.base {
			n := m + 12*oct
			if n <= 127 {
				expanded = append(expanded, n)
			}
		}
	}
	switch a.params.Pattern {
	case PatternDown:
		for i, j := 0, len(expanded)-1; i < j; i, j = i+1, j-1 {
			expanded[i], expanded[j] = expanded[j], expanded[i]
		}
	case PatternUpDown:
		if len(expanded) > 2 {
			down := make([]int, 0, len(expanded)-2)
			for i := len(expanded) - 2; i >= 1; i-- {
				down = append(down, expanded[i])
			}
			expanded = append(expanded, down...)
		}
	case PatternRandom:
		a.rng.Shuffle(len(expanded), func(i, j int) {
			expanded[i], expanded[j] = expanded[j], expanded[i]
		})
	}
	a.order = expanded
	if len(a.order) == 0 {
		a.stepIndex = 0
		a.running = false
		return
	}
	if a.stepIndex >= len(a.order) {
		a.stepIndex = 0
	}
}

func (a *Arpeggiator) stepDurationLocked() float64 {
	p := a.params
	var d float64
	if p.Sync {
		bpm := p.BPM
		if bpm <= 0 {
			bpm = 120
		}
		div := p.Division
		if div <= 0 {
			div = 0.25
		}
		d = 60.0 / bpm * div
	} else {
		rate := p.RateHz
		if rate <= 0 {
			rate = 8
		}
		d = 1.0 / rate
	}
	// A step must fit the minimum gate plus the pre-step gap. Extreme rate
	// settings stretch the step rather than shrink the gap.
	if d < minGateSec+minGapSec {
		d = minGateSec + minGapSec
	}
	return d
}

func (a *Arpeggiator) triggerStepLocked(when float64) {
	stepDur := a.stepDurationLocked()
	gateDur := stepDur * a.params.GateRatio
	if gateDur > stepDur-minGapSec {
		gateDur = stepDur - minGapSec
	}
	if gateDur < minGateSec {
		gateDur = minGateSec
	}
	fire := func(m int) {
		// Octave-expanded notes inherit the base note's velocity.
		vel := 0.0
		for b := m; b >= 0 && vel <= 0; b -= 12 {
			vel = a.velocity[b]
		}
		if vel <= 0 {
			vel = 1
		}
		a.gate.NoteOn(m, when, vel)
		a.gate.NoteOff(m, when+gateDur)
		a.sounding[m] = true
	}
	if a.params.Pattern == PatternChord {
		for _, m := range a.order {
			fire(m)
		}
	} else {
		fire(a.order[a.stepIndex])
		a.stepIndex = (a.stepIndex + 1) % len(a.order)
	}
}

// panicOffLocked forces everything off: scheduled notes, latched notes, and
// anything in a fresh hub snapshot, covering notes that raced a parameter
// change against the scheduler tick.
func (a *Arpeggiator) panicOffLocked(now float64) {
	for m := range a.sounding {
		a.gate.NoteOff(m, now)
	}
	for m := range a.latched {
		a.gate.NoteOff(m, now)
	}
	snap := a.hub.Snapshot(now)
	for _, h := range snap.Held {
		a.gate.NoteOff(h.MIDI, now)
	}
	a.sounding = make(map[int]bool)
	a.latched = make(map[int]bool)
	a.base = nil
	a.order = nil
	a.stepIndex = 0
	a.running = false
	a.capture.Cancel()
}

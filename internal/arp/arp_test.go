package arp

import (
	"reflect"
	"testing"

	"github.com/cbegin/visynth-go/internal/notes"
)

type gateCall struct {
	midi     int
	when     float64
	velocity float64
}

type fakeGate struct {
	now  float64
	ons  []gateCall
	offs []gateCall
}

func (g *fakeGate) NoteOn(midi int, when, velocity float64) {
	g.ons = append(g.ons, gateCall{midi, when, velocity})
}
func (g *fakeGate) NoteOff(midi int, when float64) {
	g.offs = append(g.offs, gateCall{midi: midi, when: when})
}
func (g *fakeGate) Now() float64 { return g.now }

func newTestArp(p Params) (*Arpeggiator, *fakeGate, *notes.Hub) {
	gate := &fakeGate{}
	hub := notes.NewHub()
	a := New(gate, hub)
	p.On = true
	a.SetParams(p)
	return a, gate, hub
}

func press(hub *notes.Hub, gate *fakeGate, midis ...int) {
	for _, m := range midis {
		hub.NoteOn(m, 1, gate.now, "keyboard")
	}
}

func finalizeCapture(a *Arpeggiator, gate *fakeGate) {
	gate.now += 0.1 // past the 90ms window
	a.Tick()
}

func TestUpDownExpansionHasNoDuplicateEndpoints(t *testing.T) {
	p := DefaultParams()
	p.Pattern = PatternUpDown
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60, 64, 67)
	finalizeCapture(a, gate)
	if got := a.Order(); !reflect.DeepEqual(got, []int{60, 64, 67, 64}) {
		t.Fatalf("updown order = %v, want [60 64 67 64]", got)
	}
}

func TestDownAndOctaveExpansion(t *testing.T) {
	p := DefaultParams()
	p.Pattern = PatternDown
	p.Octaves = 2
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60, 64)
	finalizeCapture(a, gate)
	if got := a.Order(); !reflect.DeepEqual(got, []int{76, 72, 64, 60}) {
		t.Fatalf("down 2-octave order = %v", got)
	}
}

func TestRandomShufflesOncePerRebuildNotPerStep(t *testing.T) {
	p := DefaultParams()
	p.Pattern = PatternRandom
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60, 62, 64, 65, 67, 69)
	finalizeCapture(a, gate)
	first := a.Order()
	gate.now += 0.5
	a.Tick()
	if !reflect.DeepEqual(first, a.Order()) {
		t.Fatal("order reshuffled between steps")
	}
}

func TestTickSchedulesWithinLookahead(t *testing.T) {
	p := DefaultParams()
	p.Sync = true
	p.BPM = 120
	p.Division = 0.25 // 125ms per step
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60)
	finalizeCapture(a, gate)
	if len(gate.ons) == 0 {
		t.Fatal("expected at least one scheduled step")
	}
	horizon := gate.now + lookaheadSec
	for _, on := range gate.ons {
		if on.when >= horizon {
			t.Fatalf("step at %f beyond lookahead horizon %f", on.when, horizon)
		}
	}
	// Steps are scheduled against the audio clock, in order.
	for i := 1; i < len(gate.ons); i++ {
		if gate.ons[i].when <= gate.ons[i-1].when {
			t.Fatal("steps not strictly increasing")
		}
	}
}

func TestGateLeavesGapBeforeNextStep(t *testing.T) {
	p := DefaultParams()
	p.Sync = false
	p.RateHz = 10 // 100ms steps
	p.GateRatio = 1.0
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60)
	finalizeCapture(a, gate)
	for i := 0; i < 20; i++ {
		gate.now += 0.025
		a.Tick()
	}
	if len(gate.ons) < 2 || len(gate.offs) < 1 {
		t.Fatalf("expected several steps, ons=%d offs=%d", len(gate.ons), len(gate.offs))
	}
	step := 0.1
	for i, off := range gate.offs {
		if i >= len(gate.ons) {
			break
		}
		gap := (gate.ons[i].when + step) - off.when
		if gap < minGapSec-1e-9 {
			t.Fatalf("gate leaves only %fms before next step", gap*1000)
		}
	}
}

func TestChordPatternFiresAllNotesTogether(t *testing.T) {
	p := DefaultParams()
	p.Pattern = PatternChord
	p.Sync = false
	p.RateHz = 2 // 500ms: exactly one step inside the lookahead
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60, 64, 67)
	finalizeCapture(a, gate)
	if len(gate.ons) != 3 {
		t.Fatalf("chord step should fire 3 notes, got %d", len(gate.ons))
	}
	for _, on := range gate.ons[1:] {
		if on.when != gate.ons[0].when {
			t.Fatal("chord notes must share a step time")
		}
	}
}

func TestDisableForcesEverythingOff(t *testing.T) {
	p := DefaultParams()
	p.Hold = true
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60, 64, 67)
	finalizeCapture(a, gate)
	for i := 0; i < 4; i++ {
		gate.now += 0.025
		a.Tick()
	}
	onsBefore := len(gate.ons)
	if onsBefore == 0 {
		t.Fatal("expected steps before disable")
	}

	panicAt := gate.now
	p.On = false
	a.SetParams(p)

	// Every sounding/latched note got an off at the panic time.
	offAtPanic := map[int]bool{}
	for _, off := range gate.offs {
		if off.when == panicAt {
			offAtPanic[off.midi] = true
		}
	}
	for _, m := range []int{60, 64, 67} {
		if !offAtPanic[m] {
			t.Errorf("note %d not forced off at panic", m)
		}
	}

	// No further steps after the panic.
	for i := 0; i < 10; i++ {
		gate.now += 0.025
		a.Tick()
	}
	if len(gate.ons) != onsBefore {
		t.Fatalf("scheduler fired %d steps after panic", len(gate.ons)-onsBefore)
	}
	if a.Running() {
		t.Fatal("scheduler should be idle after panic")
	}
}

func TestHoldLatchesThroughRelease(t *testing.T) {
	p := DefaultParams()
	p.Hold = true
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60, 64)
	finalizeCapture(a, gate)
	hub.NoteOff(60, gate.now, "keyboard")
	hub.NoteOff(64, gate.now, "keyboard")
	gate.now += 0.2
	a.Tick()
	if len(a.Order()) != 2 {
		t.Fatalf("held chord should keep playing, order=%v", a.Order())
	}

	// Disabling hold with nothing held clears the chord and idles.
	p.On = true
	p.Hold = false
	a.SetParams(p)
	if len(a.Order()) != 0 {
		t.Fatalf("disabling hold should drop released notes, order=%v", a.Order())
	}
}

func TestNonHoldReleaseRemovesNotePreservingOrder(t *testing.T) {
	p := DefaultParams()
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60, 64, 67)
	finalizeCapture(a, gate)
	hub.NoteOff(64, gate.now, "keyboard")
	if got := a.Order(); !reflect.DeepEqual(got, []int{60, 67}) {
		t.Fatalf("order after release = %v", got)
	}
}

func TestDisposeIdempotentAndSilent(t *testing.T) {
	p := DefaultParams()
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60)
	finalizeCapture(a, gate)
	a.Dispose()
	ons := len(gate.ons)
	a.Dispose() // double-dispose must not panic
	gate.now += 1
	a.Tick()
	if len(gate.ons) != ons {
		t.Fatal("disposed arpeggiator scheduled a step")
	}
}

func TestEnableMidHoldAdoptsHeldChord(t *testing.T) {
	gate := &fakeGate{}
	hub := notes.NewHub()
	a := New(gate, hub)
	hub.NoteOn(60, 0.9, 0, "keyboard")
	hub.NoteOn(64, 0.8, 0, "keyboard")

	p := DefaultParams()
	p.On = true
	a.SetParams(p)
	if got := a.Order(); !reflect.DeepEqual(got, []int{60, 64}) {
		t.Fatalf("order after enabling mid-hold = %v, want [60 64]", got)
	}

	a.Tick()
	if len(gate.ons) == 0 {
		t.Fatal("adopted chord scheduled no steps")
	}
	if gate.ons[0].midi != 60 || gate.ons[0].velocity != 0.9 {
		t.Fatalf("adopted note lost identity or velocity: %+v", gate.ons[0])
	}
}

func TestEnableWithHoldLatchesAdoptedChord(t *testing.T) {
	gate := &fakeGate{}
	hub := notes.NewHub()
	a := New(gate, hub)
	hub.NoteOn(60, 1, 0, "keyboard")
	hub.NoteOn(64, 1, 0, "keyboard")

	p := DefaultParams()
	p.On = true
	p.Hold = true
	a.SetParams(p)

	hub.NoteOff(60, 0.01, "keyboard")
	hub.NoteOff(64, 0.01, "keyboard")
	if got := a.Order(); !reflect.DeepEqual(got, []int{60, 64}) {
		t.Fatalf("latched order lost on release = %v", got)
	}
}

func TestPanicOffStopsLatchedSequencer(t *testing.T) {
	p := DefaultParams()
	p.Hold = true
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60, 64)
	finalizeCapture(a, gate)
	hub.NoteOff(60, gate.now, "keyboard")
	hub.NoteOff(64, gate.now, "keyboard")
	gate.now += 0.05
	a.Tick()
	if len(gate.ons) == 0 {
		t.Fatal("latched sequence should be running")
	}

	panicAt := gate.now
	a.PanicOff()
	onsAtPanic := len(gate.ons)

	for _, m := range []int{60, 64} {
		found := false
		for _, off := range gate.offs {
			if off.midi == m && off.when == panicAt {
				found = true
			}
		}
		if !found {
			t.Fatalf("latched note %d not released at panic time", m)
		}
	}

	gate.now += 0.5
	a.Tick()
	a.Tick()
	if len(gate.ons) != onsAtPanic {
		t.Fatalf("steps scheduled after panic: %+v", gate.ons[onsAtPanic:])
	}
	if a.Running() {
		t.Fatal("sequencer still running after panic")
	}
}

func TestExtremeRateKeepsPreStepGap(t *testing.T) {
	p := DefaultParams()
	p.BPM = 300
	p.Division = 0.0625 // 12.5ms nominal, shorter than gate floor plus gap
	p.GateRatio = 1.0
	a, gate, hub := newTestArp(p)
	press(hub, gate, 60)
	finalizeCapture(a, gate)
	for i := 0; i < 8; i++ {
		gate.now += 0.025
		a.Tick()
	}
	if len(gate.ons) < 3 {
		t.Fatalf("expected several steps, ons=%d", len(gate.ons))
	}
	for i := 0; i+1 < len(gate.ons) && i < len(gate.offs); i++ {
		if gap := gate.ons[i+1].when - gate.offs[i].when; gap < minGapSec-1e-9 {
			t.Fatalf("gap before step %d is %f, want >= %f", i+1, gap, minGapSec)
		}
	}
	if spacing := gate.ons[1].when - gate.ons[0].when; spacing < minGateSec+minGapSec-1e-9 {
		t.Fatalf("step spacing %f not stretched to fit gate and gap", spacing)
	}
}
